package uiserver

import "html/template"

// pageTemplate wraps the rendered fragment. The script forwards click,
// input and change events on handled elements to POST /events and swaps
// in the fragment that comes back.
var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
{{.Fragment}}
<script>
(function () {
  var rootID = {{.RootID}};
  function send(ev) {
    var el = ev.target.closest("[data-handle]");
    if (!el) { return; }
    var body = {handle: el.getAttribute("data-handle"), event: ev.type};
    if (el.tagName === "INPUT") { body.value = el.value; }
    fetch("events", {
      method: "POST",
      headers: {"Content-Type": "application/json"},
      body: JSON.stringify(body)
    }).then(function (resp) {
      if (!resp.ok) { return null; }
      return resp.text();
    }).then(function (fragment) {
      if (fragment === null) { return; }
      var root = document.getElementById(rootID);
      var focused = document.activeElement && document.activeElement.getAttribute("data-handle");
      root.outerHTML = fragment;
      if (focused) {
        var again = document.querySelector('[data-handle="' + focused + '"]');
        if (again) { again.focus(); }
      }
    });
  }
  ["click", "input", "change"].forEach(function (type) {
    document.addEventListener(type, send);
  });
})();
</script>
</body>
</html>
`))
