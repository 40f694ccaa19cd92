package uiserver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/woxQAQ/wasm-bridge/internal/metrics"
	"github.com/woxQAQ/wasm-bridge/internal/view"
)

type dispatched struct {
	id    uint64
	value string
}

// guestStub answers view calls with a counter that each event advances.
type guestStub struct {
	mu       sync.Mutex
	count    int
	events   []dispatched
	eventErr error
}

func (g *guestStub) View(context.Context) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := string(rune('0' + g.count))
	return []byte(`{"Div":{"attributes":[["class","counter"]],"children":[
		{"Text":"` + n + `"},
		{"Button":{"attributes":[["onclick","7"]],"children":[{"Text":"+"}]}},
		{"Input":{"attributes":[["oninput","9"],["val","init"]]}}
	]}}`), nil
}

func (g *guestStub) DispatchEvent(_ context.Context, id uint64, value []byte) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.eventErr != nil {
		return g.eventErr
	}
	g.events = append(g.events, dispatched{id: id, value: string(value)})
	g.count++
	return nil
}

type testBackend struct {
	doc     *view.Document
	healthy error
}

func (b *testBackend) Document() *view.Document { return b.doc }
func (b *testBackend) Title() string            { return "Counter" }
func (b *testBackend) Healthy() error           { return b.healthy }

func setup(t *testing.T, cfg Config) (*Server, *guestStub, *testBackend) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zaptest.NewLogger(t)

	guest := &guestStub{}
	renderer := view.NewRenderer(guest, view.NewDocument("root"), logger)
	require.NoError(t, renderer.Render(context.Background()))

	backend := &testBackend{doc: renderer.Document()}
	cfg.RootID = "root"
	return New(backend, cfg, logger), guest, backend
}

func do(s *Server, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func parse(t *testing.T, body string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	require.NoError(t, err)
	return doc
}

func TestPage(t *testing.T) {
	s, _, _ := setup(t, Config{})

	w := do(s, http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, w.Code)

	doc := parse(t, w.Body.String())
	assert.Equal(t, "Counter", doc.Find("title").Text())
	assert.Equal(t, "0+", doc.Find("#root > div.counter").Text())
	assert.Equal(t, 2, doc.Find("[data-handle]").Length())
	assert.Contains(t, doc.Find("script").Text(), `"root"`)
}

func TestFragment(t *testing.T) {
	s, _, _ := setup(t, Config{})

	w := do(s, http.MethodGet, "/view", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.True(t, strings.HasPrefix(w.Body.String(), `<div id="root">`))
}

func TestEventClickRerenders(t *testing.T) {
	s, guest, _ := setup(t, Config{})

	w := do(s, http.MethodPost, "/events", `{"handle":"h0","event":"click"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, []dispatched{{id: 7, value: ""}}, guest.events)
	assert.Equal(t, "1+", parse(t, w.Body.String()).Find("div.counter").Text())
}

func TestEventInputSendsValue(t *testing.T) {
	s, guest, _ := setup(t, Config{})

	w := do(s, http.MethodPost, "/events", `{"handle":"h1","event":"input","value":"typed"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	assert.Equal(t, []dispatched{{id: 9, value: "typed"}}, guest.events)
}

func TestEventDetail(t *testing.T) {
	tests := []struct {
		name   string
		detail string
		want   string
	}{
		{"string passes through", `"raw"`, "raw"},
		{"object sent as json", `{"x":1}`, `{"x":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, guest, _ := setup(t, Config{})

			w := do(s, http.MethodPost, "/events", `{"handle":"h0","event":"click","detail":`+tt.detail+`}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			require.Len(t, guest.events, 1)
			assert.Equal(t, tt.want, guest.events[0].value)
		})
	}
}

func TestEventErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"malformed json", `{"handle":`, http.StatusBadRequest},
		{"missing event", `{"handle":"h0"}`, http.StatusBadRequest},
		{"unknown handle", `{"handle":"h9","event":"click"}`, http.StatusNotFound},
		{"unknown handle with value", `{"handle":"h9","event":"input","value":"x"}`, http.StatusNotFound},
		{"no subscription", `{"handle":"h0","event":"input"}`, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, guest, _ := setup(t, Config{})

			w := do(s, http.MethodPost, "/events", tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
			assert.Empty(t, guest.events)
		})
	}
}

func TestEventGuestFailure(t *testing.T) {
	s, guest, _ := setup(t, Config{})
	guest.eventErr = errors.New("trap")

	w := do(s, http.MethodPost, "/events", `{"handle":"h0","event":"click"}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "trap")
}

func TestHealth(t *testing.T) {
	s, _, backend := setup(t, Config{})

	w := do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	backend.healthy = errors.New("module 'guest' exited with code 1")
	w = do(s, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "exited")
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	s, _, _ := setup(t, Config{Metrics: m, Gatherer: reg})

	do(s, http.MethodGet, "/view", "")
	do(s, http.MethodGet, "/nope", "")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/view", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	w := do(s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wasm_bridge_http_requests_total")
}

func TestMetricsEndpointDisabled(t *testing.T) {
	s, _, _ := setup(t, Config{})

	w := do(s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunShutsDownOnCancel(t *testing.T) {
	s, _, _ := setup(t, Config{Listen: "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	cancel()
	assert.NoError(t, <-done)
}

func TestEventRateLimit(t *testing.T) {
	s, guest, _ := setup(t, Config{EventsPerSecond: 1, EventBurst: 1})

	w := do(s, http.MethodPost, "/events", `{"handle":"h0","event":"click"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(s, http.MethodPost, "/events", `{"handle":"h0","event":"click"}`)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Len(t, guest.events, 1)
}

func TestCORS(t *testing.T) {
	s, _, _ := setup(t, Config{AllowOrigins: []string{"http://localhost:5173"}})

	req := httptest.NewRequest(http.MethodOptions, "/events", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5173", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/view", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
