package view

import (
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Decode parses a view tree. Each node is an object with exactly one key:
//
//	{"Text": "hi"}
//	{"Input": {"attributes": [["key", "value"], ...]}}
//	{"Div": {"attributes": [...], "children": [...]}}
//	{"Button": {"attributes": [...], "children": [...]}}
//
// Missing attributes or children decode as empty.
func Decode(data []byte) (Node, error) {
	if !utf8.Valid(data) {
		return nil, &DecodeError{Path: "$", Reason: "not valid UTF-8"}
	}
	if !gjson.ValidBytes(data) {
		return nil, &DecodeError{Path: "$", Reason: "malformed JSON"}
	}
	return decodeNode(gjson.ParseBytes(data), "$")
}

func decodeNode(r gjson.Result, path string) (Node, error) {
	if !r.IsObject() {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("expected object, got %s", r.Type)}
	}

	var tag string
	var body gjson.Result
	keys := 0
	r.ForEach(func(key, value gjson.Result) bool {
		keys++
		tag, body = key.String(), value
		return true
	})
	if keys != 1 {
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("expected exactly one tag, got %d", keys)}
	}

	path = path + "." + tag
	switch tag {
	case "Text":
		if body.Type != gjson.String {
			return nil, &DecodeError{Path: path, Reason: "text content must be a string"}
		}
		return Text{Content: body.Str}, nil

	case "Input":
		if !body.IsObject() {
			return nil, &DecodeError{Path: path, Reason: "expected object"}
		}
		attrs, err := decodeAttributes(body.Get("attributes"), path+".attributes")
		if err != nil {
			return nil, err
		}
		return Input{Attributes: attrs}, nil

	case "Div", "Button":
		if !body.IsObject() {
			return nil, &DecodeError{Path: path, Reason: "expected object"}
		}
		attrs, err := decodeAttributes(body.Get("attributes"), path+".attributes")
		if err != nil {
			return nil, err
		}
		children, err := decodeChildren(body.Get("children"), path+".children")
		if err != nil {
			return nil, err
		}
		if tag == "Div" {
			return Div{Attributes: attrs, Children: children}, nil
		}
		return Button{Attributes: attrs, Children: children}, nil

	default:
		return nil, &DecodeError{Path: path, Reason: fmt.Sprintf("unknown node tag %q", tag)}
	}
}

func decodeAttributes(r gjson.Result, path string) ([]Attribute, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, &DecodeError{Path: path, Reason: "expected array of [key, value] pairs"}
	}

	items := r.Array()
	attrs := make([]Attribute, 0, len(items))
	for i, item := range items {
		pair := item.Array()
		if !item.IsArray() || len(pair) != 2 || pair[0].Type != gjson.String || pair[1].Type != gjson.String {
			return nil, &DecodeError{
				Path:   fmt.Sprintf("%s[%d]", path, i),
				Reason: "attribute must be a [key, value] pair of strings",
			}
		}
		attrs = append(attrs, Attribute{Key: pair[0].Str, Value: pair[1].Str})
	}
	return attrs, nil
}

func decodeChildren(r gjson.Result, path string) ([]Node, error) {
	if !r.Exists() || r.Type == gjson.Null {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, &DecodeError{Path: path, Reason: "expected array of nodes"}
	}

	items := r.Array()
	children := make([]Node, 0, len(items))
	for i, item := range items {
		child, err := decodeNode(item, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}
