package view

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HandleAttr marks elements that carry event subscriptions.
const HandleAttr = "data-handle"

// Event is a UI event delivered to an element.
type Event struct {
	Type   string
	Detail []byte
}

// Document is the materialized UI: a root container whose children are
// rebuilt on every render.
type Document struct {
	mu       sync.RWMutex
	root     *html.Node
	bindings map[string]map[string]*Dispatcher
}

// NewDocument creates an empty document with root element <div id="rootID">.
func NewDocument(rootID string) *Document {
	root := &html.Node{
		Type:     html.ElementNode,
		Data:     atom.Div.String(),
		DataAtom: atom.Div,
		Attr:     []html.Attribute{{Key: "id", Val: rootID}},
	}
	return &Document{
		root:     root,
		bindings: make(map[string]map[string]*Dispatcher),
	}
}

// Replace discards every child of the root and installs tree with its
// subscriptions. A nil tree leaves the root empty.
func (d *Document) Replace(tree *html.Node, bindings map[string]map[string]*Dispatcher) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for c := d.root.FirstChild; c != nil; c = d.root.FirstChild {
		d.root.RemoveChild(c)
	}
	if tree != nil {
		d.root.AppendChild(tree)
	}
	if bindings == nil {
		bindings = make(map[string]map[string]*Dispatcher)
	}
	d.bindings = bindings
}

// HTML renders the root element and its subtree.
func (d *Document) HTML() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Handles returns the handles of every element with subscriptions.
func (d *Document) Handles() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var handles []string
	d.selection().Find("[" + HandleAttr + "]").Each(func(_ int, s *goquery.Selection) {
		if h, ok := s.Attr(HandleAttr); ok {
			handles = append(handles, h)
		}
	})
	return handles
}

// SetValue sets the current value of the input element with handle.
func (d *Document) SetValue(handle, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	node := d.find(handle)
	if node == nil {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	setAttr(node, "value", value)
	return nil
}

// Fire delivers ev to the subscription of the element with handle.
func (d *Document) Fire(ctx context.Context, handle string, ev Event) error {
	d.mu.RLock()
	events, ok := d.bindings[handle]
	var disp *Dispatcher
	if ok {
		disp = events[ev.Type]
	}
	d.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if disp == nil {
		return fmt.Errorf("%w: %s on %s", ErrNoSubscription, ev.Type, handle)
	}
	return disp.Fire(ctx, ev)
}

// inputValue returns the current value of n when n is an input element.
func (d *Document) inputValue(n *html.Node) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n.DataAtom != atom.Input {
		return "", false
	}
	v, _ := getAttr(n, "value")
	return v, true
}

func (d *Document) selection() *goquery.Selection {
	return goquery.NewDocumentFromNode(d.root).Selection
}

func (d *Document) find(handle string) *html.Node {
	sel := d.selection().Find(fmt.Sprintf("[%s=%q]", HandleAttr, handle))
	if sel.Length() == 0 {
		return nil
	}
	return sel.Get(0)
}

func getAttr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// setAttr overwrites key in place, or appends it.
func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
