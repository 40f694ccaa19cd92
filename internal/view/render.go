package view

import (
	"context"
	"encoding/hex"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Host is the part of the module host the renderer drives.
type Host interface {
	View(ctx context.Context) ([]byte, error)
	DispatchEvent(ctx context.Context, id uint64, value []byte) error
}

// RenderObserver is called after every render attempt.
type RenderObserver func(elapsed time.Duration, err error)

// Renderer pulls the view tree from the guest and rebuilds the document.
type Renderer struct {
	host     Host
	doc      *Document
	logger   *zap.Logger
	observer RenderObserver

	// renders are serialized so a tree is never built from a stale view
	mu sync.Mutex
}

// NewRenderer creates a renderer drawing into doc.
func NewRenderer(host Host, doc *Document, logger *zap.Logger) *Renderer {
	return &Renderer{
		host:   host,
		doc:    doc,
		logger: logger.With(zap.String("component", "view")),
	}
}

// WithObserver sets a hook called after each render.
func (r *Renderer) WithObserver(fn RenderObserver) *Renderer {
	r.observer = fn
	return r
}

// Document returns the document the renderer draws into.
func (r *Renderer) Document() *Document {
	return r.doc
}

// Render fetches the current view and replaces the document contents.
// On failure the previous contents stay and the error is logged and
// returned.
func (r *Renderer) Render(ctx context.Context) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	defer func() {
		if r.observer != nil {
			r.observer(time.Since(start), err)
		}
	}()

	data, err := r.host.View(ctx)
	if err != nil {
		r.logger.Error("View call failed, skipping render", zap.Error(err))
		return err
	}

	tree, err := Decode(data)
	if err != nil {
		fields := []zap.Field{zap.Error(err), zap.Int("bytes", len(data))}
		if !utf8.Valid(data) {
			fields = append(fields, zap.String("hex", hex.Dump(data)))
		}
		r.logger.Error("View decode failed, skipping render", fields...)
		return err
	}

	b := &builder{renderer: r, bindings: make(map[string]map[string]*Dispatcher)}
	r.doc.Replace(b.build(tree), b.bindings)

	r.logger.Debug("Rendered view",
		zap.Int("bytes", len(data)),
		zap.Int("subscriptions", b.count),
	)
	return nil
}

// builder materializes one tree. Handles restart at h0 on every render.
type builder struct {
	renderer *Renderer
	bindings map[string]map[string]*Dispatcher
	next     int
	count    int
}

func (b *builder) build(n Node) *html.Node {
	switch n := n.(type) {
	case Text:
		return &html.Node{Type: html.TextNode, Data: n.Content}
	case Input:
		return b.element(atom.Input, n.Attributes, nil)
	case Div:
		return b.element(atom.Div, n.Attributes, n.Children)
	case Button:
		return b.element(atom.Button, n.Attributes, n.Children)
	default:
		return nil
	}
}

func (b *builder) element(a atom.Atom, attrs []Attribute, children []Node) *html.Node {
	el := &html.Node{Type: html.ElementNode, Data: a.String(), DataAtom: a}

	var subs []*Dispatcher
	for _, attr := range attrs {
		// HTML attribute names are case-insensitive.
		key := strings.ToLower(attr.Key)
		if !validAttrName(key) {
			b.renderer.logger.Warn("Invalid attribute name, attribute skipped",
				zap.String("key", attr.Key),
			)
			continue
		}

		switch {
		case key == HandleAttr:
			b.renderer.logger.Warn("Reserved attribute, attribute skipped",
				zap.String("key", attr.Key),
			)
		case key == "class":
			setAttr(el, "class", attr.Value)
		case key == "val" && a == atom.Input:
			setAttr(el, "value", attr.Value)
		case strings.HasPrefix(key, "on"):
			id, err := strconv.ParseUint(attr.Value, 10, 64)
			if err != nil {
				b.renderer.logger.Warn("Invalid callback id, attribute skipped",
					zap.String("key", attr.Key),
					zap.String("value", attr.Value),
					zap.Error(err),
				)
				continue
			}
			subs = append(subs, &Dispatcher{
				CallbackID: id,
				Event:      strings.TrimPrefix(key, "on"),
				element:    el,
				renderer:   b.renderer,
			})
		default:
			setAttr(el, key, attr.Value)
		}
	}

	if len(subs) > 0 {
		handle := "h" + strconv.Itoa(b.next)
		b.next++
		setAttr(el, HandleAttr, handle)

		events := make(map[string]*Dispatcher, len(subs))
		for _, d := range subs {
			d.Handle = handle
			events[d.Event] = d
		}
		b.bindings[handle] = events
		b.count += len(subs)
	}

	for _, child := range children {
		if c := b.build(child); c != nil {
			el.AppendChild(c)
		}
	}
	return el
}

// validAttrName accepts names that html.Render can write unquoted and
// unescaped: a letter, '_' or ':' followed by letters, digits, '-', '_',
// ':' or '.'.
func validAttrName(key string) bool {
	if key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		switch {
		case c >= 'a' && c <= 'z', c == '_', c == ':':
		case i > 0 && (c >= '0' && c <= '9' || c == '-' || c == '.'):
		default:
			return false
		}
	}
	return true
}
