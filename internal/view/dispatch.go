package view

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Dispatcher routes one event on one element to a guest callback.
type Dispatcher struct {
	CallbackID uint64
	Event      string
	Handle     string

	element  *html.Node
	renderer *Renderer
}

// Fire sends the event value to the guest and re-renders once.
// The value is the input's current value for input elements, otherwise
// the event detail, otherwise empty.
func (d *Dispatcher) Fire(ctx context.Context, ev Event) error {
	value, isInput := d.renderer.doc.inputValue(d.element)

	var payload []byte
	switch {
	case isInput:
		payload = []byte(value)
	case len(ev.Detail) > 0:
		payload = ev.Detail
	default:
		payload = []byte{}
	}

	d.renderer.logger.Debug("Dispatching event",
		zap.String("handle", d.Handle),
		zap.String("event", d.Event),
		zap.Uint64("callback_id", d.CallbackID),
		zap.Int("value_bytes", len(payload)),
	)

	if err := d.renderer.host.DispatchEvent(ctx, d.CallbackID, payload); err != nil {
		err = &EventError{Handle: d.Handle, Event: d.Event, CallbackID: d.CallbackID, Err: err}
		d.renderer.logger.Error("Event dispatch failed", zap.Error(err))
		return err
	}
	return d.renderer.Render(ctx)
}
