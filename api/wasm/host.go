//go:build !wasm

package wasm

import (
	"context"
)

// Guest is the host-side handle on one running guest application.
// Every method is serialized against the others.
type Guest interface {
	// Run the guest's handle_incoming_message export on a backend payload.
	DeliverMessage(ctx context.Context, payload []byte) error

	// Run handle_dom_event with the callback id from an on* attribute and
	// the event value.
	DispatchEvent(ctx context.Context, id uint64, value []byte) error

	// View returns a copy of the serialized view tree.
	View(ctx context.Context) ([]byte, error)

	// Err returns the terminal error once the guest exited, or nil.
	Err() error

	Close(ctx context.Context) error
}

// OutboundSink receives payloads the guest passes to outbound_send.
type OutboundSink interface {
	Send(payload []byte) error
}
