package view

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownHandle  = errors.New("unknown element handle")
	ErrNoSubscription = errors.New("element has no subscription for event")
)

// DecodeError reports a view tree that does not match the node encoding.
type DecodeError struct {
	Path   string
	Reason string
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("view decode failed at %s: %s", e.Path, e.Reason)
}

// EventError wraps a failed dispatch to the guest.
type EventError struct {
	Handle     string
	Event      string
	CallbackID uint64
	Err        error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("dispatch of %s on %s (callback %d) failed: %v",
		e.Event, e.Handle, e.CallbackID, e.Err)
}

func (e *EventError) Unwrap() error {
	return e.Err
}
