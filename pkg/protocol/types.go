package protocol

// Core ABI names and wire types shared between the host packages.
// The guest module is compiled against these names.

// ImportModule is the module name the host functions are exported under.
const ImportModule = "env"

// Host functions provided to the guest.
const (
	ImportProcExit     = "proc_exit"
	ImportRandomFill   = "random_fill"
	ImportScatterWrite = "scatter_write"
	ImportOutboundSend = "outbound_send"
)

// Exports the host requires from the guest.
const (
	ExportMemory         = "memory"
	ExportAllocate       = "allocate"
	ExportInit           = "init"
	ExportView           = "view"
	ExportHandleIncoming = "handle_incoming_message"
	ExportHandleDOMEvent = "handle_dom_event"
)

// RequiredExports lists every export checked at instantiation.
var RequiredExports = []string{
	ExportMemory,
	ExportAllocate,
	ExportInit,
	ExportView,
	ExportHandleIncoming,
	ExportHandleDOMEvent,
}

// Errno is the status code returned by host functions.
type Errno uint32

const (
	ErrnoSuccess  Errno = 0
	ErrnoNoMemory Errno = 5
	ErrnoNoSource Errno = 8
	ErrnoFault    Errno = 21
	ErrnoIO       Errno = 29
)

// String returns the symbolic name of the errno.
func (e Errno) String() string {
	switch e {
	case ErrnoSuccess:
		return "success"
	case ErrnoNoMemory:
		return "no_memory"
	case ErrnoNoSource:
		return "no_source"
	case ErrnoFault:
		return "fault"
	case ErrnoIO:
		return "io"
	default:
		return "unknown"
	}
}

// EventRequest is the body a UI client posts to fire an event on a rendered element.
type EventRequest struct {
	Handle string `json:"handle" binding:"required"`
	Event  string `json:"event" binding:"required"`
	// Value is the element's current value, for inputs.
	Value *string `json:"value,omitempty"`
	// Detail is an optional structured payload carried by the event.
	Detail any `json:"detail,omitempty"`
}
