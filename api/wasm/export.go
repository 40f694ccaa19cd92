//go:build wasm

package wasm

// This file defines the Wasm export interface for guest applications.
// Guests must implement these functions using //go:wasmexport and import
// the host functions from module "env".
//
// NOTE: uint32 is used for pointers and lengths because WebAssembly uses a 32-bit
// linear memory model. A slice of guest memory crosses the boundary as one
// uint64: the low 32 bits hold the address and the high 32 bits the length.
// See: https://github.com/golang/go/issues/59156

// Exported functions that guests must implement (plus an exported "memory"):
//
// //go:wasmexport allocate
// func allocate(size uint32) uint32
//
// //go:wasmexport init
// func init_()
//
// //go:wasmexport view
// func view() uint64
//
// //go:wasmexport handle_incoming_message
// func handleIncomingMessage(slice uint64)
//
// //go:wasmexport handle_dom_event
// func handleDOMEvent(callbackID uint64, value uint64)

// Host functions available to guests:
//
// //go:wasmimport env proc_exit
// func procExit(code uint32)
//
// //go:wasmimport env random_fill
// func randomFill(ptr, length uint32) uint32
//
// //go:wasmimport env scatter_write
// func scatterWrite(iovs, iovsLen, outCount uint32) uint32
//
// //go:wasmimport env outbound_send
// func outboundSend(slice uint64)
