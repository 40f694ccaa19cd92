// Package wasmtest provides guest module fixtures written in WAT for tests
// that need a real module behind the host.
package wasmtest

import (
	"testing"

	"github.com/wippyai/wasm-runtime/wat"
)

// Guest implements every required export plus helper exports used by tests:
//
//	set_view(i64)           stores the slice returned by view
//	exit(i32)               calls proc_exit
//	fill(i32, i32) -> i32   calls random_fill
//	write(i32,i32,i32)->i32 calls scatter_write
//	send(i64)               calls outbound_send
//	fail_alloc(i32)         makes allocate return 0 while set
//	spin()                  loops forever
//	init_count, view_count, message_count, event_count -> i32
//	max_active -> i32       highest number of handlers seen running at once
//	last_event_id, last_event_slice -> i64
//
// handle_incoming_message echoes its payload through outbound_send.
// handle_dom_event fills one scratch byte at address 32 through random_fill.
const Guest = `(module
  (import "env" "proc_exit" (func $proc_exit (param i32)))
  (import "env" "random_fill" (func $random_fill (param i32 i32) (result i32)))
  (import "env" "scatter_write" (func $scatter_write (param i32 i32 i32) (result i32)))
  (import "env" "outbound_send" (func $outbound_send (param i64)))

  (memory (export "memory") 1)

  (global $heap (mut i32) (i32.const 4096))
  (global $fail (mut i32) (i32.const 0))
  (global $inits (mut i32) (i32.const 0))
  (global $views (mut i32) (i32.const 0))
  (global $messages (mut i32) (i32.const 0))
  (global $events (mut i32) (i32.const 0))
  (global $active (mut i32) (i32.const 0))
  (global $max_active (mut i32) (i32.const 0))
  (global $view (mut i64) (i64.const 0))
  (global $last_id (mut i64) (i64.const 0))
  (global $last_slice (mut i64) (i64.const 0))

  (func (export "allocate") (param $n i32) (result i32)
    (local $p i32)
    (if (global.get $fail)
      (then (return (i32.const 0))))
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $n)))
    (local.get $p))

  (func (export "init")
    (global.set $inits (i32.add (global.get $inits) (i32.const 1))))

  (func (export "view") (result i64)
    (global.set $views (i32.add (global.get $views) (i32.const 1)))
    (global.get $view))

  (func $enter
    (global.set $active (i32.add (global.get $active) (i32.const 1)))
    (if (i32.gt_u (global.get $active) (global.get $max_active))
      (then (global.set $max_active (global.get $active)))))

  (func $leave
    (global.set $active (i32.sub (global.get $active) (i32.const 1))))

  (func (export "handle_incoming_message") (param $s i64)
    (call $enter)
    (global.set $messages (i32.add (global.get $messages) (i32.const 1)))
    (call $outbound_send (local.get $s))
    (call $leave))

  (func (export "handle_dom_event") (param $id i64) (param $s i64)
    (call $enter)
    (global.set $events (i32.add (global.get $events) (i32.const 1)))
    (global.set $last_id (local.get $id))
    (global.set $last_slice (local.get $s))
    (drop (call $random_fill (i32.const 32) (i32.const 1)))
    (call $leave))

  (func (export "set_view") (param $s i64)
    (global.set $view (local.get $s)))

  (func (export "exit") (param $code i32)
    (call $proc_exit (local.get $code)))

  (func (export "fill") (param $p i32) (param $n i32) (result i32)
    (call $random_fill (local.get $p) (local.get $n)))

  (func (export "write") (param $iovs i32) (param $n i32) (param $out i32) (result i32)
    (call $scatter_write (local.get $iovs) (local.get $n) (local.get $out)))

  (func (export "send") (param $s i64)
    (call $outbound_send (local.get $s)))

  (func (export "fail_alloc") (param $v i32)
    (global.set $fail (local.get $v)))

  (func (export "spin")
    (loop $forever (br $forever)))

  (func (export "init_count") (result i32) (global.get $inits))
  (func (export "view_count") (result i32) (global.get $views))
  (func (export "message_count") (result i32) (global.get $messages))
  (func (export "event_count") (result i32) (global.get $events))
  (func (export "max_active") (result i32) (global.get $max_active))
  (func (export "last_event_id") (result i64) (global.get $last_id))
  (func (export "last_event_slice") (result i64) (global.get $last_slice))
)`

// MissingView is a guest without the view export.
const MissingView = `(module
  (memory (export "memory") 1)
  (func (export "allocate") (param i32) (result i32) (i32.const 1024))
  (func (export "init"))
  (func (export "handle_incoming_message") (param i64))
  (func (export "handle_dom_event") (param i64) (param i64))
)`

// ExitOnInit calls proc_exit(3) from init.
const ExitOnInit = `(module
  (import "env" "proc_exit" (func $proc_exit (param i32)))
  (memory (export "memory") 1)
  (func (export "allocate") (param i32) (result i32) (i32.const 1024))
  (func (export "init") (call $proc_exit (i32.const 3)))
  (func (export "view") (result i64) (i64.const 0))
  (func (export "handle_incoming_message") (param i64))
  (func (export "handle_dom_event") (param i64) (param i64))
)`

// WideWriter has three pages of memory and exposes scatter_write as
// write(i32,i32,i32)->i32.
const WideWriter = `(module
  (import "env" "scatter_write" (func $scatter_write (param i32 i32 i32) (result i32)))
  (memory (export "memory") 3)
  (func (export "allocate") (param i32) (result i32) (i32.const 1024))
  (func (export "init"))
  (func (export "view") (result i64) (i64.const 0))
  (func (export "handle_incoming_message") (param i64))
  (func (export "handle_dom_event") (param i64) (param i64))
  (func (export "write") (param $iovs i32) (param $n i32) (param $out i32) (result i32)
    (call $scatter_write (local.get $iovs) (local.get $n) (local.get $out)))
)`

// Compile turns WAT source into a module binary, failing the test on error.
func Compile(t testing.TB, source string) []byte {
	t.Helper()
	bin, err := wat.Compile(source)
	if err != nil {
		t.Fatalf("wat.Compile failed: %v", err)
	}
	return bin
}
