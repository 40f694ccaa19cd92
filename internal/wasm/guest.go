package wasm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	apiwasm "github.com/woxQAQ/wasm-bridge/api/wasm"
	"github.com/woxQAQ/wasm-bridge/internal/slice"
	"github.com/woxQAQ/wasm-bridge/pkg/protocol"
)

var _ apiwasm.Guest = (*Host)(nil)

// CallObserver is notified after every guarded call into the module.
type CallObserver func(export string, elapsed time.Duration, err error)

// HostOptions configures a Host.
type HostOptions struct {
	// Defaults to the runtime's logger.
	Logger *zap.Logger

	// Instance ID; generated when empty.
	InstanceID string

	// Per-call deadline. Zero disables it.
	CallTimeout time.Duration

	// Receives every outbound_send payload.
	Outbound OutboundHandler

	// Replaces crypto/rand for random_fill.
	Random RandomSource

	// Observer is called after each export call, e.g. for metrics.
	Observer CallObserver
}

type callKey struct{}

// Host owns one instantiated guest module and serializes every interaction
// with it. Memory access and export calls share a single guard, so the module
// never sees more than one operation at a time.
type Host struct {
	mu       sync.Mutex
	instance *Instance
	memory   *Memory
	runtime  *Runtime

	logger   *zap.Logger
	timeout  time.Duration
	observer CallObserver

	inFlight atomic.Int32

	// set once the module exited or was torn down; returned by every later op
	dead atomic.Pointer[ExitError]
}

// NewHost instantiates compiled against the env import surface, checks the
// required exports and runs the guest's init export once.
func NewHost(ctx context.Context, runtime *Runtime, compiled *CompiledModule, opts HostOptions) (*Host, error) {
	base := opts.Logger
	if base == nil {
		base = runtime.base
	}
	logger := base.With(zap.String("component", "wasm-guest"))

	funcs := NewHostFunctions(base).WithOutbound(opts.Outbound)
	if opts.Random != nil {
		funcs.WithRandomSource(opts.Random)
	}

	runtime.StoreCompiledModule(compiled)
	manager := NewInstanceManager(runtime, funcs, base)

	instance, err := manager.Instantiate(ctx, &InstanceConfig{
		ModuleName: compiled.Name,
		InstanceID: opts.InstanceID,
	})
	if err != nil {
		return nil, err
	}

	h := &Host{
		instance: instance,
		memory:   NewMemory(instance.module),
		runtime:  runtime,
		logger:   logger.With(zap.String("instance_id", instance.ID)),
		timeout:  opts.CallTimeout,
		observer: opts.Observer,
	}

	if _, err := h.Call(ctx, protocol.ExportInit); err != nil {
		_ = h.Close(ctx)
		return nil, fmt.Errorf("guest init failed: %w", err)
	}

	h.logger.Info("Guest initialized", zap.String("module", compiled.Name))
	return h, nil
}

// ID returns the instance ID.
func (h *Host) ID() string {
	return h.instance.ID
}

// InFlight returns the number of guarded operations currently running: 0 or 1.
func (h *Host) InFlight() int {
	return int(h.inFlight.Load())
}

// Err returns the terminal error once the module has exited, or nil.
// It does not wait for a call in flight.
func (h *Host) Err() error {
	if dead := h.dead.Load(); dead != nil {
		return dead
	}
	return nil
}

// enter takes the guard. A call context that already holds the guard of this
// Host is rejected rather than deadlocking.
func (h *Host) enter(ctx context.Context) (context.Context, func(), error) {
	if owner, _ := ctx.Value(callKey{}).(*Host); owner == h {
		return nil, nil, ErrReentrantCall
	}

	h.mu.Lock()
	if dead := h.dead.Load(); dead != nil {
		h.mu.Unlock()
		return nil, nil, dead
	}
	h.inFlight.Add(1)

	return context.WithValue(ctx, callKey{}, h), func() {
		h.inFlight.Add(-1)
		h.mu.Unlock()
	}, nil
}

// Allocate asks the guest allocator for n bytes.
func (h *Host) Allocate(ctx context.Context, n uint32) (uint32, error) {
	ctx, leave, err := h.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()
	return h.allocate(ctx, n)
}

// ReadBytes copies n bytes at addr out of guest memory.
func (h *Host) ReadBytes(ctx context.Context, addr, n uint32) ([]byte, error) {
	_, leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return h.memory.ReadBytes(addr, n)
}

// WriteBytes allocates guest memory for data, copies it in and returns the
// address.
func (h *Host) WriteBytes(ctx context.Context, data []byte) (uint32, error) {
	ctx, leave, err := h.enter(ctx)
	if err != nil {
		return 0, err
	}
	defer leave()
	return h.writeBytes(ctx, data)
}

// Call invokes an export with raw parameters.
func (h *Host) Call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	ctx, leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()
	return h.call(ctx, export, params...)
}

// CallWithBytes copies data into guest memory and invokes export with the
// leading parameters followed by the packed slice, all in one turn.
func (h *Host) CallWithBytes(ctx context.Context, export string, data []byte, leading ...uint64) ([]uint64, error) {
	ctx, leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	addr, err := h.writeBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	packed, err := slice.Pack(uint64(addr), uint64(len(data)))
	if err != nil {
		return nil, err
	}

	params := make([]uint64, 0, len(leading)+1)
	params = append(params, leading...)
	params = append(params, packed)
	return h.call(ctx, export, params...)
}

// CallForBytes invokes export, which must return a packed slice, and copies
// the referenced bytes before releasing the guard.
func (h *Host) CallForBytes(ctx context.Context, export string, params ...uint64) ([]byte, error) {
	ctx, leave, err := h.enter(ctx)
	if err != nil {
		return nil, err
	}
	defer leave()

	results, err := h.call(ctx, export, params...)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("export '%s' returned no slice", export)
	}

	s := slice.Unpack(results[0])
	if s.Length == 0 {
		return []byte{}, nil
	}
	if s.IsNull() {
		return nil, &MemoryAccessError{
			Operation:  "read",
			Address:    s.Address,
			Length:     s.Length,
			MemorySize: h.memory.Size(),
			Err:        ErrOutOfBounds,
		}
	}
	return h.memory.ReadBytes(s.Address, s.Length)
}

// DeliverMessage hands an inbound transport message to the guest.
func (h *Host) DeliverMessage(ctx context.Context, payload []byte) error {
	_, err := h.CallWithBytes(ctx, protocol.ExportHandleIncoming, payload)
	return err
}

// DispatchEvent delivers a UI event for callback id with the given value.
func (h *Host) DispatchEvent(ctx context.Context, id uint64, value []byte) error {
	_, err := h.CallWithBytes(ctx, protocol.ExportHandleDOMEvent, value, id)
	return err
}

// View returns a copy of the guest's serialized view tree.
func (h *Host) View(ctx context.Context) ([]byte, error) {
	return h.CallForBytes(ctx, protocol.ExportView)
}

// Close tears down the instance. Later operations fail with ErrModuleExited.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dead.CompareAndSwap(nil, &ExitError{ModuleName: h.instance.Name})
	h.runtime.DeleteInstance(h.instance.ID)
	return h.instance.Close(ctx)
}

func (h *Host) allocate(ctx context.Context, n uint32) (uint32, error) {
	results, err := h.call(ctx, protocol.ExportAllocate, uint64(n))
	if err != nil {
		return 0, err
	}
	addr := uint32(results[0])
	if addr == 0 {
		return 0, ErrNullAllocation
	}
	return addr, nil
}

func (h *Host) writeBytes(ctx context.Context, data []byte) (uint32, error) {
	if len(data) == 0 {
		return 0, nil
	}
	addr, err := h.allocate(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if err := h.memory.WriteBytes(addr, data); err != nil {
		return 0, err
	}
	return addr, nil
}

// call must run under the guard.
func (h *Host) call(ctx context.Context, export string, params ...uint64) ([]uint64, error) {
	fn := h.instance.Function(export)
	if fn == nil {
		return nil, &FunctionNotFoundError{
			FunctionName: export,
			ModuleName:   h.instance.Name,
		}
	}

	// Once issued, a call runs to completion whatever happens to the
	// caller. Only the configured call timeout can stop it.
	ctx = context.WithoutCancel(ctx)
	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := fn.Call(ctx, params...)
	elapsed := time.Since(start)

	if err != nil {
		err = h.classify(export, err)
		h.logger.Error("Guest call failed",
			zap.String("export", export),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
	}
	if h.observer != nil {
		h.observer(export, elapsed, err)
	}
	return results, err
}

// classify turns wazero exit errors into terminal host errors. Traps
// are returned wrapped and leave the module usable.
func (h *Host) classify(export string, err error) error {
	var exitErr *sys.ExitError
	if !errors.As(err, &exitErr) {
		return fmt.Errorf("call '%s': %w", export, err)
	}

	// wazero has already closed the module: after proc_exit, or after the
	// call timeout when the runtime closes modules on context done.
	dead := &ExitError{ModuleName: h.instance.Name, ExitCode: exitErr.ExitCode()}
	h.dead.CompareAndSwap(nil, dead)

	if exitErr.ExitCode() == sys.ExitCodeDeadlineExceeded {
		return &TimeoutError{Function: export, Duration: h.timeout}
	}
	return dead
}
