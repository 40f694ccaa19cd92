package wasm

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	"github.com/woxQAQ/wasm-bridge/internal/slice"
	"github.com/woxQAQ/wasm-bridge/pkg/protocol"
)

// iovecSize is the byte size of one scatter_write descriptor: u32 address, u32 length.
const iovecSize = 8

// RandomSource fills b with cryptographically secure bytes.
type RandomSource func(b []byte) error

// OutboundHandler receives a copy of every message the module sends.
type OutboundHandler func(ctx context.Context, payload []byte)

// HostFunctionsImpl implements the import surface provided to the guest.
type HostFunctionsImpl struct {
	logger *zap.Logger
	// guest output sink for scatter_write
	output *zap.Logger

	random   RandomSource
	outbound OutboundHandler
}

// NewHostFunctions creates the host functions with crypto/rand as the
// random source and no outbound handler.
func NewHostFunctions(logger *zap.Logger) *HostFunctionsImpl {
	return &HostFunctionsImpl{
		logger: logger.With(zap.String("component", "wasm-host")),
		output: logger.With(zap.String("component", "guest-output")),
		random: func(b []byte) error {
			_, err := rand.Read(b)
			return err
		},
	}
}

// WithRandomSource replaces the random source. A nil source makes
// random_fill report ErrnoNoSource.
func (h *HostFunctionsImpl) WithRandomSource(src RandomSource) *HostFunctionsImpl {
	h.random = src
	return h
}

// WithOutbound sets the handler for outbound_send.
func (h *HostFunctionsImpl) WithOutbound(fn OutboundHandler) *HostFunctionsImpl {
	h.outbound = fn
	return h
}

// procExit terminates the module. The running call unwinds with
// *sys.ExitError and the host refuses every call after it.
// Signature: proc_exit(code)
func (h *HostFunctionsImpl) procExit(ctx context.Context, mod api.Module, code uint32) {
	h.logger.Error("Module called proc_exit",
		zap.String("module", mod.Name()),
		zap.Uint32("exit_code", code),
	)
	_ = mod.CloseWithExitCode(ctx, code)
	panic(sys.NewExitError(code))
}

// randomFill fills [ptr, ptr+length) with secure random bytes.
// Signature: random_fill(ptr, length) -> errno
func (h *HostFunctionsImpl) randomFill(ctx context.Context, mod api.Module, ptr uint32, length uint32) uint32 {
	if mod.Memory() == nil {
		h.logger.Error("random_fill called without memory")
		return uint32(protocol.ErrnoNoMemory)
	}
	if h.random == nil {
		h.logger.Error("random_fill: no secure random source available")
		return uint32(protocol.ErrnoNoSource)
	}

	mem := NewMemory(mod)
	if uint64(ptr)+uint64(length) > uint64(mem.Size()) {
		h.logger.Error("random_fill: target range out of bounds",
			zap.Uint32("ptr", ptr),
			zap.Uint32("length", length),
			zap.Uint32("memory_size", mem.Size()),
		)
		return uint32(protocol.ErrnoFault)
	}

	buf := make([]byte, length)
	if err := h.random(buf); err != nil {
		h.logger.Error("random_fill: random source failed", zap.Error(err))
		return uint32(protocol.ErrnoIO)
	}
	if err := mem.WriteBytes(ptr, buf); err != nil {
		h.logger.Error("random_fill: write failed", zap.Error(err))
		return uint32(protocol.ErrnoFault)
	}
	return uint32(protocol.ErrnoSuccess)
}

// scatterWrite emits each referenced region to the guest output log and
// stores the total byte count at outCount. Every descriptor is checked
// before anything is emitted.
// Signature: scatter_write(iovs, iovs_len, out_count) -> errno
func (h *HostFunctionsImpl) scatterWrite(ctx context.Context, mod api.Module, iovs uint32, iovsLen uint32, outCount uint32) uint32 {
	mem := NewMemory(mod)

	if uint64(iovs)+uint64(iovsLen)*iovecSize > uint64(mem.Size()) {
		h.logger.Error("scatter_write: descriptor array out of bounds",
			zap.Uint32("iovs", iovs),
			zap.Uint32("iovs_len", iovsLen),
			zap.Uint32("memory_size", mem.Size()),
		)
		return uint32(protocol.ErrnoIO)
	}

	regions := make([]slice.Slice, 0, iovsLen)
	var total uint64
	for i := uint32(0); i < iovsLen; i++ {
		descAddr := iovs + i*iovecSize
		addr, err := mem.ReadUint32(descAddr)
		if err != nil {
			h.logger.Error("scatter_write: descriptor unreadable", zap.Uint32("index", i), zap.Error(err))
			return uint32(protocol.ErrnoIO)
		}
		length, err := mem.ReadUint32(descAddr + 4)
		if err != nil {
			h.logger.Error("scatter_write: descriptor unreadable", zap.Uint32("index", i), zap.Error(err))
			return uint32(protocol.ErrnoIO)
		}
		if uint64(addr)+uint64(length) > uint64(mem.Size()) {
			h.logger.Error("scatter_write: buffer out of bounds",
				zap.Uint32("index", i),
				zap.Uint32("addr", addr),
				zap.Uint32("length", length),
			)
			return uint32(protocol.ErrnoIO)
		}

		total += uint64(length)
		if total > math.MaxUint32 {
			h.logger.Error("scatter_write: total length overflows u32",
				zap.Uint32("index", i),
				zap.Uint64("total", total),
			)
			return uint32(protocol.ErrnoIO)
		}
		regions = append(regions, slice.Slice{Address: addr, Length: length})
	}

	for i, r := range regions {
		data, err := mem.ReadBytes(r.Address, r.Length)
		if err != nil {
			h.logger.Error("scatter_write: buffer out of bounds", zap.Int("index", i), zap.Error(err))
			return uint32(protocol.ErrnoIO)
		}
		h.emit(data)
	}

	if err := mem.WriteUint32(outCount, uint32(total)); err != nil {
		h.logger.Error("scatter_write: result address out of bounds", zap.Error(err))
		return uint32(protocol.ErrnoFault)
	}
	return uint32(protocol.ErrnoSuccess)
}

func (h *HostFunctionsImpl) emit(data []byte) {
	if len(data) == 0 {
		return
	}
	if utf8.Valid(data) {
		h.output.Info(strings.TrimRight(string(data), "\n"))
		return
	}
	h.output.Warn("Guest output is not valid UTF-8",
		zap.Int("bytes", len(data)),
		zap.String("hex", hex.Dump(data)),
	)
}

// outboundSend copies the referenced message and hands it to the outbound handler.
// Signature: outbound_send(packed_slice)
func (h *HostFunctionsImpl) outboundSend(ctx context.Context, mod api.Module, packed uint64) {
	s := slice.Unpack(packed)
	if s.IsNull() {
		h.logger.Error("outbound_send: null address with non-zero length",
			zap.Uint32("length", s.Length),
		)
		return
	}

	var payload []byte
	if s.Length > 0 {
		data, err := NewMemory(mod).ReadBytes(s.Address, s.Length)
		if err != nil {
			h.logger.Error("outbound_send: message out of bounds", zap.Error(err))
			return
		}
		payload = data
	} else {
		h.logger.Warn("outbound_send: zero length, sending empty message")
		payload = []byte{}
	}

	if h.outbound == nil {
		h.logger.Warn("outbound_send: no outbound handler, message dropped",
			zap.Int("bytes", len(payload)),
		)
		return
	}
	h.outbound(ctx, payload)
}
