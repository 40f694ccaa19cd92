package wasm

import (
	"encoding/binary"

	"github.com/tetratelabs/wazero/api"
)

// Memory provides bounds-checked access to a module's linear memory.
//
// Every read returns a copy: nothing handed out by Memory aliases the guest
// memory, so callers may keep the bytes after the producing call returns.
// Out-of-range accesses return *MemoryAccessError wrapping ErrOutOfBounds.
type Memory struct {
	mem api.Memory
}

// NewMemory creates a memory helper.
func NewMemory(module api.Module) *Memory {
	return &Memory{mem: module.Memory()}
}

// Size returns the current memory size in bytes.
func (m *Memory) Size() uint32 {
	if m.mem == nil {
		return 0
	}
	return m.mem.Size()
}

func (m *Memory) inBounds(ptr, length uint32) bool {
	return uint64(ptr)+uint64(length) <= uint64(m.Size())
}

func (m *Memory) outOfBounds(op string, ptr, length uint32) error {
	return &MemoryAccessError{
		Operation:  op,
		Address:    ptr,
		Length:     length,
		MemorySize: m.Size(),
		Err:        ErrOutOfBounds,
	}
}

// ReadBytes copies length bytes starting at ptr.
func (m *Memory) ReadBytes(ptr uint32, length uint32) ([]byte, error) {
	if m.mem == nil || !m.inBounds(ptr, length) {
		return nil, m.outOfBounds("read", ptr, length)
	}
	view, ok := m.mem.Read(ptr, length)
	if !ok {
		return nil, m.outOfBounds("read", ptr, length)
	}
	out := make([]byte, len(view))
	copy(out, view)
	return out, nil
}

// WriteBytes copies data into memory at ptr.
func (m *Memory) WriteBytes(ptr uint32, data []byte) error {
	if m.mem == nil || !m.inBounds(ptr, uint32(len(data))) || uint64(len(data)) > uint64(^uint32(0)) {
		return m.outOfBounds("write", ptr, uint32(len(data)))
	}
	if !m.mem.Write(ptr, data) {
		return m.outOfBounds("write", ptr, uint32(len(data)))
	}
	return nil
}

// ReadUint32 reads a little-endian uint32.
func (m *Memory) ReadUint32(ptr uint32) (uint32, error) {
	b, err := m.ReadBytes(ptr, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// WriteUint32 writes a little-endian uint32.
func (m *Memory) WriteUint32(ptr uint32, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return m.WriteBytes(ptr, b[:])
}
