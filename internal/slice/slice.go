// Package slice packs and unpacks module memory regions.
//
// A region of the guest's linear memory crosses the host/module boundary as
// a single uint64: the low 32 bits carry the address and the high 32 bits
// carry the length. This is the only way a region descriptor is passed in
// either direction.
package slice

import (
	"errors"
	"fmt"
	"math"
)

// ErrOutOfRange is returned when an address or length does not fit in 32 bits.
var ErrOutOfRange = errors.New("slice: value exceeds 32-bit range")

// Slice is an (address, length) descriptor into module memory.
// It is only valid for the duration of the call that produced it.
type Slice struct {
	Address uint32
	Length  uint32
}

// Pack encodes address and length into one uint64.
func Pack(address, length uint64) (uint64, error) {
	if address > math.MaxUint32 || length > math.MaxUint32 {
		return 0, fmt.Errorf("%w (address=%d, length=%d)", ErrOutOfRange, address, length)
	}
	return length<<32 | address, nil
}

// Unpack decodes a packed value. Every uint64 decodes; callers must check
// the result against the actual memory size before use.
func Unpack(v uint64) Slice {
	return Slice{
		Address: uint32(v & math.MaxUint32),
		Length:  uint32(v >> 32),
	}
}

// Pack encodes s. It cannot fail since both fields are already 32-bit.
func (s Slice) Pack() uint64 {
	return uint64(s.Length)<<32 | uint64(s.Address)
}

// End returns the first address past the region.
func (s Slice) End() uint64 {
	return uint64(s.Address) + uint64(s.Length)
}

// IsNull reports a zero address with a non-zero length, which never
// describes readable memory.
func (s Slice) IsNull() bool {
	return s.Address == 0 && s.Length > 0
}

func (s Slice) String() string {
	return fmt.Sprintf("slice(addr=%d, len=%d)", s.Address, s.Length)
}
