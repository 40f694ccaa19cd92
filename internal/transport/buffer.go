package transport

// Buffer is a bounded FIFO of outbound payloads. It is not safe for
// concurrent use; Transport guards it with its own mutex.
type Buffer struct {
	items    [][]byte
	capacity int
}

// NewBuffer creates a buffer holding at most capacity payloads.
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity}
}

// Push appends p. It reports false, leaving the buffer unchanged, when full.
func (b *Buffer) Push(p []byte) bool {
	if len(b.items) >= b.capacity {
		return false
	}
	b.items = append(b.items, p)
	return true
}

// PushFront puts p back at the head, used when a write of the head failed.
func (b *Buffer) PushFront(p []byte) bool {
	if len(b.items) >= b.capacity {
		return false
	}
	b.items = append(b.items, nil)
	copy(b.items[1:], b.items)
	b.items[0] = p
	return true
}

// PopFront removes and returns the oldest payload.
func (b *Buffer) PopFront() ([]byte, bool) {
	if len(b.items) == 0 {
		return nil, false
	}
	p := b.items[0]
	b.items[0] = nil
	b.items = b.items[1:]
	return p, true
}

func (b *Buffer) Len() int { return len(b.items) }

func (b *Buffer) Cap() int { return b.capacity }

// Clear drops every queued payload.
func (b *Buffer) Clear() {
	b.items = nil
}
