package transport

import (
	"context"
	"errors"
	"io"
	"sync"
)

var errWriteFailed = errors.New("write failed")

// fakeConn records writes and serves frames pushed with deliver.
type fakeConn struct {
	mu         sync.Mutex
	writes     [][]byte
	failWrites bool
	closed     bool

	incoming chan []byte
	done     chan struct{}
	once     sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		incoming: make(chan []byte, 16),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.incoming:
		return 2, msg, nil
	case <-c.done:
		return 0, nil, io.EOF
	}
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWrites || c.closed {
		return errWriteFailed
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) deliver(msg string) {
	c.incoming <- []byte(msg)
}

// drop simulates the server going away.
func (c *fakeConn) drop() {
	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) written() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	for i, w := range c.writes {
		out[i] = string(w)
	}
	return out
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeDialer hands out the queued conns in order, failing when none remain
// or when fail is set.
type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	fail  bool
	dials int
}

func (d *fakeDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	if d.fail || len(d.conns) == 0 {
		return nil, errors.New("connection refused")
	}
	c := d.conns[0]
	d.conns = d.conns[1:]
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}
