// Package transport keeps a WebSocket connection to the backend alive,
// reconnecting with backoff and buffering outbound payloads while the
// connection is down.
package transport

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apiwasm "github.com/woxQAQ/wasm-bridge/api/wasm"
)

var _ apiwasm.OutboundSink = (*Transport)(nil)

// ErrBufferFull is returned by Send when the outbound buffer cannot take
// another payload. The payload is dropped.
var ErrBufferFull = errors.New("outbound buffer full")

// Config holds transport settings.
type Config struct {
	Endpoint string `mapstructure:"endpoint"`

	ReconnectInterval    time.Duration `mapstructure:"reconnect_interval"`
	MaxReconnectAttempts int           `mapstructure:"max_reconnect_attempts"` // 0 = unbounded
	BufferSize           int           `mapstructure:"buffer_size"`
	BackoffFactor        float64       `mapstructure:"backoff_factor"`
	MaxReconnectInterval time.Duration `mapstructure:"max_reconnect_interval"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
}

// DefaultConfig returns the default transport settings.
func DefaultConfig() Config {
	return Config{
		Endpoint:             "ws://127.0.0.1:8080/ws",
		ReconnectInterval:    2 * time.Second,
		MaxReconnectAttempts: 200,
		BufferSize:           100,
		BackoffFactor:        1.0,
		MaxReconnectInterval: 30 * time.Second,
		HandshakeTimeout:     10 * time.Second,
		WriteTimeout:         10 * time.Second,
	}
}

// InboundHandler receives every text or binary frame as bytes.
type InboundHandler func(payload []byte)

// Hooks are optional callbacks invoked under the transport lock.
type Hooks struct {
	OnStateChange func(State)
	OnDrop        func()
	OnBuffered    func(n int)
}

// Option configures a Transport.
type Option func(*Transport)

// WithDialer replaces the gorilla/websocket dialer.
func WithDialer(d Dialer) Option {
	return func(t *Transport) { t.dialer = d }
}

// WithInboundHandler sets the handler for received frames.
func WithInboundHandler(fn InboundHandler) Option {
	return func(t *Transport) { t.onMessage = fn }
}

// WithHooks sets observation hooks.
func WithHooks(h Hooks) Option {
	return func(t *Transport) { t.hooks = h }
}

// Transport is a reconnecting WebSocket client.
//
// State machine:
//
//	Idle --Connect--> Connecting --open--> Connected
//	Connected --close/error--> Closed --timer--> Connecting
//
// Disconnect moves to Closed from any state and suppresses reconnects
// until the next Connect.
type Transport struct {
	mu sync.Mutex

	cfg       Config
	dialer    Dialer
	onMessage InboundHandler
	hooks     Hooks
	logger    *zap.Logger

	ctx   context.Context
	state State
	conn  Conn
	// bumped whenever the current connection or dial is abandoned
	gen uint64

	buffer      *Buffer
	attempts    int
	timer       *time.Timer
	intentional bool
}

// New creates a transport in the Idle state.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Transport {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 1
	}

	t := &Transport{
		cfg:    cfg,
		logger: logger.With(zap.String("component", "transport"), zap.String("endpoint", cfg.Endpoint)),
		ctx:    context.Background(),
		state:  StateIdle,
		buffer: NewBuffer(cfg.BufferSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.dialer == nil {
		t.dialer = NewWebSocketDialer(cfg)
	}
	return t
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Buffered returns the number of queued payloads.
func (t *Transport) Buffered() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buffer.Len()
}

// Attempts returns the reconnect attempts since the last successful open.
func (t *Transport) Attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts
}

// Connect starts connecting in the background. It is a no-op while
// connecting or connected. Reconnects stop once ctx is done.
func (t *Transport) Connect(ctx context.Context) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.intentional = false
	t.ctx = ctx
	if t.state == StateConnecting || t.state == StateConnected {
		return
	}
	t.dialLocked()
}

// Disconnect closes the connection on purpose: the buffer is cleared, the
// retry timer stopped and no reconnect follows.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.intentional = true
	t.stopTimerLocked()
	t.buffer.Clear()
	t.reportBufferedLocked()
	t.attempts = 0
	t.gen++

	if t.conn != nil {
		if err := t.conn.Close(); err != nil {
			t.logger.Debug("Close failed", zap.Error(err))
		}
		t.conn = nil
	}
	t.setStateLocked(StateClosed)
	t.logger.Info("Disconnected")
}

// Send writes payload now when connected, otherwise queues a copy for the
// next open. A full buffer drops payload and returns ErrBufferFull.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	msg := make([]byte, len(payload))
	copy(msg, payload)

	if t.state == StateConnected && t.conn != nil {
		err := t.conn.WriteMessage(websocket.BinaryMessage, msg)
		if err == nil {
			return nil
		}
		t.logger.Warn("Write failed, requeueing", zap.Error(err))
		if !t.buffer.PushFront(msg) {
			t.dropLocked(len(msg))
			t.failLocked(err)
			return ErrBufferFull
		}
		t.reportBufferedLocked()
		t.failLocked(err)
		return nil
	}

	if !t.buffer.Push(msg) {
		t.dropLocked(len(msg))
		return ErrBufferFull
	}
	t.reportBufferedLocked()
	t.logger.Debug("Buffered outbound message",
		zap.Int("bytes", len(msg)),
		zap.Int("buffered", t.buffer.Len()),
	)
	return nil
}

// Delay returns the wait before reconnect attempt n (1-based).
func (c Config) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	factor := c.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(c.ReconnectInterval) * math.Pow(factor, float64(attempt-1))
	if c.MaxReconnectInterval > 0 && d > float64(c.MaxReconnectInterval) {
		return c.MaxReconnectInterval
	}
	return time.Duration(d)
}

func (t *Transport) dialLocked() {
	t.gen++
	gen := t.gen
	t.setStateLocked(StateConnecting)
	t.logger.Info("Connecting", zap.Int("attempt", t.attempts))

	go t.dial(t.ctx, gen)
}

func (t *Transport) dial(ctx context.Context, gen uint64) {
	dialCtx := ctx
	if t.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
		defer cancel()
	}

	conn, err := t.dialer.Dial(dialCtx, t.cfg.Endpoint)

	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen || t.intentional {
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		t.logger.Warn("Dial failed",
			zap.Int("attempt", t.attempts),
			zap.Error(err),
		)
		t.setStateLocked(StateClosed)
		t.scheduleReconnectLocked()
		return
	}

	t.conn = conn
	t.attempts = 0
	t.stopTimerLocked()
	t.setStateLocked(StateConnected)
	t.logger.Info("Connected")

	go t.readLoop(conn, gen)
	t.flushLocked()
}

// flushLocked writes queued payloads oldest first. A failed write puts the
// payload back at the head and stops.
func (t *Transport) flushLocked() {
	if t.buffer.Len() == 0 {
		return
	}
	t.logger.Info("Flushing buffered messages", zap.Int("count", t.buffer.Len()))

	sent := 0
	for t.conn != nil {
		msg, ok := t.buffer.PopFront()
		if !ok {
			break
		}
		if err := t.conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
			t.buffer.PushFront(msg)
			t.logger.Warn("Flush interrupted",
				zap.Int("sent", sent),
				zap.Int("remaining", t.buffer.Len()),
				zap.Error(err),
			)
			t.failLocked(err)
			break
		}
		sent++
	}
	t.reportBufferedLocked()
}

func (t *Transport) readLoop(conn Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.connectionLost(gen, err)
			return
		}
		if t.onMessage != nil {
			t.onMessage(data)
		}
	}
}

func (t *Transport) connectionLost(gen uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if gen != t.gen {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Info("Connection closed by peer", zap.Error(err))
	} else {
		t.logger.Warn("Connection lost", zap.Error(err))
	}
	t.failLocked(err)
}

// failLocked abandons the current connection and schedules a reconnect.
func (t *Transport) failLocked(err error) {
	t.gen++
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.setStateLocked(StateClosed)
	if !t.intentional {
		t.scheduleReconnectLocked()
	}
}

func (t *Transport) scheduleReconnectLocked() {
	if t.cfg.MaxReconnectAttempts > 0 && t.attempts >= t.cfg.MaxReconnectAttempts {
		t.logger.Error("Giving up reconnecting",
			zap.Int("attempts", t.attempts),
		)
		return
	}
	if t.ctx.Err() != nil {
		t.logger.Info("Not reconnecting, context done", zap.Error(t.ctx.Err()))
		return
	}

	t.attempts++
	delay := t.cfg.Delay(t.attempts)
	t.logger.Info("Scheduling reconnect",
		zap.Int("attempt", t.attempts),
		zap.Duration("delay", delay),
	)

	t.stopTimerLocked()
	t.timer = time.AfterFunc(delay, t.reconnect)
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timer = nil
	if t.intentional || t.state == StateConnecting || t.state == StateConnected {
		return
	}
	if t.ctx.Err() != nil {
		return
	}
	t.dialLocked()
}

func (t *Transport) stopTimerLocked() {
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Transport) setStateLocked(s State) {
	if t.state == s {
		return
	}
	t.state = s
	if t.hooks.OnStateChange != nil {
		t.hooks.OnStateChange(s)
	}
}

func (t *Transport) dropLocked(size int) {
	t.logger.Warn("Outbound buffer full, dropping message",
		zap.Int("bytes", size),
		zap.Int("capacity", t.buffer.Cap()),
	)
	if t.hooks.OnDrop != nil {
		t.hooks.OnDrop()
	}
}

func (t *Transport) reportBufferedLocked() {
	if t.hooks.OnBuffered != nil {
		t.hooks.OnBuffered(t.buffer.Len())
	}
}
