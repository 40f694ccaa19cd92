package transport

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is the subset of *websocket.Conn the transport needs.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a connection to endpoint.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WebSocketDialer dials with gorilla/websocket.
type WebSocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWebSocketDialer creates a dialer using the handshake and write timeouts from cfg.
func NewWebSocketDialer(cfg Config) *WebSocketDialer {
	return &WebSocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            websocket.DefaultDialer.Proxy,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
		writeTimeout: cfg.WriteTimeout,
	}
}

// Dial connects to a ws:// or wss:// endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

// wsConn applies the write deadline and sends a close frame on Close.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) ReadMessage() (int, []byte, error) {
	return c.conn.ReadMessage()
}

func (c *wsConn) WriteMessage(messageType int, data []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsConn) Close() error {
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
