package realtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBufferSize = 64
)

// ErrConnClosed is returned by Send after the connection has been closed.
var ErrConnClosed = errors.New("connection closed")

// Upgrader accepts websocket upgrades from any origin; browsers authenticate
// with the token query parameter.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// WSConn adapts a gorilla websocket to Conn. Outbound frames go through a
// buffered queue drained by WritePump, which is the only writer.
type WSConn struct {
	id        string
	conn      *websocket.Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// NewWSConn wraps an upgraded connection.
func NewWSConn(conn *websocket.Conn, logger *slog.Logger) *WSConn {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &WSConn{
		id:     id,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		done:   make(chan struct{}),
		logger: logger.With("component", "wsconn", "conn_id", id),
	}
}

// ID returns the connection id.
func (c *WSConn) ID() string {
	return c.id
}

// Send queues payload for the write pump. It blocks while the queue is full
// until ctx expires.
func (c *WSConn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the write pump, which in turn closes the socket and unblocks
// ReadPump. Safe to call more than once.
func (c *WSConn) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// Done is closed once the connection is closed.
func (c *WSConn) Done() <-chan struct{} {
	return c.done
}

// WritePump drains the send queue and keeps the peer alive with pings.
func (c *WSConn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("write failed", "error", err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// ReadPump reads frames until the transport fails or the connection is
// closed, passing each one to handle. It returns nil on a normal close.
func (c *WSConn) ReadPump(handle func(raw []byte)) error {
	defer func() { _ = c.Close() }()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return err
			}
			return nil
		}
		handle(message)
	}
}
