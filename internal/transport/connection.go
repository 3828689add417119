package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps one websocket connection. All writes go through a single
// writer goroutine so concurrent room deliveries never race on the
// underlying socket.
type Conn struct {
	ws           *websocket.Conn
	identity     string
	writeCh      chan []byte
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConn creates a connection wrapper for an already-upgraded socket
// and starts its writer goroutine. The identity is fixed for the life
// of the connection.
func NewConn(ws *websocket.Conn, identity string, writeTimeout time.Duration) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		ws:           ws,
		identity:     identity,
		writeCh:      make(chan []byte, 100),
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// Identity returns the opaque reference identifying this connection.
func (c *Conn) Identity() string { return c.identity }

// Done is closed once the connection is shut down.
func (c *Conn) Done() <-chan struct{} { return c.ctx.Done() }

func (c *Conn) writeLoop() {
	for {
		select {
		case data := <-c.writeCh:
			if err := c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-c.ctx.Done():
			return
		}
	}
}

// WriteJSON queues a JSON message for delivery. It fails fast when the
// connection is closed and times out rather than blocking the caller
// when the client cannot keep up.
func (c *Conn) WriteJSON(v interface{}) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close shuts down the writer goroutine and the underlying socket.
// Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.ws != nil {
			err = c.ws.Close()
		}
	})
	return err
}
