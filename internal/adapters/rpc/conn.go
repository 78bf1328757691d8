package rpc

import (
	"context"
	"sync"

	"github.com/dkeye/bridge/internal/core"
	"github.com/gorilla/websocket"
)

// WsConn is the core.Connection of one WebSocket client. Frames are queued on
// send and written by the write pump only.
type WsConn struct {
	id   string
	conn *websocket.Conn
	send chan core.Frame
	done chan struct{}
	once sync.Once
}

func newWsConn(id string, ws *websocket.Conn, buffer int) *WsConn {
	return &WsConn{
		id:   id,
		conn: ws,
		send: make(chan core.Frame, buffer),
		done: make(chan struct{}),
	}
}

func (c *WsConn) ID() string { return c.id }

func (c *WsConn) Send(ctx context.Context, f core.Frame) error {
	select {
	case <-c.done:
		return core.ErrConnClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return core.ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WsConn) TrySend(f core.Frame) error {
	select {
	case <-c.done:
		return core.ErrConnClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Close is idempotent. The send channel is never closed; pumps stop on done.
func (c *WsConn) Close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *WsConn) Done() <-chan struct{} { return c.done }
