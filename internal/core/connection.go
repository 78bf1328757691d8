package core

import (
	"context"
	"errors"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

// Frame is one encoded JSON text message.
type Frame []byte

// Connection abstracts the client transport.
// Owned by the adapter; the adapter must Close() it.
type Connection interface {
	ID() string
	// Send queues f, waiting for buffer space until ctx is done or the connection closes.
	Send(ctx context.Context, f Frame) error
	// TrySend queues f or fails with ErrBackpressure when the buffer is full.
	TrySend(f Frame) error
	Close()
}
