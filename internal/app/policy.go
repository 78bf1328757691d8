package app

import (
	"fmt"

	"github.com/dkeye/bridge/internal/core"
)

type BackpressureAction int

const (
	DropFrame BackpressureAction = iota
	CloseConnection
)

// Policy decides what happens to a connection whose send buffer is full when
// an event arrives.
type Policy interface {
	OnBackpressure(conn core.Connection, event string) BackpressureAction
}

// DropPolicy drops the event and keeps the connection.
type DropPolicy struct{}

func (DropPolicy) OnBackpressure(core.Connection, string) BackpressureAction { return DropFrame }

// ClosePolicy drops the event and closes the slow connection.
type ClosePolicy struct{}

func (ClosePolicy) OnBackpressure(core.Connection, string) BackpressureAction { return CloseConnection }

func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "close":
		return ClosePolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown backpressure policy %q", name)
	}
}
