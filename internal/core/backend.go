package core

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var (
	ErrNotInitialized = errors.New("backend not initialized")
	ErrUnknownMethod  = errors.New("method not found")
)

// Well-known backend events.
const (
	EventCredsUpdate      = "creds.update"
	EventConnectionUpdate = "connection.update"
)

// Listener receives the payload of one event occurrence.
type Listener func(data any)

// EventSource supports named-event subscription.
// Subscribe must not emit synchronously on the calling goroutine.
type EventSource interface {
	Subscribe(event string, fn Listener) (unsubscribe func())
}

// Backend is the opaque instance created by INIT.
type Backend interface {
	Operations() *Operations
	Events() EventSource
}

// BackendConfig is what a factory receives. Options never contain log_level,
// it is consumed into Logger.
type BackendConfig struct {
	Auth    any
	Logger  zerolog.Logger
	Options map[string]any
}

type BackendFactory interface {
	Create(cfg BackendConfig) (Backend, error)
}

type BackendFactoryFunc func(cfg BackendConfig) (Backend, error)

func (f BackendFactoryFunc) Create(cfg BackendConfig) (Backend, error) { return f(cfg) }

// AuthState is loaded credential state plus a way to write it back.
type AuthState struct {
	State   any
	Persist func() error
}

type AuthLoader interface {
	Load(ctx context.Context, path string) (*AuthState, error)
}

type ConnectionState string

const (
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClose      ConnectionState = "close"
)

// DisconnectLoggedOut is the status code a backend reports when the account
// was logged out and reconnecting is pointless.
const DisconnectLoggedOut = 401

type Disconnect struct {
	StatusCode int    `json:"statusCode" mapstructure:"statusCode"`
	Error      string `json:"error,omitempty" mapstructure:"error"`
}

// ConnectionUpdate is the payload of EventConnectionUpdate.
type ConnectionUpdate struct {
	Connection     ConnectionState `json:"connection,omitempty" mapstructure:"connection"`
	LastDisconnect *Disconnect     `json:"lastDisconnect,omitempty" mapstructure:"lastDisconnect"`
	QR             string          `json:"qr,omitempty" mapstructure:"qr"`
}

// ShouldReconnect reports whether a closed connection is worth reopening.
func (u ConnectionUpdate) ShouldReconnect() bool {
	if u.Connection != StateClose {
		return false
	}
	return u.LastDisconnect == nil || u.LastDisconnect.StatusCode != DisconnectLoggedOut
}
