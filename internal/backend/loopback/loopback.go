// Package loopback is an in-process backend. It answers a small set of
// operations locally and emits the same events a messaging backend would,
// which makes the bridge runnable and testable without a network peer.
package loopback

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/bridge/internal/authstate"
	"github.com/dkeye/bridge/internal/core"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const EventMessagesUpsert = "messages.upsert"

var ErrBadArgs = errors.New("bad arguments")

type Backend struct {
	log    zerolog.Logger
	ops    *core.Operations
	events *core.Emitter
	auth   *authstate.State
	name   string

	mu     sync.Mutex
	state  core.ConnectionState
	closed bool
}

// Factory creates loopback backends. It implements core.BackendFactory.
type Factory struct{}

func (Factory) Create(cfg core.BackendConfig) (core.Backend, error) {
	return New(cfg)
}

func New(cfg core.BackendConfig) (*Backend, error) {
	b := &Backend{
		log:    cfg.Logger,
		ops:    core.NewOperations(),
		events: core.NewEmitter(),
		state:  core.StateConnecting,
		name:   "loopback",
	}
	if cfg.Auth != nil {
		st, ok := cfg.Auth.(*authstate.State)
		if !ok {
			return nil, fmt.Errorf("unsupported auth state %T", cfg.Auth)
		}
		b.auth = st
	}
	if v, ok := cfg.Options["name"]; ok {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("option name: want string, got %T", v)
		}
		b.name = s
	}

	b.ops.
		Register("connect", b.connect).
		Register("logout", b.logout).
		Register("sendMessage", b.sendMessage).
		Register("updateProfileName", b.updateProfileName).
		Register("echo", echo).
		Register("sleep", sleep).
		Register("fail", fail)

	b.log.Debug().Str("name", b.name).Msg("loopback backend created")
	return b, nil
}

func (b *Backend) Operations() *core.Operations { return b.ops }
func (b *Backend) Events() core.EventSource     { return b.events }

// Emit lets callers inject events, as a remote peer would.
func (b *Backend) Emit(event string, data any) int { return b.events.Emit(event, data) }

func (b *Backend) State() core.ConnectionState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Backend) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.log.Debug().Msg("loopback backend closed")
	return nil
}

func (b *Backend) setState(u core.ConnectionUpdate) {
	b.mu.Lock()
	b.state = u.Connection
	b.mu.Unlock()
	b.events.Emit(core.EventConnectionUpdate, u)
}

func (b *Backend) connect(_ context.Context, _ []any) (any, error) {
	b.setState(core.ConnectionUpdate{Connection: core.StateOpen})
	return string(core.StateOpen), nil
}

func (b *Backend) logout(_ context.Context, _ []any) (any, error) {
	b.setState(core.ConnectionUpdate{
		Connection:     core.StateClose,
		LastDisconnect: &core.Disconnect{StatusCode: core.DisconnectLoggedOut, Error: "logged out"},
	})
	return nil, nil
}

// Message mirrors the shape of a delivered message.
type Message struct {
	Key              MessageKey     `json:"key"`
	Message          map[string]any `json:"message"`
	MessageTimestamp *big.Int       `json:"messageTimestamp"`
	Status           int            `json:"status,omitempty"`
}

type MessageKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

func (b *Backend) sendMessage(_ context.Context, args []any) (any, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("%w: sendMessage(jid, text)", ErrBadArgs)
	}
	jid, ok1 := args[0].(string)
	text, ok2 := args[1].(string)
	if !ok1 || !ok2 || !strings.Contains(jid, "@") {
		return nil, fmt.Errorf("%w: sendMessage(jid, text)", ErrBadArgs)
	}
	msg := Message{
		Key:              MessageKey{RemoteJID: jid, FromMe: true, ID: NewMessageID()},
		Message:          map[string]any{"conversation": text},
		MessageTimestamp: big.NewInt(time.Now().Unix()),
		Status:           1,
	}
	b.events.Emit(EventMessagesUpsert, map[string]any{
		"messages": []Message{msg},
		"type":     "notify",
	})
	return msg, nil
}

func (b *Backend) updateProfileName(_ context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: updateProfileName(name)", ErrBadArgs)
	}
	name, ok := args[0].(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%w: updateProfileName(name)", ErrBadArgs)
	}
	if b.auth != nil {
		b.auth.UpdateCreds(map[string]any{"me": map[string]any{"name": name}})
	}
	b.events.Emit(core.EventCredsUpdate, map[string]any{"me": map[string]any{"name": name}})
	return nil, nil
}

func echo(_ context.Context, args []any) (any, error) {
	return args, nil
}

func sleep(ctx context.Context, args []any) (any, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%w: sleep(ms)", ErrBadArgs)
	}
	ms, err := intArg(args[0])
	if err != nil {
		return nil, err
	}
	select {
	case <-time.After(time.Duration(ms) * time.Millisecond):
		return ms, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func fail(_ context.Context, args []any) (any, error) {
	msg := "operation failed"
	if len(args) > 0 {
		msg = fmt.Sprint(args[0])
	}
	return nil, errors.New(msg)
}

// Statics is the module-level namespace of the loopback backend.
func Statics() *core.Operations {
	return core.NewOperations().
		Register("generateMessageID", func(context.Context, []any) (any, error) {
			return NewMessageID(), nil
		}).
		Register("jidEncode", func(_ context.Context, args []any) (any, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("%w: jidEncode(user, server)", ErrBadArgs)
			}
			return fmt.Sprintf("%v@%v", args[0], args[1]), nil
		}).
		Register("bufferFromBase64", func(_ context.Context, args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: bufferFromBase64(data)", ErrBadArgs)
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("%w: bufferFromBase64(data)", ErrBadArgs)
			}
			return base64.StdEncoding.DecodeString(s)
		}).
		Register("bigInt", func(_ context.Context, args []any) (any, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%w: bigInt(value)", ErrBadArgs)
			}
			n, ok := new(big.Int).SetString(fmt.Sprint(args[0]), 10)
			if !ok {
				return nil, fmt.Errorf("%w: bigInt(%v)", ErrBadArgs, args[0])
			}
			return n, nil
		})
}

// NewMessageID returns an upper-case hex id like the ones messaging clients generate.
func NewMessageID() string {
	return "3EB0" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:16]
}

func intArg(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case float64:
		return int64(n), nil
	case interface{ Int64() (int64, error) }:
		return n.Int64()
	default:
		return 0, fmt.Errorf("%w: want integer, got %T", ErrBadArgs, v)
	}
}
