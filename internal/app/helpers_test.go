package app

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkeye/bridge/internal/core"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	ops    *core.Operations
	events *core.Emitter
	closed atomic.Bool
}

func newStubBackend() *stubBackend {
	return &stubBackend{ops: core.NewOperations(), events: core.NewEmitter()}
}

func (b *stubBackend) Operations() *core.Operations { return b.ops }
func (b *stubBackend) Events() core.EventSource     { return b.events }
func (b *stubBackend) Close() error {
	b.closed.Store(true)
	return nil
}

type fakeConn struct {
	id     string
	full   bool
	frames chan core.Frame
	closed atomic.Bool
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id, frames: make(chan core.Frame, 64)}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(_ context.Context, f core.Frame) error { return c.TrySend(f) }

func (c *fakeConn) TrySend(f core.Frame) error {
	if c.closed.Load() {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames <- f
	return nil
}

func (c *fakeConn) Close() { c.closed.Store(true) }

func (c *fakeConn) next(t *testing.T) map[string]any {
	t.Helper()
	select {
	case f := <-c.frames:
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("no frame received")
		return nil
	}
}

func (c *fakeConn) pending() int { return len(c.frames) }

type memAuth struct {
	mu       sync.Mutex
	err      error
	paths    []string
	persists int
}

func (a *memAuth) Load(_ context.Context, path string) (*core.AuthState, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.paths = append(a.paths, path)
	if a.err != nil {
		return nil, a.err
	}
	return &core.AuthState{State: "state:" + path, Persist: func() error {
		a.mu.Lock()
		defer a.mu.Unlock()
		a.persists++
		return nil
	}}, nil
}

func (a *memAuth) persistCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.persists
}

type testEnv struct {
	session   *Session
	metrics   *Metrics
	fanout    *Fanout
	lifecycle *Lifecycle
	auth      *memAuth
	created   []*stubBackend
	lastCfg   core.BackendConfig
	createErr error
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{auth: &memAuth{}}
	env.session = NewSession()
	env.metrics = NewMetrics(prometheus.NewRegistry())
	env.fanout = NewFanout(env.session, env.metrics, nil)
	env.lifecycle = &Lifecycle{
		Session: env.session,
		Fanout:  env.fanout,
		Metrics: env.metrics,
		Auth:    env.auth,
		Factory: core.BackendFactoryFunc(func(cfg core.BackendConfig) (core.Backend, error) {
			env.lastCfg = cfg
			if env.createErr != nil {
				return nil, env.createErr
			}
			b := newStubBackend()
			env.created = append(env.created, b)
			return b, nil
		}),
		DefaultAuthPath: "auth_info",
		DefaultLogLevel: "info",
		Defaults:        map[string]any{"printQR": false},
	}
	return env
}

func (e *testEnv) last() *stubBackend { return e.created[len(e.created)-1] }
