package app

import (
	"testing"

	"github.com/dkeye/bridge/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingBinder(count map[string]int) Binder {
	return func(b core.Backend, event string) func() {
		count[event]++
		return b.Events().Subscribe(event, func(any) {})
	}
}

func TestSession_SubscribeIsIdempotent(t *testing.T) {
	s := NewSession()
	b := newStubBackend()
	count := map[string]int{}
	bind := countingBinder(count)

	assert.False(t, s.Subscribe("messages.upsert", bind), "no backend yet")
	s.InstallBackend(b, nil, bind)
	assert.Equal(t, 1, count["messages.upsert"])

	assert.False(t, s.Subscribe("messages.upsert", bind))
	assert.False(t, s.Subscribe("messages.upsert", bind))
	assert.Equal(t, 1, count["messages.upsert"])
	assert.Equal(t, 1, b.events.ListenerCount("messages.upsert"))

	assert.True(t, s.Subscribe("chats.update", bind))
	assert.Equal(t, []string{"chats.update", "messages.upsert"}, s.Subscriptions())
}

func TestSession_InstallBackendMovesForwarders(t *testing.T) {
	s := NewSession()
	count := map[string]int{}
	bind := countingBinder(count)
	s.Subscribe("a", bind)

	first := newStubBackend()
	hookCalls := 0
	hook := first.events.Subscribe("creds.update", func(any) { hookCalls++ })
	assert.Nil(t, s.InstallBackend(first, []func(){hook}, bind))
	require.Equal(t, 1, first.events.ListenerCount("a"))

	second := newStubBackend()
	prev := s.InstallBackend(second, nil, bind)
	assert.Same(t, first, prev)
	assert.Equal(t, 0, first.events.ListenerCount("a"))
	assert.Equal(t, 0, first.events.ListenerCount("creds.update"))
	assert.Equal(t, 1, second.events.ListenerCount("a"))
	assert.True(t, s.Forwarding("a"))

	first.events.Emit("creds.update", nil)
	assert.Equal(t, 0, hookCalls)
}

func TestSession_UnsubscribeAndClear(t *testing.T) {
	s := NewSession()
	b := newStubBackend()
	bind := countingBinder(map[string]int{})
	s.InstallBackend(b, nil, bind)
	s.Subscribe("a", bind)

	assert.True(t, s.Unsubscribe("a"))
	assert.False(t, s.Unsubscribe("a"))
	assert.Equal(t, 0, b.events.ListenerCount("a"))
	assert.Empty(t, s.Subscriptions())

	s.Subscribe("b", bind)
	assert.Same(t, b, s.ClearBackend())
	_, ok := s.Backend()
	assert.False(t, ok)
	assert.False(t, s.Forwarding("b"))
	assert.Equal(t, []string{"b"}, s.Subscriptions(), "subscription set survives the backend")
	assert.Nil(t, s.ClearBackend())
}

func TestSession_AttachDetach(t *testing.T) {
	s := NewSession()
	c1 := newFakeConn("c1")
	c2 := newFakeConn("c2")

	assert.Nil(t, s.Attach(c1))
	assert.Same(t, c1, s.Attach(c2))

	assert.False(t, s.Detach(c1), "superseded connection must not clear the active one")
	conn, ok := s.Connection()
	require.True(t, ok)
	assert.Same(t, c2, conn)

	assert.True(t, s.Detach(c2))
	_, ok = s.Connection()
	assert.False(t, ok)
}

func TestSession_Status(t *testing.T) {
	s := NewSession()
	s.Subscribe("x", countingBinder(map[string]int{}))
	s.Attach(newFakeConn("c1"))
	s.InstallBackend(newStubBackend(), nil, countingBinder(map[string]int{}))
	s.SetConnectionState(core.ConnectionUpdate{Connection: core.StateClose})

	st := s.Status()
	assert.True(t, st.Initialized)
	assert.True(t, st.Connected)
	assert.Equal(t, "c1", st.ConnectionID)
	assert.Equal(t, []string{"x"}, st.Subscriptions)
	assert.Equal(t, core.StateClose, st.BackendState)
	assert.True(t, st.ShouldReconnect)
}
