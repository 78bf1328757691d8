package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, fs afero.Fs, path string) *State {
	t.Helper()
	auth, err := NewStore(fs).Load(context.Background(), path)
	require.NoError(t, err)
	st, ok := auth.State.(*State)
	require.True(t, ok)
	return st
}

func TestLoad_CreatesDirectoryAndCreds(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := load(t, fs, "auth_info")

	ok, err := afero.DirExists(fs, "auth_info")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "auth_info", st.Dir())
	assert.Equal(t, false, st.Creds()["registered"])
	assert.NotEmpty(t, st.Creds()["createdAt"])
}

func TestPersistRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	auth, err := NewStore(fs).Load(context.Background(), "auth")
	require.NoError(t, err)
	st := auth.State.(*State)

	st.UpdateCreds(map[string]any{"registered": true, "me": map[string]any{"id": "1@s"}})
	require.NoError(t, auth.Persist())

	raw, err := afero.ReadFile(fs, "auth/creds.json")
	require.NoError(t, err)
	assert.True(t, json.Valid(raw))
	exists, err := afero.Exists(fs, "auth/creds.json.tmp")
	require.NoError(t, err)
	assert.False(t, exists)

	again := load(t, fs, "auth")
	assert.Equal(t, true, again.Creds()["registered"])
	assert.Equal(t, map[string]any{"id": "1@s"}, again.Creds()["me"])
}

func TestCredsIsACopy(t *testing.T) {
	st := load(t, afero.NewMemMapFs(), "auth")
	c := st.Creds()
	c["registered"] = true
	assert.Equal(t, false, st.Creds()["registered"])
}

func TestKeys(t *testing.T) {
	fs := afero.NewMemMapFs()
	st := load(t, fs, "auth")

	v, err := st.GetKey("pre-key", "1")
	require.NoError(t, err)
	assert.Nil(t, v)

	require.NoError(t, st.SetKey("session", "123:4/5", map[string]any{"k": "v"}))
	ok, err := afero.Exists(fs, "auth/session-123-4__5.json")
	require.NoError(t, err)
	assert.True(t, ok)

	v, err = st.GetKey("session", "123:4/5")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"k": "v"}, v)

	require.NoError(t, st.SetKey("session", "123:4/5", nil))
	v, err = st.GetKey("session", "123:4/5")
	require.NoError(t, err)
	assert.Nil(t, v)
	require.NoError(t, st.SetKey("session", "absent", nil))
}

func TestLoad_Errors(t *testing.T) {
	fs := afero.NewMemMapFs()
	store := NewStore(fs)

	_, err := store.Load(context.Background(), "")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "file", []byte("x"), 0o600))
	_, err = store.Load(context.Background(), "file")
	assert.True(t, errors.Is(err, ErrNotDirectory))

	require.NoError(t, fs.MkdirAll("broken", 0o700))
	require.NoError(t, afero.WriteFile(fs, "broken/creds.json", []byte("[1,2]"), 0o600))
	_, err = store.Load(context.Background(), "broken")
	assert.ErrorContains(t, err, "not an object")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = store.Load(ctx, "auth")
	assert.ErrorIs(t, err, context.Canceled)
}
