// Package authstate keeps backend credentials as a directory of JSON files:
// creds.json for the account credentials and one file per signal key.
package authstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/bridge/internal/core"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
)

const credsFile = "creds.json"

var ErrNotDirectory = errors.New("auth path is not a directory")

// Store loads auth state from a filesystem. It implements core.AuthLoader.
type Store struct {
	fs afero.Fs
}

func NewStore(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs}
}

// State is the loaded credential state handed to the backend.
type State struct {
	fs  afero.Fs
	dir string

	mu    sync.RWMutex
	creds map[string]any
}

// Load opens (creating if needed) the auth directory at path.
func (s *Store) Load(ctx context.Context, path string) (*core.AuthState, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("empty auth path")
	}
	if info, err := s.fs.Stat(path); err == nil && !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotDirectory, path)
	}
	if err := s.fs.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("create auth dir: %w", err)
	}

	st := &State{fs: s.fs, dir: path}
	creds, err := st.readJSON(credsFile)
	switch {
	case errors.Is(err, os.ErrNotExist):
		st.creds = initCreds()
		log.Info().Str("module", "authstate").Str("dir", path).Msg("new credentials")
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", credsFile, err)
	default:
		m, ok := creds.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("read %s: not an object", credsFile)
		}
		st.creds = m
		log.Info().Str("module", "authstate").Str("dir", path).Msg("loaded credentials")
	}
	return &core.AuthState{State: st, Persist: st.SaveCreds}, nil
}

func initCreds() map[string]any {
	return map[string]any{
		"registered": false,
		"createdAt":  time.Now().UTC().Format(time.RFC3339),
	}
}

func (st *State) Dir() string { return st.dir }

// Creds returns a shallow copy of the credentials.
func (st *State) Creds() map[string]any {
	st.mu.RLock()
	defer st.mu.RUnlock()
	out := make(map[string]any, len(st.creds))
	for k, v := range st.creds {
		out[k] = v
	}
	return out
}

// UpdateCreds merges patch into the credentials. It does not write them; the
// backend announces the change and the bridge persists it.
func (st *State) UpdateCreds(patch map[string]any) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for k, v := range patch {
		st.creds[k] = v
	}
}

func (st *State) SaveCreds() error {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.writeJSON(credsFile, st.creds)
}

// GetKey reads one signal key; a missing key is (nil, nil).
func (st *State) GetKey(kind, id string) (any, error) {
	v, err := st.readJSON(keyFile(kind, id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return v, err
}

// SetKey writes one signal key, or removes it when value is nil.
func (st *State) SetKey(kind, id string, value any) error {
	name := keyFile(kind, id)
	if value == nil {
		err := st.fs.Remove(filepath.Join(st.dir, name))
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return st.writeJSON(name, value)
}

func keyFile(kind, id string) string {
	return fixFileName(kind + "-" + id + ".json")
}

func fixFileName(name string) string {
	name = strings.ReplaceAll(name, "/", "__")
	return strings.ReplaceAll(name, ":", "-")
}

func (st *State) readJSON(name string) (any, error) {
	b, err := afero.ReadFile(st.fs, filepath.Join(st.dir, name))
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return v, nil
}

func (st *State) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	path := filepath.Join(st.dir, name)
	tmp := path + ".tmp"
	if err := afero.WriteFile(st.fs, tmp, b, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return st.fs.Rename(tmp, path)
}
