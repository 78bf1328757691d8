package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"
	"sync"

	"github.com/dkeye/bridge/internal/core"
	"github.com/go-viper/mapstructure/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevelOption is consumed by the bridge and never forwarded to the backend.
const LogLevelOption = "log_level"

var ErrInvalidLogLevel = errors.New("invalid log_level")

type InitParams struct {
	AuthPath string
	Config   map[string]any
}

// Lifecycle creates backend instances on demand and wires them into the session.
type Lifecycle struct {
	Session *Session
	Fanout  *Fanout
	Metrics *Metrics
	Auth    core.AuthLoader
	Factory core.BackendFactory

	DefaultAuthPath string
	DefaultLogLevel string
	// Defaults are backend options that callers may override per INIT.
	Defaults map[string]any
	// Logger is the parent of every backend logger.
	Logger zerolog.Logger

	// mu serializes Initialize; a failed INIT must not clear a backend
	// installed by another one.
	mu sync.Mutex
}

// Initialize loads credentials, builds a backend and installs it. On failure
// no backend is left installed.
func (l *Lifecycle) Initialize(ctx context.Context, p InitParams) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if err != nil {
			l.dispose(l.Session.ClearBackend())
			l.Metrics.Inits.WithLabelValues("error").Inc()
			l.Metrics.BackendInitialized.Set(0)
			return
		}
		l.Metrics.Inits.WithLabelValues("ok").Inc()
		l.Metrics.BackendInitialized.Set(1)
	}()

	authPath := p.AuthPath
	if authPath == "" {
		authPath = l.DefaultAuthPath
	}
	log.Info().Str("module", "app.lifecycle").Str("auth_path", authPath).Msg("initializing backend")

	auth, err := l.Auth.Load(ctx, authPath)
	if err != nil {
		return fmt.Errorf("load auth state %q: %w", authPath, err)
	}

	opts, level, err := l.mergeOptions(p.Config)
	if err != nil {
		return err
	}

	backend, err := l.Factory.Create(core.BackendConfig{
		Auth:    auth.State,
		Logger:  l.Logger.Level(level).With().Str("module", "backend").Logger(),
		Options: opts,
	})
	if err != nil {
		return fmt.Errorf("create backend: %w", err)
	}

	events := backend.Events()
	hooks := []func(){
		events.Subscribe(core.EventCredsUpdate, func(any) {
			if auth.Persist == nil {
				return
			}
			if err := auth.Persist(); err != nil {
				log.Error().Err(err).Str("module", "app.lifecycle").Str("auth_path", authPath).Msg("persist credentials")
			}
		}),
		events.Subscribe(core.EventConnectionUpdate, l.observeConnection),
	}

	l.dispose(l.Session.InstallBackend(backend, hooks, l.Fanout.Bind))
	// Connection state changes always reach the client.
	l.Session.Subscribe(core.EventConnectionUpdate, l.Fanout.Bind)
	return nil
}

// mergeOptions overlays caller options onto the defaults and strips the log level.
func (l *Lifecycle) mergeOptions(overrides map[string]any) (map[string]any, zerolog.Level, error) {
	opts := make(map[string]any, len(l.Defaults)+len(overrides))
	maps.Copy(opts, l.Defaults)
	maps.Copy(opts, overrides)

	raw, ok := opts[LogLevelOption]
	delete(opts, LogLevelOption)
	name := l.DefaultLogLevel
	if ok && raw != nil {
		s, isString := raw.(string)
		if !isString {
			return nil, zerolog.NoLevel, fmt.Errorf("%w: %v", ErrInvalidLogLevel, raw)
		}
		name = s
	}
	level, err := ParseLogLevel(name)
	if err != nil {
		return nil, zerolog.NoLevel, err
	}
	return opts, level, nil
}

// ParseLogLevel accepts zerolog level names plus "silent". Empty means info.
func ParseLogLevel(name string) (zerolog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "":
		return zerolog.InfoLevel, nil
	case "silent", "off":
		return zerolog.Disabled, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(name)))
	if err != nil || level == zerolog.NoLevel {
		return zerolog.NoLevel, fmt.Errorf("%w: %q", ErrInvalidLogLevel, name)
	}
	return level, nil
}

// observeConnection keeps the backend connection state for status reporting.
// The reconnect decision is logged only; the bridge never reconnects.
func (l *Lifecycle) observeConnection(data any) {
	u, err := DecodeConnectionUpdate(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.lifecycle").Msg("unreadable connection update")
		return
	}
	l.Session.SetConnectionState(u)
	if u.Connection != core.StateClose {
		return
	}
	ev := log.Info().Str("module", "app.lifecycle").Bool("should_reconnect", u.ShouldReconnect())
	if u.LastDisconnect != nil {
		ev = ev.Int("status_code", u.LastDisconnect.StatusCode)
	}
	ev.Msg("backend connection closed, not reconnecting")
}

func DecodeConnectionUpdate(data any) (core.ConnectionUpdate, error) {
	switch v := data.(type) {
	case core.ConnectionUpdate:
		return v, nil
	case *core.ConnectionUpdate:
		if v == nil {
			return core.ConnectionUpdate{}, errors.New("nil connection update")
		}
		return *v, nil
	}

	var u core.ConnectionUpdate
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &u,
	})
	if err != nil {
		return u, err
	}
	if err := dec.Decode(data); err != nil {
		return u, fmt.Errorf("decode connection update: %w", err)
	}
	return u, nil
}

func (l *Lifecycle) dispose(b core.Backend) {
	if b == nil {
		return
	}
	if c, ok := b.(io.Closer); ok {
		if err := c.Close(); err != nil {
			log.Warn().Err(err).Str("module", "app.lifecycle").Msg("close previous backend")
		}
	}
}
