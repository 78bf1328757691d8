package app

import (
	"errors"

	"github.com/dkeye/bridge/internal/codec"
	"github.com/dkeye/bridge/internal/core"
	"github.com/rs/zerolog/log"
)

// Fanout forwards backend events to the active connection. Events are never
// buffered or replayed: with no active connection, or a full send buffer, the
// event is dropped and counted.
type Fanout struct {
	Session *Session
	Metrics *Metrics
	Policy  Policy
}

func NewFanout(s *Session, m *Metrics, p Policy) *Fanout {
	if p == nil {
		p = DropPolicy{}
	}
	return &Fanout{Session: s, Metrics: m, Policy: p}
}

// Bind is the Binder used by the session to register forwarders.
func (f *Fanout) Bind(b core.Backend, event string) func() {
	return b.Events().Subscribe(event, func(data any) {
		f.Publish(event, data)
	})
}

// Publish delivers one event occurrence and reports whether it was queued.
func (f *Fanout) Publish(event string, data any) bool {
	conn, ok := f.Session.Connection()
	if !ok {
		f.Metrics.EventsDropped.WithLabelValues(DropNoConnection).Inc()
		log.Debug().Str("module", "app.fanout").Str("event", event).Msg("no active connection, event dropped")
		return false
	}

	frame, err := codec.EncodeEvent(event, data)
	if err != nil {
		f.Metrics.EventsDropped.WithLabelValues(DropEncode).Inc()
		log.Error().Err(err).Str("module", "app.fanout").Str("event", event).Msg("encode event")
		return false
	}

	if err := conn.TrySend(frame); err != nil {
		if errors.Is(err, core.ErrBackpressure) {
			f.Metrics.EventsDropped.WithLabelValues(DropBackpressure).Inc()
			action := f.Policy.OnBackpressure(conn, event)
			log.Warn().Str("module", "app.fanout").Str("event", event).Str("conn", conn.ID()).Int("action", int(action)).Msg("send buffer full, event dropped")
			if action == CloseConnection {
				conn.Close()
			}
			return false
		}
		f.Metrics.EventsDropped.WithLabelValues(DropNoConnection).Inc()
		log.Debug().Err(err).Str("module", "app.fanout").Str("event", event).Msg("event dropped")
		return false
	}
	f.Metrics.EventsForwarded.WithLabelValues(event).Inc()
	f.Metrics.FramesSent.WithLabelValues("EVENT").Inc()
	return true
}
