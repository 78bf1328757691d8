package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "bridge"

// Drop reasons for dropped events.
const (
	DropNoConnection = "no_connection"
	DropBackpressure = "backpressure"
	DropEncode       = "encode"
)

type Metrics struct {
	FramesReceived     *prometheus.CounterVec
	FramesSent         *prometheus.CounterVec
	EventsForwarded    *prometheus.CounterVec
	EventsDropped      *prometheus.CounterVec
	CallDuration       *prometheus.HistogramVec
	Inits              *prometheus.CounterVec
	ActiveConnections  prometheus.Gauge
	BackendInitialized prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		FramesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Inbound frames by command",
		}, []string{"cmd"}),
		FramesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Outbound frames by type",
		}, []string{"type"}),
		EventsForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_forwarded_total",
			Help:      "Backend events delivered to the active connection",
		}, []string{"event"}),
		EventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "events_dropped_total",
			Help:      "Backend events that were not delivered",
		}, []string{"reason"}),
		CallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "call_duration_seconds",
			Help:      "Backend operation duration",
			Buckets:   prometheus.DefBuckets,
		}, []string{"cmd", "status"}),
		Inits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "inits_total",
			Help:      "Backend initializations by outcome",
		}, []string{"status"}),
		ActiveConnections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "1 while a client connection is active",
		}),
		BackendInitialized: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "backend_initialized",
			Help:      "1 while a backend instance is installed",
		}),
	}
}
