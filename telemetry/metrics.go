package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "deliverybot"

// Metrics holds the game server's Prometheus collectors on a private registry.
// All Record methods are safe on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	actions         *prometheus.CounterVec
	rejections      *prometheus.CounterVec
	replays         *prometheus.CounterVec
	replayDuration  *prometheus.HistogramVec
	levelsCompleted *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	wsClients       prometheus.Gauge
}

// NewMetrics creates and registers all collectors
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_total",
				Help:      "Submitted actions by mode, action and result",
			},
			[]string{"mode", "action", "result"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected actions by rule",
			},
			[]string{"kind"},
		),
		replays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "replays_total",
				Help:      "Program replays by result",
			},
			[]string{"result"},
		),
		replayDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "replay_duration_seconds",
				Help:      "Wall time of program replays",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
			[]string{"result"},
		),
		levelsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "levels_completed_total",
				Help:      "Levels cleared by mode",
			},
			[]string{"mode"},
		),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions currently held in memory",
		}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected websocket clients",
		}),
	}

	registry.MustRegister(
		m.actions,
		m.rejections,
		m.replays,
		m.replayDuration,
		m.levelsCompleted,
		m.activeSessions,
		m.wsClients,
	)
	return m
}

// RecordAction counts one submitted action
func (m *Metrics) RecordAction(mode, action, result string) {
	if m == nil {
		return
	}
	m.actions.WithLabelValues(mode, action, result).Inc()
}

// RecordRejection counts a rule violation
func (m *Metrics) RecordRejection(kind string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(kind).Inc()
}

// RecordReplay counts a finished replay and its duration
func (m *Metrics) RecordReplay(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.replays.WithLabelValues(result).Inc()
	m.replayDuration.WithLabelValues(result).Observe(d.Seconds())
}

// RecordLevelComplete counts a cleared level
func (m *Metrics) RecordLevelComplete(mode string) {
	if m == nil {
		return
	}
	m.levelsCompleted.WithLabelValues(mode).Inc()
}

// SetActiveSessions reports the session count
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// AddWebSocketClients adjusts the connected client gauge
func (m *Metrics) AddWebSocketClients(delta int) {
	if m == nil {
		return
	}
	m.wsClients.Add(float64(delta))
}

// Registry exposes the private registry for tests and custom collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
