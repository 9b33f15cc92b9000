// Package status exposes the operational surface of a restreaming
// session: health and status endpoints plus Prometheus metrics.
package status

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/e7canasta/dash-restreamer/internal/pipeline"
	"github.com/e7canasta/dash-restreamer/internal/restream"
)

// Metrics holds Prometheus counters and gauges for the restreamer.
// Values are pushed through restream.Hooks, so the control loop stays
// free of any metrics dependency.
type Metrics struct {
	registry            *prometheus.Registry
	failoversTotal      *prometheus.CounterVec
	reconnectsScheduled prometheus.Counter
	retriesTotal        prometheus.Counter
	faultsTotal         *prometheus.CounterVec
	portsAnnounced      *prometheus.CounterVec
	activeInput         prometheus.Gauge
}

// NewMetrics creates and registers the restreamer metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	failoversTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_failovers_total",
		Help: "Total number of active-input switches, labelled by the input switched to",
	}, []string{"to"})
	reconnectsScheduled := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "restreamd_reconnects_scheduled_total",
		Help: "Total number of live-source reconnects scheduled",
	})
	retriesTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "restreamd_retries_total",
		Help: "Total number of live-source restarts issued",
	})
	faultsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_faults_total",
		Help: "Total number of engine faults, labelled by category and fatality",
	}, []string{"category", "fatal"})
	portsAnnounced := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "restreamd_ports_announced_total",
		Help: "Total number of dynamic ports announced by the live source, labelled by media kind",
	}, []string{"media"})
	activeInput := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "restreamd_active_input",
		Help: "Input currently feeding the output ladder (1 = live, 0 = filler)",
	})

	registry.MustRegister(
		failoversTotal,
		reconnectsScheduled,
		retriesTotal,
		faultsTotal,
		portsAnnounced,
		activeInput,
	)

	return &Metrics{
		registry:            registry,
		failoversTotal:      failoversTotal,
		reconnectsScheduled: reconnectsScheduled,
		retriesTotal:        retriesTotal,
		faultsTotal:         faultsTotal,
		portsAnnounced:      portsAnnounced,
		activeInput:         activeInput,
	}
}

// Hooks returns the restream hooks that feed these metrics.
func (m *Metrics) Hooks() restream.Hooks {
	return restream.Hooks{
		OnFailover: func(active pipeline.Input) {
			m.failoversTotal.WithLabelValues(active.String()).Inc()
			if active == pipeline.InputLive {
				m.activeInput.Set(1)
			} else {
				m.activeInput.Set(0)
			}
		},
		OnReconnectScheduled: func() {
			m.reconnectsScheduled.Inc()
		},
		OnRetry: func() {
			m.retriesTotal.Inc()
		},
		OnPortAnnounced: func(media pipeline.MediaKind) {
			m.portsAnnounced.WithLabelValues(media.String()).Inc()
		},
		OnFault: func(category pipeline.FaultCategory, fatal bool) {
			m.faultsTotal.WithLabelValues(category.String(), strconv.FormatBool(fatal)).Inc()
		},
	}
}

// Handler returns an http.Handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
