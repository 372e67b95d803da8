// Package prom exposes token refresh telemetry as Prometheus metrics.
package prom

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ericfisherdev/shiptrack/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.RefreshObserver = (*RefreshMetrics)(nil)

// RefreshMetrics records refresh outcomes and scheduler cycles on its own registry.
type RefreshMetrics struct {
	registry  *prometheus.Registry
	refreshes *prometheus.CounterVec
	cycles    prometheus.Counter
	nextDelay prometheus.Gauge
}

// NewRefreshMetrics creates the collectors on a fresh registry that also
// carries the Go runtime and process collectors.
func NewRefreshMetrics() *RefreshMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &RefreshMetrics{
		registry: reg,
		refreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "shiptrack_token_refresh_total",
			Help: "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
		cycles: factory.NewCounter(prometheus.CounterOpts{
			Name: "shiptrack_refresh_cycles_total",
			Help: "Completed refresh scheduler cycles.",
		}),
		nextDelay: factory.NewGauge(prometheus.GaugeOpts{
			Name: "shiptrack_refresh_cycle_next_delay_seconds",
			Help: "Delay until the next scheduled refresh cycle.",
		}),
	}

	// Pre-create every outcome so dashboards see zeros before the first refresh.
	for _, outcome := range []driven.RefreshOutcome{driven.RefreshSucceeded, driven.RefreshFailed, driven.RefreshSkipped} {
		m.refreshes.WithLabelValues(string(outcome))
	}

	return m
}

// ObserveRefresh counts one refresh attempt.
func (m *RefreshMetrics) ObserveRefresh(outcome driven.RefreshOutcome) {
	m.refreshes.WithLabelValues(string(outcome)).Inc()
}

// ObserveCycle records a finished cycle and the delay it scheduled.
func (m *RefreshMetrics) ObserveCycle(nextDelay time.Duration) {
	m.cycles.Inc()
	m.nextDelay.Set(nextDelay.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func (m *RefreshMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
