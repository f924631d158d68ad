// Package metrics is the module's ambient Prometheus surface:
// consensus round latency, append latency, and queue depth, exposed
// only on the liveness /metrics endpoint cmd/aegisctl's serve
// subcommand mounts — never a dashboard, per spec.md's non-goal on
// general HTTP/UI surface design.
//
// Grounded on _examples/luxfi-consensus/api/metrics/metrics.go's
// shape: a struct of already-registered collectors built once by a
// constructor that takes a prometheus.Registerer, with accessor/
// observe methods instead of package-level globals, so tests can each
// build their own isolated *Metrics against their own registry.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aegisflow/aegis/pkg/util"
)

// Metrics holds every collector this module exposes. Namespace prefixes
// every metric name (e.g. "aegis_consensus_round_seconds").
type Metrics struct {
	consensusRoundSeconds prometheus.Histogram
	appendSeconds         *prometheus.HistogramVec
	queueDepth            *prometheus.GaugeVec
	registry              *prometheus.Registry
}

// New builds a Metrics with a private registry and registers every
// collector against it, so a caller never needs to touch the
// prometheus default registry (and multiple Metrics instances, as in
// tests, never collide).
func New(namespace string) (*Metrics, error) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		consensusRoundSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consensus_round_seconds",
			Help:      "Time from a consensus round's PRE_PREPARE to its COMMIT decision.",
			Buckets:   prometheus.DefBuckets,
		}),
		appendSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "append_seconds",
			Help:      "Time to durably append one record, by store.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"store"}),
		queueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Waiting and in-flight work, by component and kind.",
		}, []string{"component", "kind"}),
		registry: reg,
	}

	for _, c := range []prometheus.Collector{m.consensusRoundSeconds, m.appendSeconds, m.queueDepth} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// ObserveConsensusRound records one round's end-to-end latency.
func (m *Metrics) ObserveConsensusRound(d time.Duration) {
	m.consensusRoundSeconds.Observe(d.Seconds())
}

// ObserveAppend records one store append's latency, labeled by which
// store performed it ("eventstore", "audit").
func (m *Metrics) ObserveAppend(store string, d time.Duration) {
	m.appendSeconds.WithLabelValues(store).Observe(d.Seconds())
}

// SetQueueDepth records a point-in-time depth for component/kind (e.g.
// component="coordinator", kind="waiting" or kind="in_flight").
func (m *Metrics) SetQueueDepth(component, kind string, depth float64) {
	m.queueDepth.WithLabelValues(component, kind).Set(depth)
}

// Handler exposes every registered collector for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// BackpressureSource is the narrow view onto a work-admission gate
// this package polls — satisfied as-is by
// internal/coordinator.Backpressure without that package importing
// internal/metrics.
type BackpressureSource interface {
	Waiting() int
	InFlight() int
}

// PollBackpressure samples src once and records it under component.
func (m *Metrics) PollBackpressure(component string, src BackpressureSource) {
	m.SetQueueDepth(component, "waiting", float64(src.Waiting()))
	m.SetQueueDepth(component, "in_flight", float64(src.InFlight()))
}

// StartBackpressurePoller samples src every interval until ctx is
// canceled, via pkg/util.SafeGo so a panic in a scrape-adjacent
// goroutine never takes down the process.
func (m *Metrics) StartBackpressurePoller(ctx context.Context, component string, src BackpressureSource, interval time.Duration) {
	util.SafeGo(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.PollBackpressure(component, src)
			}
		}
	})
}
