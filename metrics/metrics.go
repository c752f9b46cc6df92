// Package metrics exposes Prometheus counters for the download engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters for the grabber. A private registry keeps
// the optional /metrics endpoint free of default process collectors' noise
// from test binaries.
type Metrics struct {
	registry *prometheus.Registry

	PlaylistPolls   prometheus.Counter
	PollFailures    prometheus.Counter
	SegmentsFetched prometheus.Counter
	SegmentFailures prometheus.Counter
	SegmentBytes    prometheus.Counter
	Rotations       prometheus.Counter
	HooksLaunched   prometheus.Counter
}

// New creates and registers all grabber metrics.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		PlaylistPolls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_playlist_polls_total",
			Help: "Total number of media playlist fetch attempts",
		}),
		PollFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_playlist_poll_failures_total",
			Help: "Total number of failed media playlist fetches or parses",
		}),
		SegmentsFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_segments_fetched_total",
			Help: "Total number of media segments fetched successfully",
		}),
		SegmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_segment_failures_total",
			Help: "Total number of segment fetches that exhausted their retry budget",
		}),
		SegmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_segment_bytes_total",
			Help: "Total segment bytes written to output files",
		}),
		Rotations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_rotations_total",
			Help: "Total number of completed output files",
		}),
		HooksLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hlsgrab_hooks_launched_total",
			Help: "Total number of on-segment hook commands launched",
		}),
	}

	registry.MustRegister(
		m.PlaylistPolls,
		m.PollFailures,
		m.SegmentsFetched,
		m.SegmentFailures,
		m.SegmentBytes,
		m.Rotations,
		m.HooksLaunched,
	)

	return m
}

// Handler returns an HTTP handler serving the registry in Prometheus format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
