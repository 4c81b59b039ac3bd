// Package metrics exposes Prometheus metrics of the tracker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/site-tracker/backend/internal/feed"
	"github.com/site-tracker/backend/internal/tracker"
)

// Metrics holds all Prometheus metrics of the service.
type Metrics struct {
	feedUpdates   *prometheus.CounterVec
	feedConnected prometheus.Gauge
	trackedTags   prometheus.Gauge
	parseDuration prometheus.Histogram
	parseFailures prometheus.Counter
	frameRenders  prometheus.Histogram
	wsClients     prometheus.Gauge
}

// NewMetrics creates and registers the metrics on reg, or on the default
// registerer when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		feedUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "site_tracker_feed_updates_total",
				Help: "Total number of tracker updates by kind",
			},
			[]string{"kind"},
		),
		feedConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "site_tracker_feed_connected",
				Help: "1 while the position feed is connected",
			},
		),
		trackedTags: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "site_tracker_tracked_tags",
				Help: "Number of tags with a known position",
			},
		),
		parseDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "site_tracker_dxf_parse_duration_ms",
				Help:    "Duration of floor plan parses in milliseconds",
				Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		parseFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "site_tracker_dxf_parse_failures_total",
				Help: "Total number of floor plan parses that failed",
			},
		),
		frameRenders: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "site_tracker_frame_render_duration_ms",
				Help:    "Duration of SVG frame renders in milliseconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		wsClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "site_tracker_ws_clients",
				Help: "Number of connected dashboard WebSocket clients",
			},
		),
	}
}

// RecordParse records a parse duration and whether it failed.
func (m *Metrics) RecordParse(d time.Duration, failed bool) {
	m.parseDuration.Observe(float64(d.Microseconds()) / 1000)
	if failed {
		m.parseFailures.Inc()
	}
}

// RecordRender records a frame render duration.
func (m *Metrics) RecordRender(d time.Duration) {
	m.frameRenders.Observe(float64(d.Microseconds()) / 1000)
}

// SetTrackedTags sets the number of tracked tags.
func (m *Metrics) SetTrackedTags(n int) {
	m.trackedTags.Set(float64(n))
}

// SetWSClients sets the number of dashboard clients.
func (m *Metrics) SetWSClients(n int) {
	m.wsClients.Set(float64(n))
}

// Sink adapts the metrics to tracker.Sink.
func (m *Metrics) Sink() tracker.Sink {
	return tracker.SinkFunc(func(u tracker.Update) {
		m.feedUpdates.WithLabelValues(string(u.Kind)).Inc()
		if u.Kind == tracker.UpdateStatus {
			if u.Status == feed.StatusConnected {
				m.feedConnected.Set(1)
			} else {
				m.feedConnected.Set(0)
			}
		}
	})
}
