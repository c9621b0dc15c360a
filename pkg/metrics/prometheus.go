package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voceo"

// RelayMetrics holds the Prometheus collectors for the relay process.
type RelayMetrics struct {
	SessionsTotal   prometheus.Counter
	SessionsActive  prometheus.Gauge
	UpstreamsActive prometheus.Gauge
	FramesForwarded *prometheus.CounterVec
	MessagesDropped *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewRelayMetrics creates and registers the relay collectors on a private registry.
func NewRelayMetrics() *RelayMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &RelayMetrics{
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of client sessions accepted",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of currently connected client sessions",
		}),
		UpstreamsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "upstreams_active",
			Help:      "Number of currently open upstream connections",
		}),
		FramesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_forwarded_total",
			Help:      "Frames forwarded through the relay by direction and kind",
		}, []string{"direction", "kind"}),
		MessagesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_dropped_total",
			Help:      "Messages dropped by reason (parse failure, unknown type)",
		}, []string{"reason"}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of client sessions in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		registry: reg,
	}
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *RelayMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordEvent lets RelayMetrics double as an Observer for pipeline events.
func (m *RelayMetrics) RecordEvent(ev MetricsEvent) {
	switch ev.Name {
	case "session_open":
		m.SessionsTotal.Inc()
		m.SessionsActive.Inc()
	case "session_close":
		m.SessionsActive.Dec()
		m.SessionDuration.Observe(ev.Value)
	case "upstream_open":
		m.UpstreamsActive.Inc()
	case "upstream_close":
		m.UpstreamsActive.Dec()
	case "frame_forwarded":
		m.FramesForwarded.WithLabelValues(ev.Tags["direction"], ev.Tags["kind"]).Inc()
	case "message_dropped":
		m.MessagesDropped.WithLabelValues(ev.Tags["reason"]).Inc()
	}
}

var _ Observer = (*RelayMetrics)(nil)
