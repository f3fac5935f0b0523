package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	registry *prometheus.Registry

	ActiveConnections    prometheus.Gauge
	ConversationsStarted prometheus.Counter
	Messages             *prometheus.CounterVec
	WSMessages           *prometheus.CounterVec
	WSDropped            prometheus.Counter
	ResponderResults     *prometheus.CounterVec
	GenerateLatency      prometheus.Histogram
	RelayEvents          *prometheus.CounterVec
}

// NewMetrics registers instruments on a private registry so several
// instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Number of registered realtime chat connections.",
		}),
		ConversationsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_started_total",
			Help:      "Conversations started explicitly.",
		}),
		Messages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "User messages relayed by delivery path.",
		}, []string{"path"}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		WSDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_dropped_total",
			Help:      "Outbound WebSocket events dropped because the queue was full.",
		}),
		ResponderResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responder_results_total",
			Help:      "Generated replies by source and outcome.",
		}, []string{"source", "outcome"}),
		GenerateLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generate_latency_ms",
			Help:      "Reply generation latency in milliseconds.",
			Buckets:   []float64{5, 50, 200, 500, 1000, 2000, 5000, 10000, 15000},
		}),
		RelayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Conversation lifecycle events by type.",
		}, []string{"event"}),
	}
}

// ObserveGenerate records one generated reply.
func (m *Metrics) ObserveGenerate(source, outcome string, latency time.Duration) {
	m.ResponderResults.WithLabelValues(source, outcome).Inc()
	m.GenerateLatency.Observe(float64(latency.Milliseconds()))
}

func (m *Metrics) SetActiveConnections(n int) {
	m.ActiveConnections.Set(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
