package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the bot.
// It satisfies conversation.Observer.
type Metrics struct {
	CacheLookups      *prometheus.CounterVec
	StoreErrors       *prometheus.CounterVec
	SweptRecords      prometheus.Counter
	Messages          *prometheus.CounterVec
	GenerationErrors  prometheus.Counter
	GenerationLatency prometheus.Histogram
}

// NewMetrics registers instruments on reg. A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_cache_lookups_total",
			Help:      "Conversation cache lookups by result.",
		}, []string{"result"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_store_errors_total",
			Help:      "Durable store failures by operation.",
		}, []string{"op"}),
		SweptRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversation_swept_records_total",
			Help:      "Conversation records removed by the retention sweep.",
		}),
		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Inbound messages by outcome.",
		}, []string{"outcome"}),
		GenerationErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generation_errors_total",
			Help:      "Failed calls to the text generation service.",
		}),
		GenerationLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_latency_seconds",
			Help:      "Latency of text generation calls.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
	}
	reg.MustRegister(m.CacheLookups, m.StoreErrors, m.SweptRecords, m.Messages, m.GenerationErrors, m.GenerationLatency)
	return m
}

func (m *Metrics) CacheHit()  { m.CacheLookups.WithLabelValues("hit").Inc() }
func (m *Metrics) CacheMiss() { m.CacheLookups.WithLabelValues("miss").Inc() }

func (m *Metrics) StoreError(op string) { m.StoreErrors.WithLabelValues(op).Inc() }

func (m *Metrics) Swept(n int) { m.SweptRecords.Add(float64(n)) }

func (m *Metrics) Message(outcome string) { m.Messages.WithLabelValues(outcome).Inc() }

func (m *Metrics) GenerationFailed() { m.GenerationErrors.Inc() }

func (m *Metrics) ObserveGeneration(seconds float64) { m.GenerationLatency.Observe(seconds) }

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
