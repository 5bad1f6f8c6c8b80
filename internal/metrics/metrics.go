// package metrics exposes Prometheus instrumentation for the worker.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the worker's counters. A nil *Metrics is a valid no-op
// receiver so library code can be instrumented unconditionally.
type Metrics struct {
	registry *prometheus.Registry

	messagesProcessed *prometheus.CounterVec
	rateLimitHits     prometheus.Counter
	tokenRefreshes    *prometheus.CounterVec
	batchesCancelled  prometheus.Counter
	messagesRequeued  prometheus.Counter
}

// New creates a [Metrics] backed by its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		messagesProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spindex",
			Name:      "messages_processed_total",
			Help:      "Messages processed, by message type and outcome.",
		}, []string{"type", "result"}),
		rateLimitHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spindex",
			Name:      "rate_limit_hits_total",
			Help:      "Spotify 429 responses observed.",
		}),
		tokenRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "spindex",
			Name:      "token_refreshes_total",
			Help:      "Access token refresh attempts, by outcome.",
		}, []string{"result"}),
		batchesCancelled: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spindex",
			Name:      "batches_cancelled_total",
			Help:      "Batches abandoned at the invocation deadline.",
		}),
		messagesRequeued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "spindex",
			Name:      "messages_requeued_total",
			Help:      "Messages re-enqueued by the cancellation drain.",
		}),
	}
}

// ObserveMessage records one processed message.
func (m *Metrics) ObserveMessage(msgType, result string) {
	if m == nil {
		return
	}
	m.messagesProcessed.WithLabelValues(msgType, result).Inc()
}

// ObserveRateLimit records one 429 response.
func (m *Metrics) ObserveRateLimit() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}

// ObserveTokenRefresh records one refresh attempt.
func (m *Metrics) ObserveTokenRefresh(result string) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result).Inc()
}

// ObserveBatchCancelled records one batch abandoned at the deadline.
func (m *Metrics) ObserveBatchCancelled() {
	if m == nil {
		return
	}
	m.batchesCancelled.Inc()
}

// ObserveRequeue records messages re-enqueued during a cancellation drain.
func (m *Metrics) ObserveRequeue(count int) {
	if m == nil {
		return
	}
	m.messagesRequeued.Add(float64(count))
}

// Handler returns the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve blocks serving the /metrics endpoint on addr.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
