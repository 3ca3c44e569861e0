// Package metrics collects Prometheus counters and histograms for the
// HTTP surface and the retrieval pipeline.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the registered collectors.
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retrievedDocs   prometheus.Histogram
	ingestedChunks  prometheus.Counter
}

// New registers collectors on the given registerer. Each call creates a
// fresh set, so tests can use their own registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "metrodocs_http_requests_total",
			Help: "HTTP requests by path and status code.",
		}, []string{"path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "metrodocs_http_request_duration_seconds",
			Help:    "HTTP request latency by path.",
			Buckets: prometheus.DefBuckets,
		}, []string{"path"}),
		retrievedDocs: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "metrodocs_retrieved_documents",
			Help:    "Documents returned per similarity query.",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		}),
		ingestedChunks: factory.NewCounter(prometheus.CounterOpts{
			Name: "metrodocs_ingested_chunks_total",
			Help: "Chunks written to the vector store.",
		}),
	}
}

// ObserveRequest records one completed HTTP request.
func (m *Metrics) ObserveRequest(path string, status int, elapsed time.Duration) {
	m.requestsTotal.WithLabelValues(path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(path).Observe(elapsed.Seconds())
}

// ObserveRetrieval records the size of one retrieval result.
func (m *Metrics) ObserveRetrieval(count int) {
	m.retrievedDocs.Observe(float64(count))
}

// AddIngestedChunks records chunks persisted by an ingestion run.
func (m *Metrics) AddIngestedChunks(count int) {
	m.ingestedChunks.Add(float64(count))
}
