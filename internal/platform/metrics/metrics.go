package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Tier label values for the tier gauges.
const (
	TierBuffer    = "buffer"
	TierArchive   = "archive"
	TierRetention = "retention"
)

// Metrics holds Prometheus counters and gauges for the packager service.
type Metrics struct {
	registry             *prometheus.Registry
	requestsTotal        prometheus.Counter
	errorsTotal          prometheus.Counter
	activeStreams        prometheus.Gauge
	streamsEndedTotal    prometheus.Counter
	segmentsCreatedTotal prometheus.Counter
	segmentsDeletedTotal prometheus.Counter
	segmentBytes         prometheus.Histogram
	tierSegments         *prometheus.GaugeVec
}

// New creates and registers Prometheus metrics for the packager service.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_requests_total",
		Help: "Total number of HTTP requests received",
	})
	errorsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_errors_total",
		Help: "Total number of HTTP responses with error status (4xx or 5xx)",
	})
	activeStreams := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hls_active_streams",
		Help: "Number of streams that are not ended",
	})
	streamsEndedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_streams_ended_total",
		Help: "Total number of streams ended",
	})
	segmentsCreatedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_created_total",
		Help: "Total number of segments packaged",
	})
	segmentsDeletedTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hls_segments_deleted_total",
		Help: "Total number of segments that left their last tier",
	})
	segmentBytes := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "hls_segment_bytes",
		Help:    "Size of packaged segments in bytes",
		Buckets: prometheus.ExponentialBuckets(64*1024, 2, 10),
	})
	tierSegments := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hls_tier_segments",
		Help: "Segments currently held per storage tier across all streams",
	}, []string{"tier"})

	registry.MustRegister(
		requestsTotal,
		errorsTotal,
		activeStreams,
		streamsEndedTotal,
		segmentsCreatedTotal,
		segmentsDeletedTotal,
		segmentBytes,
		tierSegments,
	)

	return &Metrics{
		registry:             registry,
		requestsTotal:        requestsTotal,
		errorsTotal:          errorsTotal,
		activeStreams:        activeStreams,
		streamsEndedTotal:    streamsEndedTotal,
		segmentsCreatedTotal: segmentsCreatedTotal,
		segmentsDeletedTotal: segmentsDeletedTotal,
		segmentBytes:         segmentBytes,
		tierSegments:         tierSegments,
	}
}

// IncRequests increments the total request counter.
func (m *Metrics) IncRequests() {
	m.requestsTotal.Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	m.errorsTotal.Inc()
}

// SetActiveStreams sets the active streams gauge.
func (m *Metrics) SetActiveStreams(n int) {
	m.activeStreams.Set(float64(n))
}

// IncStreamsEnded increments the streams ended counter.
func (m *Metrics) IncStreamsEnded() {
	m.streamsEndedTotal.Inc()
}

// SegmentCreated counts a new segment of the given size.
func (m *Metrics) SegmentCreated(size int) {
	m.segmentsCreatedTotal.Inc()
	m.segmentBytes.Observe(float64(size))
}

// SegmentDeleted counts a segment leaving its last tier.
func (m *Metrics) SegmentDeleted() {
	m.segmentsDeletedTotal.Inc()
}

// SetTierSegments sets the segment gauge of one tier.
func (m *Metrics) SetTierSegments(tier string, n int) {
	m.tierSegments.WithLabelValues(tier).Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active streams).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
