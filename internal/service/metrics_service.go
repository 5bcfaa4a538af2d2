package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/noah-isme/course-proposals/internal/models"
)

// MetricsService encapsulates Prometheus instrumentation and provides lightweight snapshots for API consumption.
type MetricsService struct {
	registry         *prometheus.Registry
	handler          http.Handler
	requestDuration  *prometheus.HistogramVec
	requestTotal     *prometheus.CounterVec
	callbackTotal    *prometheus.CounterVec
	ingestDuration   *prometheus.HistogramVec
	proposalsCreated prometheus.Counter
	proposalsSwept   prometheus.Counter
	leaseContention  prometheus.Counter
	deliveryFailures *prometheus.CounterVec

	requestCount         uint64
	requestDurationTotal uint64
	callbackCount        uint64
	ingestCount          uint64
	ingestFailureCount   uint64
	ingestDurationTotal  uint64
	sweptCount           uint64
	deliveryFailureCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	callbackTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_callbacks_total",
		Help: "Review triggers handled, by action and outcome",
	}, []string{"action", "outcome"})

	ingestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "proposal_ingest_duration_seconds",
		Help:    "Latency of calls to the ingestion service",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"result"})

	proposalsCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proposals_created_total",
		Help: "Total proposals stored",
	})

	proposalsSwept := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proposals_expired_total",
		Help: "Total pending proposals expired by the sweep",
	})

	leaseContention := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proposal_ingest_lease_contention_total",
		Help: "Ingest triggers rejected because another ingest held the lease",
	})

	deliveryFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_delivery_failures_total",
		Help: "Delivery instructions the notification channel failed to perform",
	}, []string{"kind"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, callbackTotal, ingestDuration, proposalsCreated, proposalsSwept, leaseContention, deliveryFailures, goroutines)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:         registry,
		handler:          handler,
		requestDuration:  requestDuration,
		requestTotal:     requestTotal,
		callbackTotal:    callbackTotal,
		ingestDuration:   ingestDuration,
		proposalsCreated: proposalsCreated,
		proposalsSwept:   proposalsSwept,
		leaseContention:  leaseContention,
		deliveryFailures: deliveryFailures,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics and aggregates simple stats for snapshots.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
	atomic.AddUint64(&m.requestCount, 1)
	atomic.AddUint64(&m.requestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordCallback counts a handled trigger. action is empty when the token did not parse.
func (m *MetricsService) RecordCallback(action models.CallbackAction, outcome string) {
	if m == nil {
		return
	}
	label := string(action)
	if label == "" {
		label = "none"
	}
	m.callbackTotal.WithLabelValues(label, outcome).Inc()
	atomic.AddUint64(&m.callbackCount, 1)
}

// ObserveIngest records one call to the ingestion service.
func (m *MetricsService) ObserveIngest(success bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
		atomic.AddUint64(&m.ingestFailureCount, 1)
	}
	m.ingestDuration.WithLabelValues(result).Observe(duration.Seconds())
	atomic.AddUint64(&m.ingestCount, 1)
	atomic.AddUint64(&m.ingestDurationTotal, uint64(duration.Nanoseconds()))
}

// RecordProposalCreated counts a stored proposal.
func (m *MetricsService) RecordProposalCreated() {
	if m == nil {
		return
	}
	m.proposalsCreated.Inc()
}

// RecordSweep adds the number of proposals expired by one sweep.
func (m *MetricsService) RecordSweep(expired int64) {
	if m == nil || expired <= 0 {
		return
	}
	m.proposalsSwept.Add(float64(expired))
	atomic.AddUint64(&m.sweptCount, uint64(expired))
}

// RecordLeaseContention counts an ingest turned away by a held lease.
func (m *MetricsService) RecordLeaseContention() {
	if m == nil {
		return
	}
	m.leaseContention.Inc()
}

// RecordDeliveryFailure counts an instruction the channel could not perform.
func (m *MetricsService) RecordDeliveryFailure(kind models.InstructionKind) {
	if m == nil {
		return
	}
	m.deliveryFailures.WithLabelValues(string(kind)).Inc()
	atomic.AddUint64(&m.deliveryFailureCount, 1)
}

// Snapshot returns aggregated metrics suitable for the summary endpoint.
func (m *MetricsService) Snapshot() models.WorkflowMetrics {
	if m == nil {
		return models.WorkflowMetrics{}
	}
	requests := atomic.LoadUint64(&m.requestCount)
	reqDuration := atomic.LoadUint64(&m.requestDurationTotal)
	ingests := atomic.LoadUint64(&m.ingestCount)
	ingestDuration := atomic.LoadUint64(&m.ingestDurationTotal)

	var avgRequestMs float64
	if requests > 0 {
		avgRequestMs = float64(reqDuration) / float64(requests) / float64(time.Millisecond)
	}

	var avgIngestMs float64
	if ingests > 0 {
		avgIngestMs = float64(ingestDuration) / float64(ingests) / float64(time.Millisecond)
	}

	return models.WorkflowMetrics{
		RequestsTotal:            requests,
		AverageRequestDurationMs: avgRequestMs,
		CallbacksTotal:           atomic.LoadUint64(&m.callbackCount),
		IngestCalls:              ingests,
		IngestFailures:           atomic.LoadUint64(&m.ingestFailureCount),
		AverageIngestDurationMs:  avgIngestMs,
		ProposalsSwept:           atomic.LoadUint64(&m.sweptCount),
		DeliveryFailures:         atomic.LoadUint64(&m.deliveryFailureCount),
		Goroutines:               runtime.NumGoroutine(),
		GeneratedAt:              time.Now().UTC(),
	}
}
