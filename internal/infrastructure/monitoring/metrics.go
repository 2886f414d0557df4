package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/youtube/cobalt-sub008/internal/prefetch"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RequestSize     *prometheus.HistogramVec
	ResponseSize    *prometheus.HistogramVec

	// Header attachment metrics
	HeaderAttachments *prometheus.CounterVec
	PreflightWithheld *prometheus.CounterVec

	// Prefetch metrics
	PrefetchQueued    prometheus.Counter
	PrefetchStatuses  *prometheus.CounterVec
	PrefetchEvictions *prometheus.CounterVec
	DrainBatch        prometheus.Histogram
	QueueDepthGauge   prometheus.Gauge

	// Network metrics
	FetchDuration      *prometheus.HistogramVec
	BreakerTransitions *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot Snapshot

	mu sync.RWMutex
}

// Snapshot holds current metric values for the JSON API
type Snapshot struct {
	TotalRequests     int64            `json:"total_requests"`
	TotalErrors       int64            `json:"total_errors"`
	PrefetchesQueued  int64            `json:"prefetches_queued"`
	PrefetchStatuses  map[string]int64 `json:"prefetch_statuses"`
	HeadersAttached   int64            `json:"headers_attached"`
	HeadersSkipped    int64            `json:"headers_skipped"`
	QueueDepth        int64            `json:"queue_depth"`
	DrainPasses       int64            `json:"drain_passes"`
	ActiveConnections int64            `json:"active_connections"`
	UptimeSeconds     float64          `json:"uptime_seconds"`
}

// NewMetrics creates a metrics collector registered on reg. A nil reg uses
// a fresh private registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),
		snapshot:  Snapshot{PrefetchStatuses: make(map[string]int64)},

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_http_requests_total",
				Help: "Total number of control API requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browserhost_http_request_duration_seconds",
				Help:    "Control API request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),
		RequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browserhost_http_request_size_bytes",
				Help:    "Control API request size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),
		ResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browserhost_http_response_size_bytes",
				Help:    "Control API response size in bytes",
				Buckets: []float64{100, 1000, 10000, 100000, 1000000},
			},
			[]string{"method", "path"},
		),

		HeaderAttachments: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_origin_header_attachments_total",
				Help: "Configured headers matching a request origin, by whether they were attached",
			},
			[]string{"name", "attached"},
		),
		PreflightWithheld: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_origin_header_preflight_withheld_total",
				Help: "Matching headers withheld from a CORS preflight",
			},
			[]string{"name"},
		),

		PrefetchQueued: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "browserhost_prefetch_enqueued_total",
				Help: "Prefetch requests accepted into the queue",
			},
		),
		PrefetchStatuses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_prefetch_status_total",
				Help: "Terminal prefetch statuses delivered to callers",
			},
			[]string{"status"},
		),
		PrefetchEvictions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_prefetch_evicted_total",
				Help: "Prefetch entries evicted from the cache",
			},
			[]string{"reason"},
		),
		DrainBatch: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "browserhost_prefetch_drain_batch_size",
				Help:    "Entries popped per drain pass",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		QueueDepthGauge: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browserhost_prefetch_queue_depth",
				Help: "Prefetch requests waiting for a drain",
			},
		),

		FetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "browserhost_network_fetch_duration_seconds",
				Help:    "Outgoing request duration in seconds",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"initiator", "outcome"},
		),
		BreakerTransitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_network_breaker_transitions_total",
				Help: "Per-origin circuit breaker state transitions",
			},
			[]string{"to"},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "browserhost_ws_connections",
				Help: "Number of active event stream connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "browserhost_ws_messages_total",
				Help: "Total number of event stream messages",
			},
			[]string{"direction", "type"},
		),
	}

	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "browserhost_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records a control API request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, reqSize, respSize int64) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.RequestSize.WithLabelValues(method, path).Observe(float64(reqSize))
	m.ResponseSize.WithLabelValues(method, path).Observe(float64(respSize))

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if len(status) > 0 && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// HeaderAttached implements headers.Recorder.
func (m *Metrics) HeaderAttached(name string, attached bool) {
	label := "false"
	if attached {
		label = "true"
	}
	m.HeaderAttachments.WithLabelValues(name, label).Inc()

	m.mu.Lock()
	if attached {
		m.snapshot.HeadersAttached++
	} else {
		m.snapshot.HeadersSkipped++
	}
	m.mu.Unlock()
}

// PreflightTargeted implements headers.Recorder.
func (m *Metrics) PreflightTargeted(name string) {
	m.PreflightWithheld.WithLabelValues(name).Inc()
}

// PrefetchEnqueued implements prefetch.Recorder.
func (m *Metrics) PrefetchEnqueued() {
	m.PrefetchQueued.Inc()
	m.mu.Lock()
	m.snapshot.PrefetchesQueued++
	m.mu.Unlock()
}

// PrefetchStatus implements prefetch.Recorder.
func (m *Metrics) PrefetchStatus(status prefetch.StatusCode) {
	m.PrefetchStatuses.WithLabelValues(status.String()).Inc()
	m.mu.Lock()
	m.snapshot.PrefetchStatuses[status.String()]++
	m.mu.Unlock()
}

// PrefetchEvicted implements prefetch.Recorder.
func (m *Metrics) PrefetchEvicted(reason string) {
	m.PrefetchEvictions.WithLabelValues(reason).Inc()
}

// DrainPass implements prefetch.Recorder.
func (m *Metrics) DrainPass(batch int) {
	m.DrainBatch.Observe(float64(batch))
	m.mu.Lock()
	m.snapshot.DrainPasses++
	m.mu.Unlock()
}

// QueueDepth implements prefetch.Recorder.
func (m *Metrics) QueueDepth(depth int) {
	m.QueueDepthGauge.Set(float64(depth))
	m.mu.Lock()
	m.snapshot.QueueDepth = int64(depth)
	m.mu.Unlock()
}

// RecordFetch records one outgoing request made by the network client.
func (m *Metrics) RecordFetch(initiator, outcome string, duration time.Duration) {
	m.FetchDuration.WithLabelValues(initiator, outcome).Observe(duration.Seconds())
}

// RecordBreakerTransition records a per-origin breaker state change.
func (m *Metrics) RecordBreakerTransition(to string) {
	m.BreakerTransitions.WithLabelValues(to).Inc()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.ActiveConnections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.ActiveConnections--
	m.mu.Unlock()
}

// Snapshot returns a copy of the tracked values.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.snapshot
	out.PrefetchStatuses = make(map[string]int64, len(m.snapshot.PrefetchStatuses))
	for k, v := range m.snapshot.PrefetchStatuses {
		out.PrefetchStatuses[k] = v
	}
	out.UptimeSeconds = time.Since(m.startTime).Seconds()
	return out
}
