// Package metrics provides Prometheus metrics for the scorepipe event pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the scorepipe service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	registry         prometheus.Registerer

	// Decode Metrics - What the wire delivered and how well we understood it
	eventsDecoded      *prometheus.CounterVec
	eventsProcessed    prometheus.Counter
	recognitionChanges prometheus.Counter

	// Ingress Queue Metrics
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueUtilization   prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter

	// Worker Metrics - Stream processor performance
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter

	// Persistence Metrics
	persistLatency  prometheus.Histogram
	persistRetries  prometheus.Counter
	persistFailures prometheus.Counter

	// Cache Metrics
	cacheHits      prometheus.Counter
	cacheMisses    prometheus.Counter
	cacheEvictions prometheus.Counter
	cacheSize      prometheus.Gauge

	// Distributor Metrics - Node selection and health
	balancerSelections *prometheus.CounterVec
	balancerNoNode     prometheus.Counter
	nodeHealthy        *prometheus.GaugeVec
	nodeProcessed      *prometheus.CounterVec

	// Listener Metrics
	listenerDatagrams *prometheus.CounterVec
	listenerErrors    prometheus.Counter

	// Broadcast Metrics - Fan-out to live subscribers
	broadcastPublished   prometheus.Counter
	broadcastDrops       *prometheus.CounterVec
	broadcastSubscribers prometheus.Gauge

	// Analytics Metrics
	analyticsSnapshots    prometheus.Counter
	analyticsTickDuration prometheus.Histogram

	// HTTP Performance Metrics
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// System Performance Metrics
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

// Initialize global metrics.
func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "scorepipe",
		subsystem:        "pipeline",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		registry:         prometheus.DefaultRegisterer,
	}

	// Apply all options
	for _, opt := range opts {
		opt(m)
	}

	// Initialize metrics
	m.initializeMetrics()

	return m
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	// Ensure metrics are registered on the configured registry (custom by default)
	auto := promauto.With(m.registry)

	// Decode Metrics
	m.eventsDecoded = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "events_decoded_total",
			Help:      "Total number of decoded events by recognition status",
		},
		[]string{"status"},
	)

	m.eventsProcessed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_processed_total",
		Help:      "Total number of events fully processed by the stream pipeline",
	})

	m.recognitionChanges = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "recognition_changes_total",
		Help:      "Total number of recognition status changes recorded",
	})

	// Ingress Queue Metrics
	m.queueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_size",
		Help:      "Current size of the ingress queue (backlog indicator)",
	})

	m.queueCapacity = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_capacity",
		Help:      "Maximum ingress queue capacity",
	})

	m.queueUtilization = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_utilization_ratio",
		Help:      "Queue utilization ratio (current size / capacity)",
	})

	m.queueEnqueueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_total",
		Help:      "Total number of events enqueued",
	})

	m.queueDequeueRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_dequeue_total",
		Help:      "Total number of events dequeued",
	})

	m.queueEnqueueErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "queue_enqueue_errors_total",
		Help:      "Total number of enqueue failures (backpressure or closed queue)",
	})

	// Worker Metrics
	m.workerActiveCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_active_count",
		Help:      "Number of active stream workers",
	})

	m.workerProcessingLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_processing_latency_milliseconds",
		Help:      "Worker processing latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.workerErrorRate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "worker_errors_total",
		Help:      "Total number of worker errors",
	})

	// Persistence Metrics
	m.persistLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persist_latency_milliseconds",
		Help:      "Persistence store call latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.persistRetries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persist_retries_total",
		Help:      "Total number of persistence retries",
	})

	m.persistFailures = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "persist_failures_total",
		Help:      "Total number of persistence failures after retry exhaustion",
	})

	// Cache Metrics
	m.cacheHits = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	})

	m.cacheMisses = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses (absent or expired)",
	})

	m.cacheEvictions = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_evictions_total",
		Help:      "Total number of cache evictions (sweep, capacity, invalidation)",
	})

	m.cacheSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "cache_size",
		Help:      "Current number of live cache entries",
	})

	// Distributor Metrics
	m.balancerSelections = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "balancer_selections_total",
			Help:      "Total number of node selections by strategy",
		},
		[]string{"strategy"},
	)

	m.balancerNoNode = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "balancer_no_available_node_total",
		Help:      "Total number of selections that failed with no available node",
	})

	m.nodeHealthy = auto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "node_healthy",
			Help:      "Node health flag (1 healthy, 0 unhealthy)",
		},
		[]string{"node_id"},
	)

	m.nodeProcessed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "node_processed_total",
			Help:      "Total number of events processed per listener node",
		},
		[]string{"node_id"},
	)

	// Listener Metrics
	m.listenerDatagrams = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "listener_datagrams_total",
			Help:      "Total number of UDP datagrams received per listener node",
		},
		[]string{"node_id"},
	)

	m.listenerErrors = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "listener_errors_total",
		Help:      "Total number of listener socket errors",
	})

	// Broadcast Metrics
	m.broadcastPublished = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcast_published_total",
		Help:      "Total number of events published on the broadcast channel",
	})

	m.broadcastDrops = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "broadcast_drops_total",
			Help:      "Total number of events dropped for slow subscribers",
		},
		[]string{"subscriber"},
	)

	m.broadcastSubscribers = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "broadcast_subscribers",
		Help:      "Current number of broadcast subscribers",
	})

	// Analytics Metrics
	m.analyticsSnapshots = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_snapshots_total",
		Help:      "Total number of analytics snapshots emitted",
	})

	m.analyticsTickDuration = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "analytics_tick_duration_milliseconds",
		Help:      "Analytics fold/tick duration in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	// HTTP Performance Metrics
	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests by endpoint and method",
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "http_request_duration_milliseconds",
			Help:      "HTTP request duration in milliseconds",
			Buckets:   m.histogramBuckets,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	// System Performance Metrics
	m.systemMemoryUsage = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_memory_usage_bytes",
		Help:      "System memory usage in bytes",
	})

	m.systemGoroutineCount = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "system_goroutine_count",
		Help:      "Number of goroutines",
	})
}

// RecordEventDecoded increments the decoded events counter for a recognition status.
func RecordEventDecoded(status string) {
	globalManager.eventsDecoded.WithLabelValues(status).Inc()
}

// RecordEventProcessed increments the processed events counter.
func RecordEventProcessed() {
	globalManager.eventsProcessed.Inc()
}

// RecordRecognitionChange increments the recognition status change counter.
func RecordRecognitionChange() {
	globalManager.recognitionChanges.Inc()
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the queue capacity gauge.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	globalManager.queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	globalManager.queueEnqueueErrors.Inc()
}

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	globalManager.workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency in milliseconds.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker errors counter.
func RecordWorkerError() {
	globalManager.workerErrorRate.Inc()
}

// RecordPersistLatency records persistence call latency in milliseconds.
func RecordPersistLatency(latencyMs float64) {
	globalManager.persistLatency.Observe(latencyMs)
}

// RecordPersistRetry increments the persistence retry counter.
func RecordPersistRetry() {
	globalManager.persistRetries.Inc()
}

// RecordPersistFailure increments the persistence failure counter.
func RecordPersistFailure() {
	globalManager.persistFailures.Inc()
}

// RecordCacheHit increments the cache hit counter.
func RecordCacheHit() {
	globalManager.cacheHits.Inc()
}

// RecordCacheMiss increments the cache miss counter.
func RecordCacheMiss() {
	globalManager.cacheMisses.Inc()
}

// RecordCacheEviction adds n to the cache eviction counter.
func RecordCacheEviction(n int) {
	globalManager.cacheEvictions.Add(float64(n))
}

// UpdateCacheSize sets the current cache size.
func UpdateCacheSize(size int) {
	globalManager.cacheSize.Set(float64(size))
}

// RecordBalancerSelection increments the selection counter for a strategy.
func RecordBalancerSelection(strategy string) {
	globalManager.balancerSelections.WithLabelValues(strategy).Inc()
}

// RecordBalancerNoNode increments the no-available-node counter.
func RecordBalancerNoNode() {
	globalManager.balancerNoNode.Inc()
}

// UpdateNodeHealthy sets the health flag gauge for a node.
func UpdateNodeHealthy(nodeID string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1.0
	}
	globalManager.nodeHealthy.WithLabelValues(nodeID).Set(v)
}

// RecordNodeProcessed increments the processed counter for a node.
func RecordNodeProcessed(nodeID string) {
	globalManager.nodeProcessed.WithLabelValues(nodeID).Inc()
}

// RecordListenerDatagram increments the datagram counter for a node.
func RecordListenerDatagram(nodeID string) {
	globalManager.listenerDatagrams.WithLabelValues(nodeID).Inc()
}

// RecordListenerError increments the listener error counter.
func RecordListenerError() {
	globalManager.listenerErrors.Inc()
}

// RecordBroadcastPublished increments the broadcast published counter.
func RecordBroadcastPublished() {
	globalManager.broadcastPublished.Inc()
}

// RecordBroadcastDrop increments the drop counter for a subscriber.
func RecordBroadcastDrop(subscriber string) {
	globalManager.broadcastDrops.WithLabelValues(subscriber).Inc()
}

// UpdateBroadcastSubscribers sets the current subscriber count.
func UpdateBroadcastSubscribers(count int) {
	globalManager.broadcastSubscribers.Set(float64(count))
}

// RecordAnalyticsSnapshot increments the analytics snapshot counter.
func RecordAnalyticsSnapshot() {
	globalManager.analyticsSnapshots.Inc()
}

// RecordAnalyticsTickDuration records the analytics tick duration in milliseconds.
func RecordAnalyticsTickDuration(latencyMs float64) {
	globalManager.analyticsTickDuration.Observe(latencyMs)
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// UpdateSystemMemoryUsage sets the system memory usage gauge.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the goroutine count gauge.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
