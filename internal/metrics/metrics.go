package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsmill_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Memory Metrics
	MemoryUsedPercent = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_memory_used_percent",
			Help: "System memory usage percentage from the last sample",
		},
	)

	MemoryUsedMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_memory_used_mb",
			Help: "System memory used in megabytes from the last sample",
		},
	)

	MemoryAvailableMB = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_memory_available_mb",
			Help: "System memory available in megabytes from the last sample",
		},
	)

	MemoryPressureLevel = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_memory_pressure_level",
			Help: "Current memory pressure level (0=normal 1=warning 2=critical 3=emergency)",
		},
	)

	PressureEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_memory_pressure_events_total",
			Help: "Total number of memory pressure callbacks fired",
		},
		[]string{"level"},
	)

	DegradationActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hlsmill_degradation_active",
			Help: "Whether a sticky degradation mode is active (1) or not (0)",
		},
		[]string{"mode"},
	)

	// Variant Metrics
	VariantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_variants_total",
			Help: "Total number of variant encodes by terminal outcome",
		},
		[]string{"profile", "outcome"},
	)

	VariantDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsmill_variant_duration_seconds",
			Help:    "Variant encode duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~1 hour
		},
		[]string{"profile"},
	)

	EncodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_encodes_in_flight",
			Help: "Number of ffmpeg variant encodes currently running",
		},
	)

	BandsSkippedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_bands_skipped_total",
			Help: "Total number of priority bands shed by admission control",
		},
		[]string{"band"},
	)

	// Job Metrics
	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_jobs_completed_total",
			Help: "Total number of finished jobs by aggregate outcome",
		},
		[]string{"outcome"},
	)

	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hlsmill_job_duration_seconds",
			Help:    "Whole-job processing duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hlsmill_jobs_queue_depth",
			Help: "Number of jobs waiting in the request queue",
		},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hlsmill_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	StorageBytesTransferred = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_storage_bytes_transferred_total",
			Help: "Total bytes transferred to/from storage",
		},
		[]string{"operation"},
	)

	// Cache Metrics
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hlsmill_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// UpdateMemoryUsage publishes the latest memory sample.
func UpdateMemoryUsage(usedPercent, usedMB, availableMB float64, levelOrdinal int) {
	MemoryUsedPercent.Set(usedPercent)
	MemoryUsedMB.Set(usedMB)
	MemoryAvailableMB.Set(availableMB)
	MemoryPressureLevel.Set(float64(levelOrdinal))
}

// RecordPressureEvent records a fired pressure callback
func RecordPressureEvent(level string) {
	PressureEventsTotal.WithLabelValues(level).Inc()
}

// UpdateDegradation publishes the sticky degradation flags.
func UpdateDegradation(qualityReduced, emergencyMode bool) {
	set := func(mode string, on bool) {
		v := 0.0
		if on {
			v = 1.0
		}
		DegradationActive.WithLabelValues(mode).Set(v)
	}
	set("quality_reduced", qualityReduced)
	set("emergency", emergencyMode)
}

// RecordVariant records a variant encode outcome
func RecordVariant(profile, outcome string, duration float64) {
	VariantsTotal.WithLabelValues(profile, outcome).Inc()
	if duration > 0 {
		VariantDuration.WithLabelValues(profile).Observe(duration)
	}
}

// RecordBandSkipped records an admission-control band shed
func RecordBandSkipped(band string) {
	BandsSkippedTotal.WithLabelValues(band).Inc()
}

// RecordJobCompleted records a finished job
func RecordJobCompleted(outcome string, duration float64) {
	JobsCompletedTotal.WithLabelValues(outcome).Inc()
	JobDuration.Observe(duration)
}

// UpdateJobMetrics updates current job gauges
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64, bytesTransferred int64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
	StorageBytesTransferred.WithLabelValues(operation).Add(float64(bytesTransferred))
}

// RecordCacheAccess records cache hit or miss
func RecordCacheAccess(cacheType string, hit bool) {
	if hit {
		CacheHitsTotal.WithLabelValues(cacheType).Inc()
	} else {
		CacheMissesTotal.WithLabelValues(cacheType).Inc()
	}
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}
