package observability

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status"},
	)

	httpNotModified = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_not_modified_total",
			Help: "Conditional GETs answered with 304.",
		},
		[]string{"route"},
	)

	storeOpTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_op_total",
			Help: "Store operations by store, op and result.",
		},
		[]string{"store", "op", "result"},
	)

	storeOpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "store_operation_duration_seconds",
			Help:    "Latency of store operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"store", "op"},
	)

	featureIntegrityWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_integrity_warnings_total",
			Help: "Features returned without one of the standard properties.",
		},
		[]string{"property"},
	)

	responseIntegrityWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "response_integrity_warnings_total",
			Help: "Single-response lookups that matched more than one record.",
		},
	)

	featureCacheResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feature_cache_results_total",
			Help: "Feature cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	ingestBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_batches_total",
			Help: "Response batches processed by result.",
		},
		[]string{"result"},
	)

	ingestItems = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_items_total",
			Help: "Responses processed by result.",
		},
		[]string{"result"},
	)

	eventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_published_total",
			Help: "Domain events handed to the producer by type.",
		},
		[]string{"type"},
	)

	eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "events_dropped_total",
			Help: "Domain events dropped by reason.",
		},
		[]string{"reason"},
	)

	invalidationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invalidation_events_total",
			Help: "Catalog invalidation events by op and result.",
		},
		[]string{"op", "result"},
	)

	invalidationEntries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "invalidation_entries_total",
			Help: "Cached feature queries dropped by invalidation.",
		},
	)

	invalidationDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invalidation_duration_seconds",
			Help:    "Time spent applying one invalidation event.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 14),
		},
	)

	kafkaConsumerErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_consumer_errors_total",
			Help: "Kafka consumer errors by kind.",
		},
		[]string{"kind"},
	)

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)
)

func collectors() []prometheus.Collector {
	return []prometheus.Collector{
		httpRequestsTotal, httpRequestDurationSeconds, httpNotModified,
		storeOpTotal, storeOpDurationSeconds,
		featureIntegrityWarnings, responseIntegrityWarnings, featureCacheResults,
		ingestBatches, ingestItems,
		eventsPublished, eventsDropped,
		invalidationEvents, invalidationEntries, invalidationDurationSeconds,
		kafkaConsumerErrors,
	}
}

func init() {
	register(prometheus.DefaultRegisterer)
	prometheus.DefaultRegisterer.MustRegister(buildInfo)
}

// Init additionally registers every collector on reg, typically the
// dedicated metrics server registry, which carries its own build info.
// It is a no-op when disabled.
func Init(reg prometheus.Registerer, enabled bool) {
	if !enabled || reg == nil {
		return
	}
	register(reg)
}

func register(reg prometheus.Registerer) {
	for _, c := range collectors() {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			panic(err)
		}
	}
}

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st).Observe(durationSeconds)
}

func IncNotModified(route string) {
	httpNotModified.WithLabelValues(route).Inc()
}

func ObserveStoreOp(store, op string, err error, durationSeconds float64) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	storeOpTotal.WithLabelValues(store, op, result).Inc()
	storeOpDurationSeconds.WithLabelValues(store, op).Observe(durationSeconds)
}

func IncFeatureIntegrityWarning(property string) {
	featureIntegrityWarnings.WithLabelValues(property).Inc()
}

func IncResponseIntegrityWarning() {
	responseIntegrityWarnings.Inc()
}

func IncFeatureCacheHit()  { featureCacheResults.WithLabelValues("hit").Inc() }
func IncFeatureCacheMiss() { featureCacheResults.WithLabelValues("miss").Inc() }

// ObserveIngest records one batch with its inserted and failed item counts.
func ObserveIngest(inserted, failed int) {
	result := "ok"
	if failed > 0 {
		result = "partial"
	}
	ingestBatches.WithLabelValues(result).Inc()
	ingestItems.WithLabelValues("inserted").Add(float64(inserted))
	if failed > 0 {
		ingestItems.WithLabelValues("failed").Add(float64(failed))
	}
}

func IncEventPublished(eventType string) {
	eventsPublished.WithLabelValues(eventType).Inc()
}

func IncEventDropped(reason string) {
	eventsDropped.WithLabelValues(reason).Inc()
}

func ObserveInvalidation(op string, entries int, durationSeconds float64, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	invalidationEvents.WithLabelValues(op, result).Inc()
	invalidationEntries.Add(float64(entries))
	invalidationDurationSeconds.Observe(durationSeconds)
}

func IncInvalidationSkipped(op string) {
	invalidationEvents.WithLabelValues(op, "duplicate").Inc()
}

func IncKafkaConsumerError(kind string) {
	kafkaConsumerErrors.WithLabelValues(kind).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
