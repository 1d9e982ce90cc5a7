package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Labels stay low-cardinality: no license ids, keys or device ids.

var (
	ValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_validations_total",
		Help: "Validation outcomes by result and reason",
	}, []string{"result", "reason"})

	ValidationDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "licensing_validation_duration_seconds",
		Help:    "End-to-end validation latency",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	})

	ActivationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_activations_total",
		Help: "Activation attempts by result (created, refreshed, limit, error)",
	}, []string{"result"})

	StoreErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_store_errors_total",
		Help: "Backing store failures by lookup or write step",
	}, []string{"step"})

	AuditDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_audit_dropped_total",
		Help: "Validation attempts dropped because the audit queue was full",
	})

	AuditSpooledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_audit_spooled_total",
		Help: "Validation attempts written to the on-disk spool after a DB failure",
	})

	AutoExpiredTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_auto_expired_total",
		Help: "Licenses moved from active to expired by validation",
	})

	RateLimitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "licensing_rate_limit_total",
		Help: "Rate limit decisions by scope and result",
	}, []string{"scope", "result"})

	RateLimitRedisErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_rate_limit_redis_errors_total",
		Help: "Rate limit checks that fell back because redis was unavailable",
	})

	EventsPublishFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "licensing_events_publish_failed_total",
		Help: "Validation events that could not be published after retries",
	})
)

func RecordValidation(result, reason string, took time.Duration) {
	ValidationsTotal.WithLabelValues(result, reason).Inc()
	ValidationDuration.Observe(took.Seconds())
}

func RecordActivation(result string) {
	ActivationsTotal.WithLabelValues(result).Inc()
}

func RecordStoreError(step string) {
	StoreErrorsTotal.WithLabelValues(step).Inc()
}
