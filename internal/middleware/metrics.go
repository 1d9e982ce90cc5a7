package middleware

import "github.com/technosupport/ts-licensing/internal/metrics"

func RecordRateLimit(scope string, result string) {
	metrics.RateLimitTotal.WithLabelValues(scope, result).Inc()
}

func RecordRedisError() {
	metrics.RateLimitRedisErrorsTotal.Inc()
}
