package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route class, method and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanno",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests by route class, method and status.",
	}, []string{"class", "method", "status"})

	// AccessDecisionsTotal counts gate decisions by route class and outcome.
	AccessDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanno",
		Name:      "access_decisions_total",
		Help:      "Access gate decisions by route class and outcome.",
	}, []string{"class", "decision"})

	// WebhookRequestsTotal counts Stripe webhook requests by event type and status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanno",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total Stripe webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks Stripe webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hanno",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Stripe webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// RateLimitedTotal counts requests rejected by per-endpoint rate limiting.
	RateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanno",
		Name:      "rate_limited_requests_total",
		Help:      "Requests rejected by per-endpoint IP rate limiting.",
	}, []string{"endpoint"})

	// AnalysisRequestsTotal counts analysis backend calls by outcome.
	AnalysisRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hanno",
		Name:      "analysis_requests_total",
		Help:      "Analysis backend requests by outcome.",
	}, []string{"outcome"})

	// SnapshotRefreshFailures counts subscription snapshot refreshes that
	// fell back to the last-known snapshot because the store was unreachable.
	SnapshotRefreshFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "hanno",
		Name:      "session_snapshot_refresh_failures_total",
		Help:      "Session snapshot refreshes that failed closed on store errors.",
	})
)
