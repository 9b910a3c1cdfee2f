package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookEventsTotal counts provider notifications by kind and outcome.
	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "webhook_events_total",
		Help:      "Provider notifications by event kind and outcome.",
	}, []string{"kind", "outcome"})

	// WebhookDuration tracks notification processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Provider notification processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind"})

	// SubscriptionTransitionsTotal counts state machine transitions.
	SubscriptionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "subscription_transitions_total",
		Help:      "Subscription status transitions by source and target state.",
	}, []string{"from", "to"})

	// SweepRowsTotal counts rows changed by background sweeps.
	SweepRowsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "sweep_rows_total",
		Help:      "Rows transitioned by background sweeps.",
	}, []string{"sweep"})

	// SweepRunsTotal counts sweep invocations by outcome.
	SweepRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "sweep_runs_total",
		Help:      "Background sweep runs by sweep and outcome.",
	}, []string{"sweep", "outcome"})

	// ProviderRequestsTotal counts outbound payment provider calls.
	ProviderRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "provider_requests_total",
		Help:      "Payment provider calls by operation and outcome.",
	}, []string{"operation", "outcome"})

	// CircuitBreakerState reports the provider breaker state (0 closed, 1 half-open, 2 open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "provider_circuit_state",
		Help:      "Payment provider circuit breaker state.",
	}, []string{"name"})

	// AdminOverridesTotal counts administrative billing overrides.
	AdminOverridesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "reelhouse",
		Subsystem: "billing",
		Name:      "admin_overrides_total",
		Help:      "Administrative billing overrides by action and outcome.",
	}, []string{"action", "outcome"})
)

// JobRunsTotal counts scheduled job runs by job and outcome.
var JobRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "reelhouse",
	Subsystem: "jobs",
	Name:      "runs_total",
	Help:      "Scheduled background job runs by job and outcome.",
}, []string{"job", "outcome"})
