package billing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	webhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymirror_webhook_events_total",
		Help: "Verified webhook events by kind and processing result",
	}, []string{"kind", "result"})

	paymentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymirror_payment_transitions_total",
		Help: "Committed pending -> terminal payment transitions",
	}, []string{"outcome"})

	conflictingOutcomesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "paymirror_conflicting_outcomes_total",
		Help: "Terminal payment attempts that received the opposite outcome",
	})

	gatewayRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paymirror_gateway_request_duration_seconds",
		Help:    "Latency of payment gateway calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	reconcilerRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paymirror_reconciler_runs_total",
		Help: "Reconciling poll iterations by result",
	}, []string{"result"})
)
