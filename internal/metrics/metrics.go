package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EvaluationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasync_alert_evaluations_total",
			Help: "Total number of rule evaluation ticks",
		},
		[]string{"outcome"}, // outcome: ok, query_error, classification_error, discarded
	)

	TicksSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "datasync_alert_ticks_skipped_total",
			Help: "Ticks skipped because the previous run of the rule was still in flight",
		},
	)

	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasync_alerts_fired_total",
			Help: "Alert events dispatched on a state transition",
		},
		[]string{"severity"},
	)

	DispatchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "datasync_webhook_dispatch_attempts_total",
			Help: "Webhook delivery attempts",
		},
		[]string{"status"}, // status: sent, retried, failed
	)

	EvaluationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "datasync_alert_evaluation_duration_seconds",
			Help:    "Wall time of one evaluation tick including the probe",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
	)
)
