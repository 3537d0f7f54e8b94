// Package metrics exposes Prometheus collectors for the governance pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	decisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "decisions_total",
			Help:      "Decision actions synthesized, partitioned by disposition.",
		},
		[]string{"disposition"},
	)

	executionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "executions_total",
			Help:      "Action executions, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	executionSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "warden",
			Name:      "execution_seconds",
			Help:      "Action execution latency in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	alertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "alerts_total",
			Help:      "Alerts dispatched, partitioned by severity and final status.",
		},
		[]string{"severity", "status"},
	)

	suppressedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "alerts_suppressed_total",
			Help:      "Alerts suppressed by the throttle ledger.",
		},
	)

	deliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "deliveries_total",
			Help:      "Per-channel delivery attempts, partitioned by channel and outcome.",
		},
		[]string{"channel", "outcome"},
	)

	escalationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "warden",
			Name:      "escalations_total",
			Help:      "Escalation steps fired for unacknowledged critical alerts.",
		},
	)
)

// Register attaches warden collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		decisionsTotal,
		executionsTotal,
		executionSeconds,
		alertsTotal,
		suppressedTotal,
		deliveriesTotal,
		escalationsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// RecordDecision counts one synthesized decision by disposition
// ("executed", "deferred", "paced", "rejected", "budget_exceeded").
func RecordDecision(disposition string) {
	decisionsTotal.WithLabelValues(disposition).Inc()
}

// ObserveExecution records an execution duration and outcome.
func ObserveExecution(duration time.Duration, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	executionsTotal.WithLabelValues(outcome).Inc()
	executionSeconds.Observe(duration.Seconds())
}

// RecordAlert counts one dispatched alert with its final status.
func RecordAlert(severity, status string) {
	alertsTotal.WithLabelValues(severity, status).Inc()
}

// RecordSuppressed counts one throttled alert.
func RecordSuppressed() {
	suppressedTotal.Inc()
}

// RecordDelivery counts one per-channel delivery attempt.
func RecordDelivery(channel string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	deliveriesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordEscalation counts one fired escalation step.
func RecordEscalation() {
	escalationsTotal.Inc()
}
