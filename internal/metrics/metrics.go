// Package metrics holds the prometheus collectors of the reconciliation engine.
//
// Collectors are created against an explicit Registerer so tests can use a
// private registry and the CLI can serve its own on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tanda"

// Metrics is the set of collectors shared by retry, reconcile and orchestrator.
type Metrics struct {
	// RetryAttempts counts retry strategy invocations by outcome (success|failure|abandoned).
	RetryAttempts *prometheus.CounterVec
	// Transitions counts record transitions by destination status.
	Transitions *prometheus.CounterVec
	// Expulsions counts records that reached user_expelled through expulsion.
	Expulsions prometheus.Counter
	// ExpulsionErrors counts expulsion strategy failures that were swallowed.
	ExpulsionErrors prometheus.Counter
	// SweptRecords counts terminal records removed by the cleanup sweep.
	SweptRecords prometheus.Counter
	// TickDuration observes how long one scheduler tick took.
	TickDuration prometheus.Histogram
	// Syncs counts reconcile runs by result (ok|error).
	Syncs *prometheus.CounterVec
	// LocalOnly is the number of not-yet-synced tandas after the last merge.
	LocalOnly prometheus.Gauge
	// Advances counts advance requests by policy decision.
	Advances *prometheus.CounterVec
}

// New registers all collectors with reg.
// Registering twice against the same registry panics.
func New(reg prometheus.Registerer) *Metrics {
	auto := promauto.With(reg)
	return &Metrics{
		RetryAttempts: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "attempts_total",
			Help:      "Retry attempts of failed deposits by outcome.",
		}, []string{"outcome"}),
		Transitions: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "transitions_total",
			Help:      "Failed deposit record transitions by destination status.",
		}, []string{"status"}),
		Expulsions: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "expulsions_total",
			Help:      "Records that ended in user_expelled after exhausting attempts.",
		}),
		ExpulsionErrors: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "expulsion_errors_total",
			Help:      "Expulsion strategy failures that were logged and swallowed.",
		}),
		SweptRecords: auto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "retry",
			Name:      "swept_records_total",
			Help:      "Terminal records deleted by the cleanup sweep.",
		}),
		TickDuration: auto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "tick_duration_seconds",
			Help:      "Duration of one retry scheduler tick.",
			Buckets:   prometheus.DefBuckets,
		}),
		Syncs: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Remote fetch-and-merge runs by result.",
		}, []string{"result"}),
		LocalOnly: auto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "local_only_tandas",
			Help:      "Provisional tandas kept by the last merge.",
		}),
		Advances: auto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "advance_decisions_total",
			Help:      "Advance requests by policy decision.",
		}, []string{"decision"}),
	}
}

// NewUnregistered returns collectors bound to a throwaway registry.
// Components use it when no Metrics is injected.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
