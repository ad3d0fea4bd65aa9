// Prometheus instrumentation for the generation pipeline.
//
// Labels are kept to bounded vocabularies (job kind, provider name, failure
// class, terminal status) so cardinality stays flat regardless of traffic.
package services

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// jobsTotal counts jobs reaching a terminal state, by kind and status.
	jobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_jobs_total",
			Help: "Total number of generation jobs by kind and terminal status.",
		},
		[]string{"kind", "status"},
	)

	// providerAttempts counts individual provider calls, by provider and
	// outcome ("ok" or the failure class).
	providerAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_provider_attempts_total",
			Help: "Total provider generation attempts by provider and outcome.",
		},
		[]string{"provider", "outcome"},
	)

	// providerDuration records provider call latency by provider and kind.
	providerDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "generation_provider_duration_seconds",
			Help: "Duration of provider generation calls in seconds.",
			Buckets: []float64{
				0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 180,
			},
		},
		[]string{"provider", "kind"},
	)

	// creditsDebited and creditsRefunded track ledger movement caused by the
	// pipeline. In steady state refunds should be a small fraction of debits.
	creditsDebited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_debited_total",
			Help: "Total credits debited for generation jobs.",
		},
	)
	creditsRefunded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "credits_refunded_total",
			Help: "Total credits refunded for failed generation jobs.",
		},
	)

	// admissionRejects counts requests turned away before a job row existed.
	admissionRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admission_rejections_total",
			Help: "Requests rejected by an admission gate, by gate.",
		},
		[]string{"gate"}, // rate | concurrency | credits
	)

	// reconciledJobs counts stale PROCESSING jobs repaired by the sweep.
	reconciledJobs = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "generation_jobs_reconciled_total",
			Help: "Stale processing jobs failed and refunded by the reconciliation sweep.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		jobsTotal,
		providerAttempts,
		providerDuration,
		creditsDebited,
		creditsRefunded,
		admissionRejects,
		reconciledJobs,
	)
}
