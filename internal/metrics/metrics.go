// Package metrics exposes Prometheus collectors for the scheduler loop,
// the queue, and run outcomes. Grounded on the teacher pack's
// promauto-with-default-registry pattern (night-slayer18-skeenode's
// pkg/metrics).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks runs currently waiting in the priority queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobforge",
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Number of runs pending in the priority queue",
		},
	)

	// RunningRuns tracks runs currently occupying a resource-group slot.
	RunningRuns = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobforge",
			Subsystem: "runs",
			Name:      "running",
			Help:      "Number of runs currently executing",
		},
	)

	// RunsTotal counts terminal runs by job and final status.
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobforge",
			Subsystem: "runs",
			Name:      "total",
			Help:      "Total number of terminated runs by status",
		},
		[]string{"job_id", "status", "reason"},
	)

	// RunDuration tracks wall time spent running.
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobforge",
			Subsystem: "runs",
			Name:      "duration_seconds",
			Help:      "Duration of subprocess runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"job_id"},
	)

	// AdmissionLag measures delay between scheduled_for and actual launch.
	AdmissionLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jobforge",
			Subsystem: "scheduler",
			Name:      "admission_lag_seconds",
			Help:      "Delay between a run's scheduled_for time and its admission",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	// TicksTotal counts scheduler loop tick cycles.
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobforge",
			Subsystem: "scheduler",
			Name:      "ticks_total",
			Help:      "Total number of scheduler loop ticks",
		},
	)

	// RetriesTotal counts failure retries scheduled.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobforge",
			Subsystem: "runs",
			Name:      "retries_total",
			Help:      "Total number of failure retries scheduled",
		},
		[]string{"job_id"},
	)

	// SuccessRepeatsTotal counts in-window success repeats scheduled.
	SuccessRepeatsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobforge",
			Subsystem: "runs",
			Name:      "success_repeats_total",
			Help:      "Total number of in-window success repeats scheduled",
		},
		[]string{"job_id"},
	)

	// CoalescedTotal counts due fires dropped because a live run of the
	// same job already existed (spec.md §4.4 coalescing policy).
	CoalescedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobforge",
			Subsystem: "scheduler",
			Name:      "coalesced_total",
			Help:      "Total number of due fires dropped by coalescing",
		},
		[]string{"job_id"},
	)
)
