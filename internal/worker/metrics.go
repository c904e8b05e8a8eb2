package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	enrollmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drip",
		Name:      "enrollments_processed_total",
		Help:      "Due enrollments handled by the dispatcher, by outcome.",
	}, []string{"outcome"})

	sendAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "drip",
		Name:      "send_attempts_total",
		Help:      "Provider send attempts, by result.",
	}, []string{"result"})

	enrollmentsRecovered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "drip",
		Name:      "enrollments_recovered_total",
		Help:      "Stuck enrollments rescheduled by the recovery worker.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "drip",
		Name:      "sweep_duration_seconds",
		Help:      "Wall time of one dispatcher sweep.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})
)

const (
	outcomeSent       = "sent"
	outcomeFailed     = "failed"
	outcomeSuppressed = "suppressed"
	outcomeSkipped    = "skipped"
	outcomeError      = "error"
)
