package worker

import (
	"context"
	"time"

	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// DefaultRecoveryInterval is how often stuck enrollments are scanned for.
const DefaultRecoveryInterval = 5 * time.Minute

// Recoverer reschedules enrollments whose send time passed long ago.
type Recoverer interface {
	RecoverStuckEnrollments(ctx context.Context) (int, error)
}

// StuckEnrollmentRecoverer periodically reschedules active enrollments that
// a crashed or stalled dispatcher left behind.
type StuckEnrollmentRecoverer struct {
	svc      Recoverer
	lock     distlock.DistLock
	interval time.Duration
	log      *logger.Logger
}

// NewStuckEnrollmentRecoverer creates a recoverer. lock may be nil.
func NewStuckEnrollmentRecoverer(svc Recoverer, lock distlock.DistLock, interval time.Duration) *StuckEnrollmentRecoverer {
	if interval <= 0 {
		interval = DefaultRecoveryInterval
	}
	return &StuckEnrollmentRecoverer{
		svc:      svc,
		lock:     lock,
		interval: interval,
		log:      logger.With("component", "worker.StuckEnrollmentRecoverer"),
	}
}

// Start blocks until ctx is cancelled.
func (r *StuckEnrollmentRecoverer) Start(ctx context.Context) {
	r.log.Info("starting", "interval", r.interval.String())

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("stopping")
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce performs one recovery pass and returns how many enrollments were
// rescheduled.
func (r *StuckEnrollmentRecoverer) RunOnce(ctx context.Context) int {
	queryCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var n int
	run := func(ctx context.Context) error {
		var err error
		n, err = r.svc.RecoverStuckEnrollments(ctx)
		return err
	}

	var err error
	if r.lock == nil {
		err = run(queryCtx)
	} else {
		_, err = distlock.Do(queryCtx, r.lock, run)
	}
	if err != nil {
		r.log.Error("recovery failed", "error", err)
		return n
	}
	if n > 0 {
		enrollmentsRecovered.Add(float64(n))
		r.log.Info("rescheduled stuck enrollments", "count", n)
	}
	return n
}
