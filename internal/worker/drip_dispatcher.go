package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/distlock"
	"github.com/ignite/drip-engine/internal/pkg/httpretry"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/sending"
	"github.com/ignite/drip-engine/internal/service/drip"
)

const (
	DefaultPollInterval    = time.Minute
	DefaultDispatchBatch   = 50
	DefaultMaxSendAttempts = 3
	DefaultSendTimeout     = 30 * time.Second

	// DispatchLockTTL is the expiry of the sweep lock. distlock.Do renews it
	// while the sweep runs, so it only bounds how long a crashed host keeps
	// others out.
	DispatchLockTTL = 2 * time.Minute

	advanceTimeout = 10 * time.Second
)

// DripEngine is the slice of drip.Service the dispatcher drives.
type DripEngine interface {
	GetDueEnrollments(ctx context.Context, limit int) ([]domain.Enrollment, error)
	GetCampaign(ctx context.Context, id string) (*domain.CampaignDetail, error)
	GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)
	AdvanceEnrollment(ctx context.Context, enrollmentID string, success bool) error
}

// SuppressionChecker answers whether an address may be mailed.
type SuppressionChecker interface {
	CheckSuppression(ctx context.Context, email string) (domain.SuppressionResult, error)
}

// Composer turns an enrollment and its current step into a message.
type Composer interface {
	Compose(e *domain.Enrollment, st *domain.Step) (*domain.EmailMessage, error)
}

// DispatcherConfig tunes a DripDispatcher. Zero values take defaults.
type DispatcherConfig struct {
	PollInterval    time.Duration
	BatchSize       int
	MaxSendAttempts int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	// SendTimeout bounds each provider call.
	SendTimeout time.Duration
}

func (c *DispatcherConfig) defaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultDispatchBatch
	}
	if c.MaxSendAttempts <= 0 {
		c.MaxSendAttempts = DefaultMaxSendAttempts
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 30 * time.Second
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = DefaultSendTimeout
	}
}

// SweepStats summarises one pass over the due enrollments.
type SweepStats struct {
	Due        int `json:"due"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Suppressed int `json:"suppressed"`
	Skipped    int `json:"skipped"`
	Errors     int `json:"errors"`
}

// DripDispatcher periodically sends the current step of every due
// enrollment and advances it. A distributed lock keeps concurrent hosts
// from sweeping at the same time.
type DripDispatcher struct {
	drip        DripEngine
	suppression SuppressionChecker
	composer    Composer
	sender      sending.Sender
	lock        distlock.DistLock
	cfg         DispatcherConfig
	log         *logger.Logger
}

// NewDripDispatcher wires a dispatcher. lock may be nil when only one
// worker process runs.
func NewDripDispatcher(d DripEngine, s SuppressionChecker, c Composer, snd sending.Sender,
	lock distlock.DistLock, cfg DispatcherConfig) *DripDispatcher {
	cfg.defaults()
	return &DripDispatcher{
		drip:        d,
		suppression: s,
		composer:    c,
		sender:      snd,
		lock:        lock,
		cfg:         cfg,
		log:         logger.With("component", "worker.DripDispatcher"),
	}
}

// Start runs a sweep every poll interval until ctx is cancelled.
func (d *DripDispatcher) Start(ctx context.Context) {
	d.log.Info("starting", "interval", d.cfg.PollInterval.String(), "batch", d.cfg.BatchSize,
		"max_attempts", d.cfg.MaxSendAttempts)

	ticker := time.NewTicker(d.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.log.Info("stopping")
			return
		case <-ticker.C:
			if _, err := d.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
				d.log.Error("sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep. It returns zero stats without error when
// another host holds the lock.
func (d *DripDispatcher) RunOnce(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	sweep := func(ctx context.Context) error {
		var err error
		stats, err = d.sweep(ctx)
		return err
	}
	if d.lock == nil {
		return stats, sweep(ctx)
	}
	ran, err := distlock.Do(ctx, d.lock, sweep)
	if err != nil {
		return stats, err
	}
	if !ran {
		d.log.Debug("sweep skipped, lock held elsewhere")
	}
	return stats, nil
}

func (d *DripDispatcher) sweep(ctx context.Context) (SweepStats, error) {
	var stats SweepStats
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	due, err := d.drip.GetDueEnrollments(ctx, d.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("load due enrollments: %w", err)
	}
	stats.Due = len(due)
	if len(due) == 0 {
		return stats, nil
	}

	campaigns := make(map[string]*domain.CampaignDetail)
	for i := range due {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		outcome, err := d.process(ctx, &due[i], campaigns)
		if err != nil {
			d.log.Error("process enrollment", "enrollment_id", due[i].ID, "email", due[i].Email, "error", err)
			outcome = outcomeError
		}
		enrollmentsProcessed.WithLabelValues(outcome).Inc()
		switch outcome {
		case outcomeSent:
			stats.Sent++
		case outcomeFailed:
			stats.Failed++
		case outcomeSuppressed:
			stats.Suppressed++
		case outcomeSkipped:
			stats.Skipped++
		default:
			stats.Errors++
		}
	}

	d.log.Info("sweep complete", "due", stats.Due, "sent", stats.Sent, "failed", stats.Failed,
		"suppressed", stats.Suppressed, "skipped", stats.Skipped, "errors", stats.Errors)
	return stats, nil
}

// process handles one enrollment and reports its outcome. An error means the
// enrollment was left untouched and will be picked up again.
func (d *DripDispatcher) process(ctx context.Context, e *domain.Enrollment, campaigns map[string]*domain.CampaignDetail) (string, error) {
	detail, seen := campaigns[e.CampaignID]
	if !seen {
		var err error
		detail, err = d.drip.GetCampaign(ctx, e.CampaignID)
		if err != nil && !errors.Is(err, drip.ErrNotFound) {
			return "", fmt.Errorf("load campaign: %w", err)
		}
		campaigns[e.CampaignID] = detail
	}

	if detail == nil || !detail.IsActive {
		return outcomeSkipped, d.advance(ctx, e, false)
	}
	idx, ok := domain.FindStep(detail.Steps, e.CurrentStepNumber)
	if !ok || !detail.Steps[idx].IsActive {
		return outcomeSkipped, d.advance(ctx, e, false)
	}
	step := &detail.Steps[idx]

	sup, err := d.suppression.CheckSuppression(ctx, e.Email)
	if err != nil {
		return "", fmt.Errorf("check suppression: %w", err)
	}
	if sup.Suppressed {
		d.log.Info("skipping suppressed address", "email", e.Email, "reason", string(sup.Reason))
		return outcomeSuppressed, d.advance(ctx, e, false)
	}

	// The due list is a snapshot. Skip rows that were unenrolled or advanced
	// by someone else since it was read.
	cur, err := d.drip.GetEnrollment(ctx, e.ID)
	if err != nil && !errors.Is(err, drip.ErrNotFound) {
		return "", fmt.Errorf("reload enrollment: %w", err)
	}
	if cur == nil || !sameSchedule(e, cur) {
		d.log.Info("enrollment changed since listing, skipping", "enrollment_id", e.ID)
		return outcomeSkipped, nil
	}

	msg, err := d.composer.Compose(e, step)
	if err != nil {
		d.log.Warn("render failed", "enrollment_id", e.ID, "step", step.StepNumber, "error", err)
		return outcomeFailed, d.advance(ctx, e, false)
	}

	if d.send(ctx, msg) {
		// The mail is out; record it even if the sweep is being cancelled.
		actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), advanceTimeout)
		defer cancel()
		return outcomeSent, d.advance(actx, e, true)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return outcomeFailed, d.advance(ctx, e, false)
}

// send tries up to MaxSendAttempts times with exponential backoff.
func (d *DripDispatcher) send(ctx context.Context, msg *domain.EmailMessage) bool {
	for attempt := 1; attempt <= d.cfg.MaxSendAttempts; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(httpretry.Backoff(attempt-1, d.cfg.RetryBaseDelay, d.cfg.RetryMaxDelay))
			select {
			case <-ctx.Done():
				t.Stop()
				return false
			case <-t.C:
			}
		}

		sctx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
		res, err := d.sender.Send(sctx, msg)
		cancel()
		switch {
		case err != nil:
			sendAttempts.WithLabelValues("error").Inc()
			d.log.Warn("send error", "email", msg.Email, "attempt", attempt, "error", err)
		case !res.Success:
			sendAttempts.WithLabelValues("rejected").Inc()
			d.log.Warn("send rejected", "email", msg.Email, "attempt", attempt, "error", res.Error)
		default:
			sendAttempts.WithLabelValues("ok").Inc()
			d.log.Debug("sent", "email", msg.Email, "enrollment_id", msg.EnrollmentID,
				"step", msg.StepNumber, "message_id", res.MessageID)
			return true
		}
	}
	return false
}

func sameSchedule(snap, cur *domain.Enrollment) bool {
	if cur.Status != domain.EnrollmentActive || cur.CurrentStepNumber != snap.CurrentStepNumber {
		return false
	}
	return cur.NextSendAt != nil && snap.NextSendAt != nil && cur.NextSendAt.Equal(*snap.NextSendAt)
}

func (d *DripDispatcher) advance(ctx context.Context, e *domain.Enrollment, success bool) error {
	if err := d.drip.AdvanceEnrollment(ctx, e.ID, success); err != nil {
		return fmt.Errorf("advance enrollment: %w", err)
	}
	return nil
}
