package suppression

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// MaxBulkBatch is the largest input BulkSuppressBounced accepts in one call.
const MaxBulkBatch = 100

// Service implements suppression business logic. It is safe for concurrent use.
type Service struct {
	repo  Repository
	cache Cache
	now   func() time.Time
	log   *logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithCache enables the positive-verdict cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a suppression service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo: repo,
		now:  time.Now,
		log:  logger.With("component", "suppression.Service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CheckSuppression reports whether an address is blocked and why. Empty or
// malformed addresses are reported as not suppressed.
func (s *Service) CheckSuppression(ctx context.Context, email string) (domain.SuppressionResult, error) {
	email = domain.NormalizeEmail(email)
	res := domain.SuppressionResult{Email: email}
	if !domain.ValidEmail(email) {
		return res, nil
	}

	if s.cache != nil {
		reason, ok, err := s.cache.Get(ctx, email)
		if err != nil {
			s.log.Warn("suppression cache read failed", "email", email, "error", err)
		} else if ok {
			res.Suppressed, res.Reason = true, reason
			return res, nil
		}
	}

	signals, err := s.repo.LookupSignals(ctx, email)
	if err != nil {
		return res, fmt.Errorf("lookup suppression signals: %w", err)
	}
	if reason, ok := signals.Evaluate(); ok {
		res.Suppressed, res.Reason = true, reason
		s.remember(ctx, email, reason)
	}
	return res, nil
}

// CheckSuppressionBatch runs CheckSuppression for each address and returns
// the results in input order. A lookup error on one address is logged and
// reported as not suppressed for that address only.
func (s *Service) CheckSuppressionBatch(ctx context.Context, emails []string) ([]domain.SuppressionResult, error) {
	out := make([]domain.SuppressionResult, 0, len(emails))
	for _, e := range emails {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.CheckSuppression(ctx, e)
		if err != nil {
			s.log.Warn("batch suppression check failed", "email", e, "error", err)
			res = domain.SuppressionResult{Email: domain.NormalizeEmail(e)}
		}
		out = append(out, res)
	}
	return out, nil
}

// UnsubscribeResult describes what an unsubscribe changed.
type UnsubscribeResult struct {
	Email                string `json:"email"`
	AlreadyUnsubscribed  bool   `json:"already_unsubscribed"`
	ContactsUpdated      int    `json:"contacts_updated"`
	EnrollmentsCancelled int    `json:"enrollments_cancelled"`
	ExecutionsCancelled  int    `json:"executions_cancelled"`
	CascadeFailures      int    `json:"cascade_failures"`
}

// UnsubscribeByEmail records an explicit unsubscribe and cancels everything
// still scheduled to mail the address. An address that is already
// unsubscribed is left untouched.
func (s *Service) UnsubscribeByEmail(ctx context.Context, email, reason string) (*UnsubscribeResult, error) {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return nil, ErrInvalidEmail
	}
	if reason == "" {
		reason = domain.UnsubscribeReasonUser
	}
	res := &UnsubscribeResult{Email: email}

	pref, err := s.repo.GetPreference(ctx, email)
	switch {
	case errors.Is(err, ErrNotFound):
		pref = &domain.Preference{Email: email}
	case err != nil:
		return nil, fmt.Errorf("get preference: %w", err)
	case pref.IsUnsubscribed:
		res.AlreadyUnsubscribed = true
		return res, nil
	}

	now := s.now()
	pref.Unsubscribe(reason, now)
	if err := s.repo.UpsertPreference(ctx, pref); err != nil {
		return nil, fmt.Errorf("upsert preference: %w", err)
	}
	s.remember(ctx, email, domain.ReasonUnsubscribed)

	n, err := s.repo.SetContactStatus(ctx, email, domain.ContactUnsubscribed, now)
	if err != nil {
		s.log.Warn("contact status update failed", "email", email, "error", err)
		res.CascadeFailures++
	}
	res.ContactsUpdated = n

	s.cascade(ctx, email, now, res)
	s.log.Info("email unsubscribed", "email", email, "reason", reason,
		"enrollments_cancelled", res.EnrollmentsCancelled,
		"executions_cancelled", res.ExecutionsCancelled,
		"cascade_failures", res.CascadeFailures)
	return res, nil
}

// cascade cancels active enrollments and in-flight workflow executions one
// record at a time. A failing record is counted and skipped.
func (s *Service) cascade(ctx context.Context, email string, now time.Time, res *UnsubscribeResult) {
	ids, err := s.repo.ListActiveEnrollmentIDs(ctx, email)
	if err != nil {
		s.log.Error("list active enrollments failed", "email", email, "error", err)
		res.CascadeFailures++
	}
	for _, id := range ids {
		ok, err := s.repo.CancelEnrollment(ctx, id, now)
		if err != nil {
			s.log.Warn("cancel enrollment failed", "enrollment_id", id, "error", err)
			res.CascadeFailures++
			continue
		}
		if ok {
			res.EnrollmentsCancelled++
		}
	}

	ids, err = s.repo.ListInFlightExecutionIDs(ctx, email)
	if err != nil {
		s.log.Error("list workflow executions failed", "email", email, "error", err)
		res.CascadeFailures++
	}
	for _, id := range ids {
		ok, err := s.repo.CancelExecution(ctx, id, now)
		if err != nil {
			s.log.Warn("cancel workflow execution failed", "execution_id", id, "error", err)
			res.CascadeFailures++
			continue
		}
		if ok {
			res.ExecutionsCancelled++
		}
	}
}

// MarkBounced records a bounce. Hard bounces (the default) suppress the
// address globally; soft bounces only flag the contact records.
func (s *Service) MarkBounced(ctx context.Context, email string, bounceType domain.BounceType) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return ErrInvalidEmail
	}
	now := s.now()

	if bounceType == domain.BounceSoft {
		if _, err := s.repo.SetContactStatus(ctx, email, domain.ContactSoftBounced, now); err != nil {
			return fmt.Errorf("mark soft bounce: %w", err)
		}
		s.log.Info("soft bounce recorded", "email", email)
		return nil
	}

	if err := s.repo.InsertSendLog(ctx, &domain.SendLogEntry{
		ID:         uuid.New().String(),
		Email:      email,
		Status:     domain.SendLogBounced,
		BounceType: domain.BounceHard,
		CreatedAt:  now,
	}); err != nil {
		return fmt.Errorf("record bounce: %w", err)
	}
	if _, err := s.UnsubscribeByEmail(ctx, email, domain.UnsubscribeReasonAutoBounce); err != nil {
		return err
	}
	return nil
}

// MarkComplained records a spam complaint and suppresses the address.
func (s *Service) MarkComplained(ctx context.Context, email string) error {
	email = domain.NormalizeEmail(email)
	if !domain.ValidEmail(email) {
		return ErrInvalidEmail
	}
	if err := s.repo.InsertSendLog(ctx, &domain.SendLogEntry{
		ID:        uuid.New().String(),
		Email:     email,
		Status:    domain.SendLogComplained,
		CreatedAt: s.now(),
	}); err != nil {
		return fmt.Errorf("record complaint: %w", err)
	}
	if _, err := s.UnsubscribeByEmail(ctx, email, domain.UnsubscribeReasonAutoComplain); err != nil {
		return err
	}
	return nil
}

// BulkResult summarizes a BulkSuppressBounced call.
type BulkResult struct {
	Processed         int `json:"processed"`
	NewlySuppressed   int `json:"newly_suppressed"`
	AlreadySuppressed int `json:"already_suppressed"`
	Invalid           int `json:"invalid"`
	Failed            int `json:"failed"`
}

// BulkSuppressBounced suppresses a list of known-bad addresses. Addresses
// that are already suppressed by any source are counted and left alone.
// Inputs larger than MaxBulkBatch are rejected; use ChunkEmails.
func (s *Service) BulkSuppressBounced(ctx context.Context, emails []string, reason string) (*BulkResult, error) {
	if len(emails) > MaxBulkBatch {
		return nil, fmt.Errorf("%w: %d > %d", ErrBatchTooLarge, len(emails), MaxBulkBatch)
	}
	if reason == "" {
		reason = domain.UnsubscribeReasonAutoBounce
	}

	res := &BulkResult{}
	for _, raw := range emails {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Processed++
		email := domain.NormalizeEmail(raw)
		if !domain.ValidEmail(email) {
			res.Invalid++
			continue
		}

		chk, err := s.CheckSuppression(ctx, email)
		if err != nil {
			s.log.Warn("bulk suppression check failed", "email", email, "error", err)
			res.Failed++
			continue
		}
		if chk.Suppressed {
			res.AlreadySuppressed++
			continue
		}

		if err := s.repo.InsertSendLog(ctx, &domain.SendLogEntry{
			ID:         uuid.New().String(),
			Email:      email,
			Status:     domain.SendLogBounced,
			BounceType: domain.BounceHard,
			CreatedAt:  s.now(),
		}); err != nil {
			s.log.Warn("bulk bounce record failed", "email", email, "error", err)
			res.Failed++
			continue
		}
		if _, err := s.UnsubscribeByEmail(ctx, email, reason); err != nil {
			s.log.Warn("bulk unsubscribe failed", "email", email, "error", err)
			res.Failed++
			continue
		}
		res.NewlySuppressed++
	}
	s.log.Info("bulk bounce suppression done", "processed", res.Processed,
		"newly_suppressed", res.NewlySuppressed, "already_suppressed", res.AlreadySuppressed)
	return res, nil
}

// ChunkEmails splits emails into slices of at most size entries.
func ChunkEmails(emails []string, size int) [][]string {
	if size <= 0 {
		size = MaxBulkBatch
	}
	var chunks [][]string
	for len(emails) > 0 {
		n := size
		if len(emails) < n {
			n = len(emails)
		}
		chunks = append(chunks, emails[:n:n])
		emails = emails[n:]
	}
	return chunks
}

func (s *Service) remember(ctx context.Context, email string, reason domain.SuppressionReason) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, email, reason); err != nil {
		s.log.Warn("suppression cache write failed", "email", email, "error", err)
	}
}
