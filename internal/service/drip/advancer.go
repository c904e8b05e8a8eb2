package drip

import (
	"context"
	"fmt"

	"github.com/ignite/drip-engine/internal/domain"
)

// GetDueEnrollments returns up to limit active enrollments whose send time has
// passed, oldest first. A non-positive limit means DefaultDueLimit.
func (s *Service) GetDueEnrollments(ctx context.Context, limit int) ([]domain.Enrollment, error) {
	if limit <= 0 {
		limit = DefaultDueLimit
	}
	due, err := s.repo.ListDueEnrollments(ctx, s.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("list due enrollments: %w", err)
	}
	return due, nil
}

// AdvanceEnrollment moves an enrollment past its current step. success
// records whether the step's email went out; a failed send still advances
// so a broken provider cannot wedge the sequence.
//
// The enrollment row is locked for the whole transition. A missing or
// terminal enrollment is a no-op, which makes concurrent sweeps safe: the
// loser re-reads the row after the winner commits and finds nothing to do.
func (s *Service) AdvanceEnrollment(ctx context.Context, enrollmentID string, success bool) error {
	var (
		completed bool
		nextStep  int
	)
	err := s.repo.RunInTx(ctx, func(tx Repository) error {
		e, err := tx.GetEnrollment(ctx, enrollmentID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if e.Status != domain.EnrollmentActive {
			return nil
		}

		steps, err := tx.ListSteps(ctx, e.CampaignID)
		if err != nil {
			return err
		}
		steps = domain.SortSteps(steps)
		idx, found := domain.FindStep(steps, e.CurrentStepNumber)

		if success && found {
			if err := tx.IncrementStepSent(ctx, steps[idx].ID); err != nil {
				return err
			}
		}

		now := s.now()
		if !found || idx+1 >= len(steps) {
			e.Complete(now)
			if err := tx.SaveEnrollment(ctx, e); err != nil {
				return err
			}
			completed = true
			return tx.IncrementCampaignCounters(ctx, e.CampaignID, 0, 1)
		}

		next := &steps[idx+1]
		e.MoveTo(next, now)
		nextStep = next.StepNumber
		return tx.SaveEnrollment(ctx, e)
	})
	if err != nil {
		return fmt.Errorf("advance enrollment %s: %w", enrollmentID, err)
	}

	switch {
	case completed:
		s.log.Info("enrollment completed", "enrollment_id", enrollmentID, "success", success)
	case nextStep > 0:
		s.log.Debug("enrollment advanced", "enrollment_id", enrollmentID, "next_step", nextStep, "success", success)
	}
	return nil
}

// RecoverStuckEnrollments makes enrollments that missed their send time by
// more than the stuck threshold due again. It returns how many were reset.
func (s *Service) RecoverStuckEnrollments(ctx context.Context) (int, error) {
	now := s.now()
	cutoff := now.Add(-s.stuckThreshold)
	stuck, err := s.repo.ListStuckEnrollments(ctx, cutoff, s.recoveryBatch)
	if err != nil {
		return 0, fmt.Errorf("list stuck enrollments: %w", err)
	}

	recovered := 0
	for i := range stuck {
		// The cutoff is re-checked by the update: a row advanced since the
		// listing is no longer stuck and keeps its schedule.
		ok, err := s.repo.ResetNextSendAt(ctx, stuck[i].ID, cutoff, now)
		if err != nil {
			s.log.Warn("reset stuck enrollment failed", "enrollment_id", stuck[i].ID, "error", err)
			continue
		}
		if ok {
			recovered++
		}
	}
	if recovered > 0 {
		s.log.Info("recovered stuck enrollments", "count", recovered)
	}
	return recovered, nil
}
