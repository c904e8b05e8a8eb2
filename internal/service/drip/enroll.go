package drip

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/drip-engine/internal/domain"
)

// EnrollInput identifies a contact to enroll into one campaign.
type EnrollInput struct {
	CampaignID string         `json:"campaign_id"`
	Email      string         `json:"email"`
	Name       string         `json:"name,omitempty"`
	CustomerID string         `json:"customer_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// GetActiveCampaignsByTrigger returns the store's active campaigns of the
// given trigger type. Matching on trigger configuration is left to callers.
func (s *Service) GetActiveCampaignsByTrigger(ctx context.Context, storeID string, trigger domain.TriggerType) ([]domain.Campaign, error) {
	return s.repo.ListActiveCampaignsByTrigger(ctx, storeID, trigger)
}

// EnrollContact enrolls an address into a campaign and returns the new
// enrollment ID. It returns "" with a nil error when nothing was created:
// the campaign is missing or inactive, the contact is already enrolled, or
// the campaign has no steps. Calling it twice for the same event is safe.
func (s *Service) EnrollContact(ctx context.Context, in EnrollInput) (string, error) {
	email := domain.NormalizeEmail(in.Email)
	if !domain.ValidEmail(email) {
		return "", fmt.Errorf("%w: invalid email", ErrInvalidInput)
	}

	var enrollmentID string
	err := s.repo.RunInTx(ctx, func(tx Repository) error {
		c, err := tx.GetCampaign(ctx, in.CampaignID)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !c.IsActive {
			return nil
		}

		_, err = tx.FindEnrollment(ctx, c.ID, email)
		if err == nil {
			return nil
		}
		if !isNotFound(err) {
			return err
		}

		steps, err := tx.ListSteps(ctx, c.ID)
		if err != nil {
			return err
		}
		if len(steps) == 0 {
			return nil
		}
		first := domain.SortSteps(steps)[0]

		now := s.now()
		next := now.Add(first.Delay())
		e := &domain.Enrollment{
			ID:                uuid.New().String(),
			CampaignID:        c.ID,
			Email:             email,
			Name:              in.Name,
			CustomerID:        in.CustomerID,
			Metadata:          in.Metadata,
			Status:            domain.EnrollmentActive,
			CurrentStepNumber: first.StepNumber,
			NextSendAt:        &next,
			EnrolledAt:        now,
		}
		if err := tx.CreateEnrollment(ctx, e); err != nil {
			if errors.Is(err, ErrDuplicateEnrollment) {
				return nil
			}
			return err
		}
		if err := tx.IncrementCampaignCounters(ctx, c.ID, 1, 0); err != nil {
			return err
		}
		enrollmentID = e.ID
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("enroll contact: %w", err)
	}
	if enrollmentID != "" {
		s.log.Info("contact enrolled", "campaign_id", in.CampaignID, "enrollment_id", enrollmentID, "email", email)
	}
	return enrollmentID, nil
}

// UnenrollContact cancels the contact's enrollment in a campaign. It returns
// false when there is no enrollment to cancel.
func (s *Service) UnenrollContact(ctx context.Context, campaignID, email string) (bool, error) {
	email = domain.NormalizeEmail(email)
	var cancelled bool
	err := s.repo.RunInTx(ctx, func(tx Repository) error {
		found, err := tx.FindEnrollment(ctx, campaignID, email)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		// Lock the row before mutating it.
		e, err := tx.GetEnrollment(ctx, found.ID)
		if err != nil {
			return err
		}
		if e.Status == domain.EnrollmentCancelled {
			return nil
		}
		e.Cancel(s.now())
		if err := tx.SaveEnrollment(ctx, e); err != nil {
			return err
		}
		cancelled = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("unenroll contact: %w", err)
	}
	return cancelled, nil
}

// GetEnrollment returns the current state of one enrollment.
func (s *Service) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	return s.repo.GetEnrollment(ctx, id)
}

// GetEnrollmentsByEmail lists every enrollment of an address across campaigns.
func (s *Service) GetEnrollmentsByEmail(ctx context.Context, email string) ([]domain.Enrollment, error) {
	return s.repo.ListEnrollmentsByEmail(ctx, domain.NormalizeEmail(email))
}

// TriggerEvent is a business event that may enroll a contact.
type TriggerEvent struct {
	StoreID     string         `json:"store_id"`
	TriggerType string         `json:"trigger_type"`
	Email       string         `json:"email"`
	Name        string         `json:"name,omitempty"`
	CustomerID  string         `json:"customer_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// TriggerResult summarizes the enrollments created for one event.
type TriggerResult struct {
	Matched       int      `json:"matched"`
	Enrolled      int      `json:"enrolled"`
	EnrollmentIDs []string `json:"enrollment_ids"`
	Failed        int      `json:"failed"`
}

// TriggerCampaignsForEvent enrolls the event's contact into every active
// campaign whose trigger type and trigger configuration match. A failure on
// one campaign is logged and does not stop the others.
func (s *Service) TriggerCampaignsForEvent(ctx context.Context, ev TriggerEvent) (*TriggerResult, error) {
	trigger, err := domain.ParseTriggerType(ev.TriggerType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	campaigns, err := s.GetActiveCampaignsByTrigger(ctx, ev.StoreID, trigger)
	if err != nil {
		return nil, fmt.Errorf("active campaigns: %w", err)
	}

	res := &TriggerResult{EnrollmentIDs: []string{}}
	for i := range campaigns {
		c := &campaigns[i]
		if !c.MatchesTriggerConfig(ev.Metadata) {
			continue
		}
		res.Matched++
		id, err := s.EnrollContact(ctx, EnrollInput{
			CampaignID: c.ID,
			Email:      ev.Email,
			Name:       ev.Name,
			CustomerID: ev.CustomerID,
			Metadata:   ev.Metadata,
		})
		if err != nil {
			res.Failed++
			s.log.Warn("trigger enrollment failed", "campaign_id", c.ID, "email", ev.Email, "error", err)
			continue
		}
		if id != "" {
			res.Enrolled++
			res.EnrollmentIDs = append(res.EnrollmentIDs, id)
		}
	}
	s.log.Info("trigger processed", "store_id", ev.StoreID, "trigger", trigger,
		"matched", res.Matched, "enrolled", res.Enrolled, "failed", res.Failed)
	return res, nil
}
