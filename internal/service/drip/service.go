package drip

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

const (
	// DefaultDueLimit is the page size for GetDueEnrollments.
	DefaultDueLimit = 100

	// DefaultStuckThreshold is how far past its send time an enrollment must
	// be before recovery reschedules it.
	DefaultStuckThreshold = time.Hour

	// DefaultRecoveryBatch caps the enrollments touched per recovery sweep.
	DefaultRecoveryBatch = 50
)

// Service implements drip campaign business logic. It is safe for concurrent
// use if the underlying repository is.
type Service struct {
	repo           Repository
	now            func() time.Time
	stuckThreshold time.Duration
	recoveryBatch  int
	log            *logger.Logger
}

// Option customizes a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests and replays.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStuckThreshold overrides DefaultStuckThreshold.
func WithStuckThreshold(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.stuckThreshold = d
		}
	}
}

// WithRecoveryBatch overrides DefaultRecoveryBatch.
func WithRecoveryBatch(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.recoveryBatch = n
		}
	}
}

// NewService creates a drip service backed by the given repository.
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:           repo,
		now:            time.Now,
		stuckThreshold: DefaultStuckThreshold,
		recoveryBatch:  DefaultRecoveryBatch,
		log:            logger.With("component", "drip.Service"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// CreateCampaignInput holds the fields for creating a campaign.
type CreateCampaignInput struct {
	StoreID       string         `json:"store_id"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	TriggerType   string         `json:"trigger_type"`
	TriggerConfig map[string]any `json:"trigger_config"`
}

// CreateCampaign validates and persists a new, inactive campaign.
func (s *Service) CreateCampaign(ctx context.Context, in CreateCampaignInput) (*domain.Campaign, error) {
	if strings.TrimSpace(in.StoreID) == "" {
		return nil, fmt.Errorf("%w: store id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	trigger, err := domain.ParseTriggerType(in.TriggerType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	cfg := in.TriggerConfig
	if cfg == nil {
		cfg = map[string]any{}
	}
	now := s.now()
	c := &domain.Campaign{
		ID:            uuid.New().String(),
		StoreID:       in.StoreID,
		Name:          in.Name,
		Description:   in.Description,
		TriggerType:   trigger,
		TriggerConfig: cfg,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateCampaign(ctx, c); err != nil {
		return nil, fmt.Errorf("create campaign: %w", err)
	}
	return c, nil
}

// GetCampaign returns the campaign with its sorted steps and enrollment counts.
func (s *Service) GetCampaign(ctx context.Context, id string) (*domain.CampaignDetail, error) {
	c, err := s.repo.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	steps, err := s.repo.ListSteps(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	counts, err := s.repo.CountEnrollmentsByStatus(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}
	return &domain.CampaignDetail{
		Campaign:             *c,
		Steps:                domain.SortSteps(steps),
		ActiveEnrollments:    counts[domain.EnrollmentActive],
		CompletedEnrollments: counts[domain.EnrollmentCompleted],
	}, nil
}

// ListCampaigns returns every campaign of a store.
func (s *Service) ListCampaigns(ctx context.Context, storeID string) ([]domain.Campaign, error) {
	return s.repo.ListCampaignsByStore(ctx, storeID)
}

// ToggleCampaign flips IsActive and returns the new value. In-flight
// enrollments are left alone: deactivation only stops new enrollments.
func (s *Service) ToggleCampaign(ctx context.Context, id string) (bool, error) {
	var active bool
	err := s.repo.RunInTx(ctx, func(tx Repository) error {
		c, err := tx.GetCampaign(ctx, id)
		if err != nil {
			return err
		}
		active = !c.IsActive
		return tx.SetCampaignActive(ctx, id, active, s.now())
	})
	if err != nil {
		return false, err
	}
	s.log.Info("campaign toggled", "campaign_id", id, "is_active", active)
	return active, nil
}

// DeleteCampaign hard-deletes a campaign along with its steps and enrollments.
func (s *Service) DeleteCampaign(ctx context.Context, id string) error {
	if err := s.repo.DeleteCampaign(ctx, id); err != nil {
		return err
	}
	s.log.Info("campaign deleted", "campaign_id", id)
	return nil
}

// AddStepInput holds the fields for a new step.
type AddStepInput struct {
	CampaignID   string `json:"campaign_id"`
	StepNumber   int    `json:"step_number"`
	DelayMinutes int    `json:"delay_minutes"`
	Subject      string `json:"subject"`
	HTMLContent  string `json:"html_content"`
	TextContent  string `json:"text_content"`
}

// AddStep appends a step to a campaign. Step numbers must be unique within
// the campaign because the advancer relies on a total order.
func (s *Service) AddStep(ctx context.Context, in AddStepInput) (*domain.Step, error) {
	st := &domain.Step{
		ID:           uuid.New().String(),
		CampaignID:   in.CampaignID,
		StepNumber:   in.StepNumber,
		DelayMinutes: in.DelayMinutes,
		Subject:      in.Subject,
		HTMLContent:  in.HTMLContent,
		TextContent:  in.TextContent,
		IsActive:     true,
		CreatedAt:    s.now(),
	}
	if err := st.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err := s.repo.RunInTx(ctx, func(tx Repository) error {
		if _, err := tx.GetCampaign(ctx, in.CampaignID); err != nil {
			return err
		}
		steps, err := tx.ListSteps(ctx, in.CampaignID)
		if err != nil {
			return err
		}
		if _, taken := domain.FindStep(steps, in.StepNumber); taken {
			return ErrDuplicateStep
		}
		return tx.CreateStep(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// UpdateStep applies a partial update to a step.
func (s *Service) UpdateStep(ctx context.Context, stepID string, u StepUpdate) error {
	if u.DelayMinutes != nil && *u.DelayMinutes < 0 {
		return fmt.Errorf("%w: delay minutes must be non-negative", ErrInvalidInput)
	}
	if u.Empty() {
		return nil
	}
	return s.repo.UpdateStep(ctx, stepID, u)
}

// DeleteStep removes a step. Enrollments still pointing at it are completed
// by the advancer on their next tick.
func (s *Service) DeleteStep(ctx context.Context, stepID string) error {
	return s.repo.DeleteStep(ctx, stepID)
}

// isNotFound folds ErrNotFound into a boolean for the silent no-op paths.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
