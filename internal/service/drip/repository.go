package drip

import (
	"context"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// Repository defines the data access contract for campaigns, steps and
// enrollments. Every method is atomic on its own; RunInTx groups several
// calls into one serializable unit and, inside it, GetEnrollment locks the
// row it returns until the transaction ends.
type Repository interface {
	// RunInTx runs fn against a transaction-scoped repository. Returning an
	// error from fn rolls the transaction back.
	RunInTx(ctx context.Context, fn func(tx Repository) error) error

	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	// GetCampaign returns ErrNotFound if the campaign doesn't exist.
	GetCampaign(ctx context.Context, id string) (*domain.Campaign, error)
	ListCampaignsByStore(ctx context.Context, storeID string) ([]domain.Campaign, error)
	ListActiveCampaignsByTrigger(ctx context.Context, storeID string, trigger domain.TriggerType) ([]domain.Campaign, error)
	SetCampaignActive(ctx context.Context, id string, active bool, now time.Time) error
	// IncrementCampaignCounters adds the deltas in a single atomic update.
	IncrementCampaignCounters(ctx context.Context, id string, enrolled, completed int) error
	// DeleteCampaign removes the campaign with all its steps and enrollments.
	DeleteCampaign(ctx context.Context, id string) error

	// CreateStep returns ErrDuplicateStep if the step number is taken.
	CreateStep(ctx context.Context, s *domain.Step) error
	GetStep(ctx context.Context, id string) (*domain.Step, error)
	// ListSteps returns the campaign's steps in ascending StepNumber order.
	ListSteps(ctx context.Context, campaignID string) ([]domain.Step, error)
	UpdateStep(ctx context.Context, id string, u StepUpdate) error
	DeleteStep(ctx context.Context, id string) error
	IncrementStepSent(ctx context.Context, stepID string) error

	// CreateEnrollment returns ErrDuplicateEnrollment when (campaign, email)
	// already has an enrollment.
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) error
	GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error)
	// FindEnrollment returns the enrollment for (campaign, email) or ErrNotFound.
	FindEnrollment(ctx context.Context, campaignID, email string) (*domain.Enrollment, error)
	// SaveEnrollment persists the mutable lifecycle fields of e.
	SaveEnrollment(ctx context.Context, e *domain.Enrollment) error
	ListEnrollmentsByEmail(ctx context.Context, email string) ([]domain.Enrollment, error)
	// ListDueEnrollments returns active enrollments with NextSendAt <= now,
	// oldest NextSendAt first.
	ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error)
	// ListStuckEnrollments returns active enrollments with NextSendAt < before.
	ListStuckEnrollments(ctx context.Context, before time.Time, limit int) ([]domain.Enrollment, error)
	// ResetNextSendAt reschedules an enrollment that is still active and
	// still due before cutoff; false otherwise.
	ResetNextSendAt(ctx context.Context, id string, cutoff, at time.Time) (bool, error)
	CountEnrollmentsByStatus(ctx context.Context, campaignID string) (map[domain.EnrollmentStatus]int, error)
}

// StepUpdate holds the mutable fields of a step. Nil fields are not applied.
type StepUpdate struct {
	DelayMinutes *int    `json:"delay_minutes,omitempty"`
	Subject      *string `json:"subject,omitempty"`
	HTMLContent  *string `json:"html_content,omitempty"`
	TextContent  *string `json:"text_content,omitempty"`
	IsActive     *bool   `json:"is_active,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u StepUpdate) Empty() bool {
	return u.DelayMinutes == nil && u.Subject == nil && u.HTMLContent == nil &&
		u.TextContent == nil && u.IsActive == nil
}
