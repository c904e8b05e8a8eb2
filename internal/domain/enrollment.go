package domain

import (
	"errors"
	"time"
)

// EnrollmentStatus enumerates the lifecycle states of a drip enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentCancelled EnrollmentStatus = "cancelled"
)

// Enrollment is the per-recipient runtime state of a campaign. At most one
// non-cancelled enrollment exists per (CampaignID, Email).
type Enrollment struct {
	ID                string           `json:"id" db:"id"`
	CampaignID        string           `json:"campaign_id" db:"campaign_id"`
	Email             string           `json:"email" db:"email"`
	Name              string           `json:"name,omitempty" db:"name"`
	CustomerID        string           `json:"customer_id,omitempty" db:"customer_id"`
	Metadata          map[string]any   `json:"metadata,omitempty" db:"metadata"`
	Status            EnrollmentStatus `json:"status" db:"status"`
	CurrentStepNumber int              `json:"current_step_number" db:"current_step_number"`
	NextSendAt        *time.Time       `json:"next_send_at,omitempty" db:"next_send_at"`
	EnrolledAt        time.Time        `json:"enrolled_at" db:"enrolled_at"`
	LastSentAt        *time.Time       `json:"last_sent_at,omitempty" db:"last_sent_at"`
	CompletedAt       *time.Time       `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty" db:"cancelled_at"`
}

// IsTerminal returns true once the enrollment can no longer change.
func (e *Enrollment) IsTerminal() bool {
	return e.Status == EnrollmentCompleted || e.Status == EnrollmentCancelled
}

// IsDue reports whether an active enrollment should fire at now.
func (e *Enrollment) IsDue(now time.Time) bool {
	return e.Status == EnrollmentActive && e.NextSendAt != nil && !e.NextSendAt.After(now)
}

// EnrollmentState is the tagged view of an enrollment's lifecycle. Exactly
// one of the concrete types below implements it for any valid enrollment.
type EnrollmentState interface {
	isEnrollmentState()
}

// ActiveState is an enrollment waiting to fire CurrentStep at NextSendAt.
type ActiveState struct {
	CurrentStep int
	NextSendAt  time.Time
}

// CompletedState is an enrollment that ran out of steps.
type CompletedState struct {
	CompletedAt time.Time
}

// CancelledState is an enrollment stopped by unenroll or suppression.
// CancelledAt may be zero for rows cancelled before it was recorded.
type CancelledState struct {
	CancelledAt time.Time
}

func (ActiveState) isEnrollmentState()    {}
func (CompletedState) isEnrollmentState() {}
func (CancelledState) isEnrollmentState() {}

// ErrInvalidEnrollmentState is returned for status/timestamp combinations
// that cannot occur, such as an active enrollment with no send time.
var ErrInvalidEnrollmentState = errors.New("invalid enrollment state")

// State converts the flat row into its tagged form.
func (e *Enrollment) State() (EnrollmentState, error) {
	switch e.Status {
	case EnrollmentActive:
		if e.NextSendAt == nil {
			return nil, ErrInvalidEnrollmentState
		}
		return ActiveState{CurrentStep: e.CurrentStepNumber, NextSendAt: *e.NextSendAt}, nil
	case EnrollmentCompleted:
		if e.CompletedAt == nil || e.NextSendAt != nil {
			return nil, ErrInvalidEnrollmentState
		}
		return CompletedState{CompletedAt: *e.CompletedAt}, nil
	case EnrollmentCancelled:
		var at time.Time
		if e.CancelledAt != nil {
			at = *e.CancelledAt
		}
		return CancelledState{CancelledAt: at}, nil
	}
	return nil, ErrInvalidEnrollmentState
}

// Validate rejects illegal combinations of status and timestamps.
func (e *Enrollment) Validate() error {
	_, err := e.State()
	return err
}

// Complete moves the enrollment to its terminal completed state.
func (e *Enrollment) Complete(now time.Time) {
	e.Status = EnrollmentCompleted
	e.CompletedAt = &now
	e.NextSendAt = nil
}

// Cancel moves the enrollment to its terminal cancelled state.
func (e *Enrollment) Cancel(now time.Time) {
	e.Status = EnrollmentCancelled
	e.CancelledAt = &now
	e.NextSendAt = nil
}

// MoveTo schedules the next step, keeping the enrollment active.
func (e *Enrollment) MoveTo(step *Step, now time.Time) {
	next := now.Add(step.Delay())
	e.CurrentStepNumber = step.StepNumber
	e.NextSendAt = &next
	e.LastSentAt = &now
}
