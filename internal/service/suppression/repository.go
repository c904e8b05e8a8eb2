package suppression

import (
	"context"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
)

// Repository defines the data access contract for suppression state and the
// records the cancellation cascade touches. Emails are always normalized.
type Repository interface {
	// LookupSignals gathers every suppression source for an address.
	LookupSignals(ctx context.Context, email string) (domain.SuppressionSignals, error)

	// GetPreference returns ErrNotFound when the address has no record.
	GetPreference(ctx context.Context, email string) (*domain.Preference, error)
	UpsertPreference(ctx context.Context, p *domain.Preference) error

	InsertSendLog(ctx context.Context, entry *domain.SendLogEntry) error

	// SetContactStatus updates every per-store contact row for the address
	// and returns how many rows changed.
	SetContactStatus(ctx context.Context, email string, status domain.ContactStatus, now time.Time) (int, error)

	ListActiveEnrollmentIDs(ctx context.Context, email string) ([]string, error)
	// CancelEnrollment returns false if the enrollment was no longer active.
	CancelEnrollment(ctx context.Context, id string, now time.Time) (bool, error)

	ListInFlightExecutionIDs(ctx context.Context, email string) ([]string, error)
	// CancelExecution returns false if the execution had already finished.
	CancelExecution(ctx context.Context, id string, now time.Time) (bool, error)
}

// Cache remembers positive suppression verdicts. Only suppressed addresses
// are stored, so a miss always falls through to the repository.
type Cache interface {
	Get(ctx context.Context, email string) (domain.SuppressionReason, bool, error)
	Set(ctx context.Context, email string, reason domain.SuppressionReason) error
}
