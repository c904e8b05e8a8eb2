package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/suppression"
)

// SuppressionRepo implements suppression.Repository against PostgreSQL.
type SuppressionRepo struct{ db *sql.DB }

// NewSuppressionRepo creates a Postgres-backed suppression repository.
func NewSuppressionRepo(db *sql.DB) *SuppressionRepo { return &SuppressionRepo{db: db} }

var _ suppression.Repository = (*SuppressionRepo)(nil)

// LookupSignals reads all three suppression sources in one round trip per
// source. The send-log flags come from a single aggregate.
func (r *SuppressionRepo) LookupSignals(ctx context.Context, email string) (domain.SuppressionSignals, error) {
	var sig domain.SuppressionSignals

	p, err := r.GetPreference(ctx, email)
	switch {
	case err == nil:
		sig.Preference = p
	case err != suppression.ErrNotFound:
		return sig, err
	}

	if err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(bool_or(status = 'bounced'), false),
		       COALESCE(bool_or(status = 'complained'), false)
		FROM email_send_log
		WHERE email = $1 AND status IN ('bounced', 'complained')
	`, email).Scan(&sig.HasBounce, &sig.HasComplaint); err != nil {
		return sig, fmt.Errorf("send log signals: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT status FROM email_contacts WHERE email = $1 ORDER BY id`, email)
	if err != nil {
		return sig, fmt.Errorf("contact signals: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st domain.ContactStatus
		if err := rows.Scan(&st); err != nil {
			return sig, fmt.Errorf("scan contact status: %w", err)
		}
		sig.ContactStatuses = append(sig.ContactStatuses, st)
	}
	return sig, rows.Err()
}

func (r *SuppressionRepo) GetPreference(ctx context.Context, email string) (*domain.Preference, error) {
	var (
		p  domain.Preference
		at sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT email, is_unsubscribed, unsubscribed_at, unsubscribe_reason,
		       platform_emails, course_emails, marketing_emails, weekly_digest, updated_at
		FROM email_preferences
		WHERE email = $1
	`, email).Scan(&p.Email, &p.IsUnsubscribed, &at, &p.UnsubscribeReason,
		&p.PlatformEmails, &p.CourseEmails, &p.MarketingEmails, &p.WeeklyDigest, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, suppression.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get preference: %w", err)
	}
	p.UnsubscribedAt = timePtr(at)
	return &p, nil
}

func (r *SuppressionRepo) UpsertPreference(ctx context.Context, p *domain.Preference) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_preferences (email, is_unsubscribed, unsubscribed_at, unsubscribe_reason,
			platform_emails, course_emails, marketing_emails, weekly_digest, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (email) DO UPDATE SET
			is_unsubscribed = EXCLUDED.is_unsubscribed,
			unsubscribed_at = EXCLUDED.unsubscribed_at,
			unsubscribe_reason = EXCLUDED.unsubscribe_reason,
			platform_emails = EXCLUDED.platform_emails,
			course_emails = EXCLUDED.course_emails,
			marketing_emails = EXCLUDED.marketing_emails,
			weekly_digest = EXCLUDED.weekly_digest,
			updated_at = EXCLUDED.updated_at
	`, p.Email, p.IsUnsubscribed, p.UnsubscribedAt, p.UnsubscribeReason,
		p.PlatformEmails, p.CourseEmails, p.MarketingEmails, p.WeeklyDigest, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert preference: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) InsertSendLog(ctx context.Context, e *domain.SendLogEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO email_send_log (id, email, status, bounce_type, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, e.Email, e.Status, e.BounceType, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert send log: %w", err)
	}
	return nil
}

func (r *SuppressionRepo) SetContactStatus(ctx context.Context, email string, status domain.ContactStatus, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE email_contacts SET status = $2, updated_at = $3 WHERE email = $1`, email, status, now)
	if err != nil {
		return 0, fmt.Errorf("set contact status: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (r *SuppressionRepo) ListActiveEnrollmentIDs(ctx context.Context, email string) ([]string, error) {
	return r.ids(ctx, "active enrollments",
		`SELECT id FROM drip_enrollments WHERE email = $1 AND status = 'active' ORDER BY id`, email)
}

func (r *SuppressionRepo) CancelEnrollment(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE drip_enrollments
		SET status = 'cancelled', cancelled_at = $2, next_send_at = NULL
		WHERE id = $1 AND status = 'active'
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("cancel enrollment: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SuppressionRepo) ListInFlightExecutionIDs(ctx context.Context, email string) ([]string, error) {
	return r.ids(ctx, "in-flight executions", `
		SELECT id FROM workflow_executions
		WHERE customer_email = $1 AND status IN ('pending', 'running')
		ORDER BY id
	`, email)
}

func (r *SuppressionRepo) CancelExecution(ctx context.Context, id string, now time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE workflow_executions
		SET status = 'cancelled', completed_at = $2
		WHERE id = $1 AND status IN ('pending', 'running')
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("cancel execution: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *SuppressionRepo) ids(ctx context.Context, op, q string, args ...interface{}) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s: %w", op, err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
