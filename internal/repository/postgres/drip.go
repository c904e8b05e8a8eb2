package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/service/drip"
)

// queryer is the subset of *sql.DB and *sql.Tx the repositories use.
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// DripRepo implements drip.Repository against PostgreSQL.
type DripRepo struct {
	db   *sql.DB
	q    queryer
	inTx bool
}

// NewDripRepo creates a Postgres-backed drip repository.
func NewDripRepo(db *sql.DB) *DripRepo { return &DripRepo{db: db, q: db} }

var _ drip.Repository = (*DripRepo)(nil)

func (r *DripRepo) RunInTx(ctx context.Context, fn func(tx drip.Repository) error) error {
	if r.inTx {
		return fn(r)
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&DripRepo{db: r.db, q: tx, inTx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

const campaignColumns = `id, store_id, name, description, trigger_type, trigger_config,
	is_active, total_enrolled, total_completed, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*domain.Campaign, error) {
	var (
		c   domain.Campaign
		cfg []byte
	)
	if err := row.Scan(&c.ID, &c.StoreID, &c.Name, &c.Description, &c.TriggerType, &cfg,
		&c.IsActive, &c.TotalEnrolled, &c.TotalCompleted, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	c.TriggerConfig = map[string]any{}
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &c.TriggerConfig); err != nil {
			return nil, fmt.Errorf("decode trigger config: %w", err)
		}
	}
	return &c, nil
}

func (r *DripRepo) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	cfg, err := json.Marshal(c.TriggerConfig)
	if err != nil {
		return fmt.Errorf("encode trigger config: %w", err)
	}
	_, err = r.q.ExecContext(ctx, `
		INSERT INTO drip_campaigns (`+campaignColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.StoreID, c.Name, c.Description, c.TriggerType, cfg,
		c.IsActive, c.TotalEnrolled, c.TotalCompleted, c.CreatedAt, c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create campaign: %w", err)
	}
	return nil
}

func (r *DripRepo) GetCampaign(ctx context.Context, id string) (*domain.Campaign, error) {
	c, err := scanCampaign(r.q.QueryRowContext(ctx,
		`SELECT `+campaignColumns+` FROM drip_campaigns WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, drip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get campaign: %w", err)
	}
	return c, nil
}

func (r *DripRepo) ListCampaignsByStore(ctx context.Context, storeID string) ([]domain.Campaign, error) {
	return r.listCampaigns(ctx, `
		SELECT `+campaignColumns+` FROM drip_campaigns
		WHERE store_id = $1
		ORDER BY created_at, id
	`, storeID)
}

func (r *DripRepo) ListActiveCampaignsByTrigger(ctx context.Context, storeID string, trigger domain.TriggerType) ([]domain.Campaign, error) {
	return r.listCampaigns(ctx, `
		SELECT `+campaignColumns+` FROM drip_campaigns
		WHERE store_id = $1 AND trigger_type = $2 AND is_active = true
		ORDER BY created_at, id
	`, storeID, trigger)
}

func (r *DripRepo) listCampaigns(ctx context.Context, q string, args ...interface{}) ([]domain.Campaign, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	out := []domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *DripRepo) SetCampaignActive(ctx context.Context, id string, active bool, now time.Time) error {
	return r.execOne(ctx, "set campaign active",
		`UPDATE drip_campaigns SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, now)
}

func (r *DripRepo) IncrementCampaignCounters(ctx context.Context, id string, enrolled, completed int) error {
	return r.execOne(ctx, "increment campaign counters", `
		UPDATE drip_campaigns
		SET total_enrolled = total_enrolled + $2, total_completed = total_completed + $3
		WHERE id = $1
	`, id, enrolled, completed)
}

// DeleteCampaign relies on ON DELETE CASCADE for steps and enrollments.
func (r *DripRepo) DeleteCampaign(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete campaign", `DELETE FROM drip_campaigns WHERE id = $1`, id)
}

const stepColumns = `id, campaign_id, step_number, delay_minutes, subject, html_content,
	text_content, is_active, sent_count, open_count, click_count, created_at`

func scanStep(row rowScanner) (*domain.Step, error) {
	var s domain.Step
	err := row.Scan(&s.ID, &s.CampaignID, &s.StepNumber, &s.DelayMinutes, &s.Subject, &s.HTMLContent,
		&s.TextContent, &s.IsActive, &s.SentCount, &s.OpenCount, &s.ClickCount, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *DripRepo) CreateStep(ctx context.Context, s *domain.Step) error {
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO drip_campaign_steps (`+stepColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (campaign_id, step_number) DO NOTHING
	`, s.ID, s.CampaignID, s.StepNumber, s.DelayMinutes, s.Subject, s.HTMLContent,
		s.TextContent, s.IsActive, s.SentCount, s.OpenCount, s.ClickCount, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("create step: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drip.ErrDuplicateStep
	}
	return nil
}

func (r *DripRepo) GetStep(ctx context.Context, id string) (*domain.Step, error) {
	s, err := scanStep(r.q.QueryRowContext(ctx,
		`SELECT `+stepColumns+` FROM drip_campaign_steps WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, drip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get step: %w", err)
	}
	return s, nil
}

func (r *DripRepo) ListSteps(ctx context.Context, campaignID string) ([]domain.Step, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+stepColumns+` FROM drip_campaign_steps
		WHERE campaign_id = $1
		ORDER BY step_number
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list steps: %w", err)
	}
	defer rows.Close()

	out := []domain.Step{}
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, fmt.Errorf("scan step: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *DripRepo) UpdateStep(ctx context.Context, id string, u drip.StepUpdate) error {
	var (
		sets []string
		args = []interface{}{id}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if u.DelayMinutes != nil {
		add("delay_minutes", *u.DelayMinutes)
	}
	if u.Subject != nil {
		add("subject", *u.Subject)
	}
	if u.HTMLContent != nil {
		add("html_content", *u.HTMLContent)
	}
	if u.TextContent != nil {
		add("text_content", *u.TextContent)
	}
	if u.IsActive != nil {
		add("is_active", *u.IsActive)
	}
	if len(sets) == 0 {
		return nil
	}
	return r.execOne(ctx, "update step",
		`UPDATE drip_campaign_steps SET `+strings.Join(sets, ", ")+` WHERE id = $1`, args...)
}

func (r *DripRepo) DeleteStep(ctx context.Context, id string) error {
	return r.execOne(ctx, "delete step", `DELETE FROM drip_campaign_steps WHERE id = $1`, id)
}

func (r *DripRepo) IncrementStepSent(ctx context.Context, stepID string) error {
	return r.execOne(ctx, "increment step sent",
		`UPDATE drip_campaign_steps SET sent_count = sent_count + 1 WHERE id = $1`, stepID)
}

const enrollmentColumns = `id, campaign_id, email, name, customer_id, metadata, status,
	current_step_number, next_send_at, enrolled_at, last_sent_at, completed_at, cancelled_at`

func scanEnrollment(row rowScanner) (*domain.Enrollment, error) {
	var (
		e                                   domain.Enrollment
		meta                                []byte
		next, lastSent, completed, canceled sql.NullTime
	)
	if err := row.Scan(&e.ID, &e.CampaignID, &e.Email, &e.Name, &e.CustomerID, &meta, &e.Status,
		&e.CurrentStepNumber, &next, &e.EnrolledAt, &lastSent, &completed, &canceled); err != nil {
		return nil, err
	}
	if len(meta) > 0 && string(meta) != "null" {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	e.NextSendAt = timePtr(next)
	e.LastSentAt = timePtr(lastSent)
	e.CompletedAt = timePtr(completed)
	e.CancelledAt = timePtr(canceled)
	return &e, nil
}

func (r *DripRepo) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	meta, err := encodeMetadata(e.Metadata)
	if err != nil {
		return err
	}
	res, err := r.q.ExecContext(ctx, `
		INSERT INTO drip_enrollments (`+enrollmentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (campaign_id, email) DO NOTHING
	`, e.ID, e.CampaignID, e.Email, e.Name, e.CustomerID, meta, e.Status,
		e.CurrentStepNumber, e.NextSendAt, e.EnrolledAt, e.LastSentAt, e.CompletedAt, e.CancelledAt)
	if err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drip.ErrDuplicateEnrollment
	}
	return nil
}

// GetEnrollment locks the row when called inside RunInTx.
func (r *DripRepo) GetEnrollment(ctx context.Context, id string) (*domain.Enrollment, error) {
	q := `SELECT ` + enrollmentColumns + ` FROM drip_enrollments WHERE id = $1`
	if r.inTx {
		q += ` FOR UPDATE`
	}
	e, err := scanEnrollment(r.q.QueryRowContext(ctx, q, id))
	if err == sql.ErrNoRows {
		return nil, drip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	return e, nil
}

func (r *DripRepo) FindEnrollment(ctx context.Context, campaignID, email string) (*domain.Enrollment, error) {
	e, err := scanEnrollment(r.q.QueryRowContext(ctx, `
		SELECT `+enrollmentColumns+` FROM drip_enrollments
		WHERE campaign_id = $1 AND email = $2
	`, campaignID, email))
	if err == sql.ErrNoRows {
		return nil, drip.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find enrollment: %w", err)
	}
	return e, nil
}

func (r *DripRepo) SaveEnrollment(ctx context.Context, e *domain.Enrollment) error {
	return r.execOne(ctx, "save enrollment", `
		UPDATE drip_enrollments
		SET status = $2, current_step_number = $3, next_send_at = $4,
		    last_sent_at = $5, completed_at = $6, cancelled_at = $7
		WHERE id = $1
	`, e.ID, e.Status, e.CurrentStepNumber, e.NextSendAt, e.LastSentAt, e.CompletedAt, e.CancelledAt)
}

func (r *DripRepo) ListEnrollmentsByEmail(ctx context.Context, email string) ([]domain.Enrollment, error) {
	return r.listEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM drip_enrollments
		WHERE email = $1
		ORDER BY enrolled_at, id
	`, email)
}

func (r *DripRepo) ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]domain.Enrollment, error) {
	return r.listEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM drip_enrollments
		WHERE status = 'active' AND next_send_at <= $1
		ORDER BY next_send_at, id
		LIMIT $2
	`, now, limit)
}

func (r *DripRepo) ListStuckEnrollments(ctx context.Context, before time.Time, limit int) ([]domain.Enrollment, error) {
	return r.listEnrollments(ctx, `
		SELECT `+enrollmentColumns+` FROM drip_enrollments
		WHERE status = 'active' AND next_send_at < $1
		ORDER BY next_send_at, id
		LIMIT $2
	`, before, limit)
}

func (r *DripRepo) listEnrollments(ctx context.Context, q string, args ...interface{}) ([]domain.Enrollment, error) {
	rows, err := r.q.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	out := []domain.Enrollment{}
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (r *DripRepo) ResetNextSendAt(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	res, err := r.q.ExecContext(ctx, `
		UPDATE drip_enrollments SET next_send_at = $3
		WHERE id = $1 AND status = 'active' AND next_send_at < $2
	`, id, cutoff, at)
	if err != nil {
		return false, fmt.Errorf("reset next send: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *DripRepo) CountEnrollmentsByStatus(ctx context.Context, campaignID string) (map[domain.EnrollmentStatus]int, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM drip_enrollments
		WHERE campaign_id = $1
		GROUP BY status
	`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("count enrollments: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.EnrollmentStatus]int)
	for rows.Next() {
		var (
			status domain.EnrollmentStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// execOne runs a statement that must touch exactly one row.
func (r *DripRepo) execOne(ctx context.Context, op, q string, args ...interface{}) error {
	res, err := r.q.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return drip.ErrNotFound
	}
	return nil
}

func encodeMetadata(m map[string]any) ([]byte, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return b, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
