package domain

import (
	"crypto/md5"
	"encoding/hex"
	"net/mail"
	"strings"
	"time"
)

// SuppressionReason enumerates why an address is blocked from receiving mail.
type SuppressionReason string

const (
	ReasonUnsubscribed SuppressionReason = "unsubscribed"
	ReasonBounced      SuppressionReason = "bounced"
	ReasonComplained   SuppressionReason = "complained"
)

// Unsubscribe reasons recorded on the preference record.
const (
	UnsubscribeReasonUser         = "user_request"
	UnsubscribeReasonAutoBounce   = "auto-suppressed"
	UnsubscribeReasonAutoComplain = "auto-suppressed: complaint"
)

// BounceType distinguishes permanent from transient delivery failures.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// SendLogStatus is the delivery outcome recorded for a sent message.
type SendLogStatus string

const (
	SendLogSent       SendLogStatus = "sent"
	SendLogDelivered  SendLogStatus = "delivered"
	SendLogBounced    SendLogStatus = "bounced"
	SendLogComplained SendLogStatus = "complained"
)

// ContactStatus is the per-store status of a contact.
type ContactStatus string

const (
	ContactSubscribed   ContactStatus = "subscribed"
	ContactUnsubscribed ContactStatus = "unsubscribed"
	ContactBounced      ContactStatus = "bounced"
	ContactComplained   ContactStatus = "complained"
	ContactSoftBounced  ContactStatus = "soft_bounced"
)

// Suppresses reports whether this contact status blocks sending.
func (s ContactStatus) Suppresses() (SuppressionReason, bool) {
	switch s {
	case ContactUnsubscribed:
		return ReasonUnsubscribed, true
	case ContactBounced:
		return ReasonBounced, true
	case ContactComplained:
		return ReasonComplained, true
	}
	return "", false
}

// Preference is the explicit, store-independent email preference record.
type Preference struct {
	Email             string     `json:"email" db:"email"`
	IsUnsubscribed    bool       `json:"is_unsubscribed" db:"is_unsubscribed"`
	UnsubscribedAt    *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	UnsubscribeReason string     `json:"unsubscribe_reason,omitempty" db:"unsubscribe_reason"`
	PlatformEmails    bool       `json:"platform_emails" db:"platform_emails"`
	CourseEmails      bool       `json:"course_emails" db:"course_emails"`
	MarketingEmails   bool       `json:"marketing_emails" db:"marketing_emails"`
	WeeklyDigest      bool       `json:"weekly_digest" db:"weekly_digest"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// Unsubscribe clears every opt-in flag and records the reason.
func (p *Preference) Unsubscribe(reason string, now time.Time) {
	p.IsUnsubscribed = true
	p.UnsubscribedAt = &now
	p.UnsubscribeReason = reason
	p.PlatformEmails = false
	p.CourseEmails = false
	p.MarketingEmails = false
	p.WeeklyDigest = false
	p.UpdatedAt = now
}

// SendLogEntry is one delivery event for an address.
type SendLogEntry struct {
	ID         string        `json:"id" db:"id"`
	Email      string        `json:"email" db:"email"`
	Status     SendLogStatus `json:"status" db:"status"`
	BounceType BounceType    `json:"bounce_type,omitempty" db:"bounce_type"`
	CreatedAt  time.Time     `json:"created_at" db:"created_at"`
}

// Contact is a per-store record of an address.
type Contact struct {
	ID        string        `json:"id" db:"id"`
	StoreID   string        `json:"store_id" db:"store_id"`
	Email     string        `json:"email" db:"email"`
	Status    ContactStatus `json:"status" db:"status"`
	UpdatedAt time.Time     `json:"updated_at" db:"updated_at"`
}

// SuppressionSignals gathers every source that can suppress an address.
type SuppressionSignals struct {
	Preference      *Preference
	HasBounce       bool
	HasComplaint    bool
	ContactStatuses []ContactStatus
}

// Evaluate applies the fixed source order: explicit preference, bounce log,
// complaint log, then per-store contact records.
func (s SuppressionSignals) Evaluate() (SuppressionReason, bool) {
	if s.Preference != nil && s.Preference.IsUnsubscribed {
		return ReasonUnsubscribed, true
	}
	if s.HasBounce {
		return ReasonBounced, true
	}
	if s.HasComplaint {
		return ReasonComplained, true
	}
	for _, st := range s.ContactStatuses {
		if reason, ok := st.Suppresses(); ok {
			return reason, true
		}
	}
	return "", false
}

// SuppressionResult is the answer to "may this address receive mail".
type SuppressionResult struct {
	Email      string            `json:"email"`
	Suppressed bool              `json:"suppressed"`
	Reason     SuppressionReason `json:"reason,omitempty"`
}

// WorkflowExecutionStatus enumerates states of a visual-workflow run.
type WorkflowExecutionStatus string

const (
	WorkflowPending   WorkflowExecutionStatus = "pending"
	WorkflowRunning   WorkflowExecutionStatus = "running"
	WorkflowCompleted WorkflowExecutionStatus = "completed"
	WorkflowFailed    WorkflowExecutionStatus = "failed"
	WorkflowCancelled WorkflowExecutionStatus = "cancelled"
)

// WorkflowExecution is an in-flight automation run for a customer. Only the
// suppression cascade mutates it here.
type WorkflowExecution struct {
	ID            string                  `json:"id" db:"id"`
	WorkflowID    string                  `json:"workflow_id" db:"workflow_id"`
	StoreID       string                  `json:"store_id" db:"store_id"`
	CustomerEmail string                  `json:"customer_email" db:"customer_email"`
	Status        WorkflowExecutionStatus `json:"status" db:"status"`
	CompletedAt   *time.Time              `json:"completed_at,omitempty" db:"completed_at"`
}

// IsInFlight returns true for executions the cascade must cancel.
func (w *WorkflowExecution) IsInFlight() bool {
	return w.Status == WorkflowPending || w.Status == WorkflowRunning
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidEmail reports whether a normalized address is syntactically usable.
func ValidEmail(email string) bool {
	if email == "" || !strings.Contains(email, "@") {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

// EmailHash returns the hex MD5 of a normalized address, used as a cache key.
func EmailHash(email string) string {
	sum := md5.Sum([]byte(NormalizeEmail(email)))
	return hex.EncodeToString(sum[:])
}
