package domain

import (
	"fmt"
	"sort"
	"time"
)

// TriggerType identifies the business event that enrolls contacts into a
// drip campaign automatically.
type TriggerType string

const (
	TriggerLeadSignup      TriggerType = "lead_signup"
	TriggerProductPurchase TriggerType = "product_purchase"
	TriggerTagAdded        TriggerType = "tag_added"
	TriggerManual          TriggerType = "manual"
)

// ParseTriggerType validates a raw trigger string.
func ParseTriggerType(s string) (TriggerType, error) {
	switch t := TriggerType(s); t {
	case TriggerLeadSignup, TriggerProductPurchase, TriggerTagAdded, TriggerManual:
		return t, nil
	}
	return "", fmt.Errorf("unknown trigger type %q", s)
}

// Campaign is a named, ordered sequence of timed email steps scoped to a
// store. No enrollment or new sending starts while IsActive is false.
type Campaign struct {
	ID             string         `json:"id" db:"id"`
	StoreID        string         `json:"store_id" db:"store_id"`
	Name           string         `json:"name" db:"name"`
	Description    string         `json:"description" db:"description"`
	TriggerType    TriggerType    `json:"trigger_type" db:"trigger_type"`
	TriggerConfig  map[string]any `json:"trigger_config" db:"trigger_config"`
	IsActive       bool           `json:"is_active" db:"is_active"`
	TotalEnrolled  int            `json:"total_enrolled" db:"total_enrolled"`
	TotalCompleted int            `json:"total_completed" db:"total_completed"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at" db:"updated_at"`
}

// MatchesTriggerConfig reports whether an event payload satisfies the
// campaign's trigger configuration. Keys the campaign does not configure
// always match, so an empty config accepts every event of its type.
func (c *Campaign) MatchesTriggerConfig(eventData map[string]any) bool {
	for _, key := range []string{"tag", "productId"} {
		want, ok := c.TriggerConfig[key]
		if !ok || want == nil || fmt.Sprint(want) == "" {
			continue
		}
		got, ok := eventData[key]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// Step is one email in a campaign's sequence. DelayMinutes is measured from
// the moment the previous step fired (or from enrollment, for the first step).
type Step struct {
	ID           string    `json:"id" db:"id"`
	CampaignID   string    `json:"campaign_id" db:"campaign_id"`
	StepNumber   int       `json:"step_number" db:"step_number"`
	DelayMinutes int       `json:"delay_minutes" db:"delay_minutes"`
	Subject      string    `json:"subject" db:"subject"`
	HTMLContent  string    `json:"html_content" db:"html_content"`
	TextContent  string    `json:"text_content" db:"text_content"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	SentCount    int       `json:"sent_count" db:"sent_count"`
	OpenCount    int       `json:"open_count" db:"open_count"`
	ClickCount   int       `json:"click_count" db:"click_count"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}

// Delay returns the step's wait as a duration.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayMinutes) * time.Minute
}

// Validate checks the invariants a step must satisfy before it is stored.
func (s *Step) Validate() error {
	if s.StepNumber <= 0 {
		return fmt.Errorf("step number must be positive, got %d", s.StepNumber)
	}
	if s.DelayMinutes < 0 {
		return fmt.Errorf("delay minutes must be non-negative, got %d", s.DelayMinutes)
	}
	if s.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	return nil
}

// SortSteps orders steps by StepNumber in place and returns the slice.
func SortSteps(steps []Step) []Step {
	sort.SliceStable(steps, func(i, j int) bool {
		return steps[i].StepNumber < steps[j].StepNumber
	})
	return steps
}

// FindStep locates stepNumber in a sorted step list. The boolean is false
// when no step carries that number (for example because it was deleted).
func FindStep(sorted []Step, stepNumber int) (int, bool) {
	for i := range sorted {
		if sorted[i].StepNumber == stepNumber {
			return i, true
		}
	}
	return -1, false
}

// CampaignDetail is a campaign with its ordered steps and live enrollment
// counts, as shown on the campaign page.
type CampaignDetail struct {
	Campaign
	Steps                []Step `json:"steps"`
	ActiveEnrollments    int    `json:"active_enrollments"`
	CompletedEnrollments int    `json:"completed_enrollments"`
}
