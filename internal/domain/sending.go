package domain

import "time"

// Provider names the backend that delivered a drip message.
type Provider string

const (
	ProviderSES Provider = "ses"
	ProviderLog Provider = "log"
)

// EmailMessage is one rendered drip step addressed to one enrollment.
// Subject and bodies are final and the unsubscribe link is already in place.
type EmailMessage struct {
	EnrollmentID string            `json:"enrollment_id"`
	CampaignID   string            `json:"campaign_id"`
	StepNumber   int               `json:"step_number"`
	Email        string            `json:"email"`
	FromName     string            `json:"from_name"`
	FromEmail    string            `json:"from_email"`
	ReplyTo      string            `json:"reply_to,omitempty"`
	Subject      string            `json:"subject"`
	HTMLContent  string            `json:"html_content"`
	TextContent  string            `json:"text_content,omitempty"`
	Headers      map[string]string `json:"headers,omitempty"`
}

// SendResult reports one delivery attempt. Success false with a nil error
// from the Sender means the provider rejected the message.
type SendResult struct {
	Success   bool      `json:"success"`
	MessageID string    `json:"message_id"`
	Provider  Provider  `json:"provider"`
	SentAt    time.Time `json:"sent_at"`
	Error     string    `json:"error,omitempty"`
}
