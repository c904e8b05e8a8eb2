package sending

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// LogSender records messages instead of delivering them. It is used when no
// provider is configured and as a test double.
type LogSender struct {
	mu   sync.Mutex
	sent []domain.EmailMessage
	log  *logger.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender() *LogSender {
	return &LogSender{log: logger.With("component", "sending.Log")}
}

func (l *LogSender) Send(_ context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	l.mu.Lock()
	l.sent = append(l.sent, *msg)
	l.mu.Unlock()

	id := uuid.New().String()
	l.log.Info("email logged", "email", msg.Email, "subject", msg.Subject,
		"campaign_id", msg.CampaignID, "step", msg.StepNumber, "message_id", id)
	return &domain.SendResult{Success: true, MessageID: id, Provider: domain.ProviderLog, SentAt: time.Now()}, nil
}

// Sent returns a copy of every message logged so far.
func (l *LogSender) Sent() []domain.EmailMessage {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.EmailMessage(nil), l.sent...)
}
