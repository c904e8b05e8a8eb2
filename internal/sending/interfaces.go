// Package sending delivers composed drip messages through an email
// provider. Each provider implements Sender.
package sending

import (
	"context"

	"github.com/ignite/drip-engine/internal/domain"
)

// Sender sends a single email. A provider rejection is reported through
// SendResult.Success with a nil error; errors are reserved for failures
// where the outcome is unknown. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error)
}
