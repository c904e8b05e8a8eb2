// Package api exposes the drip engine over HTTP: campaign and step
// management, enrollment entry points, suppression checks, the one-click
// unsubscribe link and the SES bounce/complaint webhook.
package api

import (
	"errors"
	"net/http"

	"github.com/ignite/drip-engine/internal/mailing"
	"github.com/ignite/drip-engine/internal/pkg/httpretry"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
	"github.com/ignite/drip-engine/internal/pkg/logger"
	"github.com/ignite/drip-engine/internal/service/drip"
	"github.com/ignite/drip-engine/internal/service/suppression"
)

// Server holds the services the handlers call.
type Server struct {
	drip        *drip.Service
	suppression *suppression.Service
	signer      *mailing.UnsubscribeSigner
	health      *HealthChecker
	sns         SNSOptions
	log         *logger.Logger
}

// SNSOptions configures the SES webhook.
type SNSOptions struct {
	// AutoConfirm fetches SubscribeURL for subscription confirmations.
	AutoConfirm bool
	// TopicARNs, when non-empty, is the allowlist of accepted topics.
	TopicARNs []string
	// Client performs the confirmation request.
	Client httpretry.HTTPDoer
}

// NewServer wires the HTTP handlers. health may be nil.
func NewServer(d *drip.Service, s *suppression.Service, signer *mailing.UnsubscribeSigner,
	health *HealthChecker, sns SNSOptions) *Server {
	if sns.Client == nil {
		sns.Client = httpretry.NewRetryClient(nil, 3)
	}
	if health == nil {
		health = NewHealthChecker(nil, nil)
	}
	return &Server{
		drip:        d,
		suppression: s,
		signer:      signer,
		health:      health,
		sns:         sns,
		log:         logger.With("component", "api"),
	}
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, drip.ErrNotFound):
		httputil.NotFound(w, "not found")
	case errors.Is(err, drip.ErrDuplicateStep):
		httputil.Conflict(w, err.Error())
	case errors.Is(err, drip.ErrInvalidInput),
		errors.Is(err, suppression.ErrInvalidEmail),
		errors.Is(err, suppression.ErrBatchTooLarge):
		httputil.BadRequest(w, err.Error())
	default:
		httputil.InternalError(w, err)
	}
}

var errInvalidSubscribeURL = errors.New("subscribe url is not an https amazonaws.com address")
