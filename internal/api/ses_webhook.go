package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/httputil"
)

const maxWebhookBody = 5 << 20

// snsEnvelope is the outer SNS HTTP delivery.
type snsEnvelope struct {
	Type         string `json:"Type"`
	MessageID    string `json:"MessageId"`
	TopicArn     string `json:"TopicArn"`
	Message      string `json:"Message"`
	SubscribeURL string `json:"SubscribeURL"`
}

// sesNotification covers both SES notification and event publishing
// payloads.
type sesNotification struct {
	NotificationType string `json:"notificationType"`
	EventType        string `json:"eventType"`
	Bounce           struct {
		BounceType        string `json:"bounceType"`
		BouncedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"bouncedRecipients"`
	} `json:"bounce"`
	Complaint struct {
		ComplainedRecipients []struct {
			EmailAddress string `json:"emailAddress"`
		} `json:"complainedRecipients"`
	} `json:"complaint"`
}

func (n sesNotification) kind() string {
	if n.NotificationType != "" {
		return n.NotificationType
	}
	return n.EventType
}

// webhookResult is returned to SNS for observability; SNS only looks at the
// status code.
type webhookResult struct {
	Type      string `json:"type"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
	Confirmed bool   `json:"confirmed,omitempty"`
	Ignored   bool   `json:"ignored,omitempty"`
}

// handleSESWebhook applies SES bounce and complaint notifications delivered
// through SNS. Permanent bounces and complaints suppress the address;
// transient bounces only mark contacts soft_bounced.
//
//	POST /webhooks/ses
func (s *Server) handleSESWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)

	var env snsEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		httputil.BadRequest(w, "invalid SNS payload")
		return
	}
	if len(s.sns.TopicARNs) > 0 && !slices.Contains(s.sns.TopicARNs, env.TopicArn) {
		s.log.Warn("rejected SNS message from unknown topic", "topic_arn", env.TopicArn)
		httputil.Error(w, http.StatusForbidden, "unknown topic")
		return
	}

	switch env.Type {
	case "SubscriptionConfirmation":
		res := webhookResult{Type: env.Type}
		if s.sns.AutoConfirm {
			if err := s.confirmSubscription(r.Context(), env.SubscribeURL); err != nil {
				s.log.Error("sns confirmation failed", "topic_arn", env.TopicArn, "error", err)
				httputil.Error(w, http.StatusBadGateway, "subscription confirmation failed")
				return
			}
			res.Confirmed = true
			s.log.Info("sns subscription confirmed", "topic_arn", env.TopicArn)
		}
		httputil.OK(w, res)
	case "Notification":
		var n sesNotification
		if err := json.Unmarshal([]byte(env.Message), &n); err != nil {
			httputil.BadRequest(w, "invalid SES notification")
			return
		}
		httputil.OK(w, s.applyNotification(r.Context(), n))
	default:
		httputil.OK(w, webhookResult{Type: env.Type, Ignored: true})
	}
}

func (s *Server) applyNotification(ctx context.Context, n sesNotification) webhookResult {
	res := webhookResult{Type: n.kind()}
	switch n.kind() {
	case "Bounce":
		bt := domain.BounceHard
		if n.Bounce.BounceType == "Transient" {
			bt = domain.BounceSoft
		}
		for _, rcpt := range n.Bounce.BouncedRecipients {
			if err := s.suppression.MarkBounced(ctx, rcpt.EmailAddress, bt); err != nil {
				res.Failed++
				s.log.Error("mark bounced", "email", rcpt.EmailAddress, "error", err)
				continue
			}
			res.Processed++
		}
	case "Complaint":
		for _, rcpt := range n.Complaint.ComplainedRecipients {
			if err := s.suppression.MarkComplained(ctx, rcpt.EmailAddress); err != nil {
				res.Failed++
				s.log.Error("mark complained", "email", rcpt.EmailAddress, "error", err)
				continue
			}
			res.Processed++
		}
	default:
		res.Ignored = true
	}
	return res
}

// confirmSubscription visits SubscribeURL. Only HTTPS AWS hosts are
// followed.
func (s *Server) confirmSubscription(ctx context.Context, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || !strings.HasSuffix(u.Hostname(), ".amazonaws.com") {
		return errInvalidSubscribeURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	resp, err := s.sns.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("subscription confirmation returned %d", resp.StatusCode)
	}
	return nil
}
