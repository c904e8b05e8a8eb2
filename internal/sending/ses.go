package sending

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/ignite/drip-engine/internal/domain"
	"github.com/ignite/drip-engine/internal/pkg/logger"
)

// ErrNotConfigured is returned when SES has no usable client.
var ErrNotConfigured = errors.New("ses client not initialized")

// SESAPI is the part of the sesv2 client the sender calls.
type SESAPI interface {
	SendEmail(ctx context.Context, in *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SESConfig holds the SES connection settings.
type SESConfig struct {
	AccessKey        string
	SecretKey        string
	Region           string
	ConfigurationSet string
}

// SESSender sends through AWS SES v2.
type SESSender struct {
	client SESAPI
	cfg    SESConfig
	log    *logger.Logger
}

// NewSESSender loads AWS config. Static credentials are used when both keys
// are set, otherwise the default credential chain applies.
func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESSenderWithClient(sesv2.NewFromConfig(awsCfg), cfg), nil
}

// NewSESSenderWithClient wraps an existing client.
func NewSESSenderWithClient(client SESAPI, cfg SESConfig) *SESSender {
	return &SESSender{client: client, cfg: cfg, log: logger.With("component", "sending.SES")}
}

func (s *SESSender) Send(ctx context.Context, msg *domain.EmailMessage) (*domain.SendResult, error) {
	if s.client == nil {
		return nil, ErrNotConfigured
	}

	body := &types.Body{
		Html: &types.Content{Data: aws.String(msg.HTMLContent), Charset: aws.String("UTF-8")},
	}
	if msg.TextContent != "" {
		body.Text = &types.Content{Data: aws.String(msg.TextContent), Charset: aws.String("UTF-8")}
	}

	names := make([]string, 0, len(msg.Headers))
	for k := range msg.Headers {
		names = append(names, k)
	}
	sort.Strings(names)
	headers := make([]types.MessageHeader, 0, len(names))
	for _, k := range names {
		headers = append(headers, types.MessageHeader{Name: aws.String(k), Value: aws.String(msg.Headers[k])})
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(fromAddress(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.Email}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
				Headers: headers,
			},
		},
		EmailTags: []types.MessageTag{
			{Name: aws.String("campaign_id"), Value: aws.String(msg.CampaignID)},
			{Name: aws.String("enrollment_id"), Value: aws.String(msg.EnrollmentID)},
			{Name: aws.String("step_number"), Value: aws.String(strconv.Itoa(msg.StepNumber))},
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if s.cfg.ConfigurationSet != "" {
		input.ConfigurationSetName = aws.String(s.cfg.ConfigurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		s.log.Warn("ses send failed", "email", msg.Email, "error", err)
		return &domain.SendResult{Success: false, Provider: domain.ProviderSES, Error: err.Error()}, nil
	}

	res := &domain.SendResult{Success: true, Provider: domain.ProviderSES, SentAt: time.Now()}
	if out.MessageId != nil {
		res.MessageID = *out.MessageId
	}
	s.log.Debug("ses sent", "email", msg.Email, "message_id", res.MessageID)
	return res, nil
}

// fromAddress formats the sender mailbox, falling back to the bare address
// when there is no display name.
func fromAddress(name, email string) string {
	if name == "" {
		return email
	}
	return fmt.Sprintf("%s <%s>", name, email)
}
