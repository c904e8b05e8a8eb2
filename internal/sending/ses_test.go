package sending

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/drip-engine/internal/domain"
)

type fakeSES struct {
	in  *sesv2.SendEmailInput
	err error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.in = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("msg-1")}, nil
}

func testMessage() *domain.EmailMessage {
	return &domain.EmailMessage{
		EnrollmentID: "e1", CampaignID: "c1", StepNumber: 2,
		Email: "a@example.com", FromName: "Academy", FromEmail: "noreply@example.com",
		ReplyTo: "help@example.com", Subject: "Hi", HTMLContent: "<p>Hi</p>", TextContent: "Hi",
		Headers: map[string]string{
			"List-Unsubscribe":      "<https://app.example.com/unsubscribe/t>",
			"List-Unsubscribe-Post": "List-Unsubscribe=One-Click",
		},
	}
}

func TestSESSender_BuildsRequest(t *testing.T) {
	fake := &fakeSES{}
	s := NewSESSenderWithClient(fake, SESConfig{ConfigurationSet: "drip"})

	res, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, domain.ProviderSES, res.Provider)

	in := fake.in
	assert.Equal(t, "Academy <noreply@example.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"a@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"help@example.com"}, in.ReplyToAddresses)
	assert.Equal(t, "drip", aws.ToString(in.ConfigurationSetName))
	assert.Equal(t, "Hi", aws.ToString(in.Content.Simple.Body.Text.Data))
	require.Len(t, in.Content.Simple.Headers, 2)
	assert.Equal(t, "List-Unsubscribe", aws.ToString(in.Content.Simple.Headers[0].Name))
	assert.Equal(t, "List-Unsubscribe-Post", aws.ToString(in.Content.Simple.Headers[1].Name))
	assert.Len(t, in.EmailTags, 3)
}

func TestSESSender_FromWithoutName(t *testing.T) {
	fake := &fakeSES{}
	s := NewSESSenderWithClient(fake, SESConfig{})

	msg := testMessage()
	msg.FromName = ""
	_, err := s.Send(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", aws.ToString(fake.in.FromEmailAddress))
}

func TestSESSender_ProviderErrorIsAResult(t *testing.T) {
	s := NewSESSenderWithClient(&fakeSES{err: errors.New("throttled")}, SESConfig{})
	res, err := s.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "throttled", res.Error)
}

func TestSESSender_NotConfigured(t *testing.T) {
	s := NewSESSenderWithClient(nil, SESConfig{})
	_, err := s.Send(context.Background(), testMessage())
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestLogSender(t *testing.T) {
	l := NewLogSender()
	res, err := l.Send(context.Background(), testMessage())
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, domain.ProviderLog, res.Provider)
	require.Len(t, l.Sent(), 1)
	assert.Equal(t, "Hi", l.Sent()[0].Subject)
}
