package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSendGridSenderRequiresKey(t *testing.T) {
	assert.Nil(t, NewSendGridSender(SendGridConfig{}, nil))
	assert.NotNil(t, NewSendGridSender(SendGridConfig{APIKey: "sg-key", FromEmail: "safety@example.com"}, nil))
}

type fakeSES struct {
	inputs []*sesv2.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.inputs = append(f.inputs, params)
	return &sesv2.SendEmailOutput{}, nil
}

func TestSESSenderSend(t *testing.T) {
	ses := &fakeSES{}
	sender := NewSESSender(ses, SESConfig{FromEmail: "safety@example.com", FromName: "Safety Team"}, nil)

	err := sender.Send(context.Background(), EmailMessage{
		To:      "dana@example.com",
		Subject: "Crisis alert",
		Body:    "Please check in with them now.",
	})
	require.NoError(t, err)
	require.Len(t, ses.inputs, 1)

	input := ses.inputs[0]
	assert.Equal(t, "Safety Team <safety@example.com>", aws.ToString(input.FromEmailAddress))
	assert.Equal(t, []string{"dana@example.com"}, input.Destination.ToAddresses)
	assert.Equal(t, "Crisis alert", aws.ToString(input.Content.Simple.Subject.Data))
	assert.NotNil(t, input.Content.Simple.Body.Text)
	assert.Nil(t, input.Content.Simple.Body.Html)
}

func TestSESSenderNilWithoutClient(t *testing.T) {
	assert.Nil(t, NewSESSender(nil, SESConfig{}, nil))
}

func TestFailoverSenderFallsBack(t *testing.T) {
	primary := &fakeEmail{err: errors.New("ses throttled")}
	fallback := &fakeEmail{}
	sender := NewFailoverSender(primary, fallback, nil)

	require.NoError(t, sender.Send(context.Background(), EmailMessage{To: "dana@example.com"}))
	assert.Len(t, fallback.sent, 1)
}

func TestFailoverSenderPrimaryOnly(t *testing.T) {
	primary := &fakeEmail{err: errors.New("ses down")}
	sender := NewFailoverSender(primary, nil, nil)
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "dana@example.com"}))
}

func TestFailoverSenderNothingConfigured(t *testing.T) {
	sender := NewFailoverSender(nil, nil, nil)
	assert.Error(t, sender.Send(context.Background(), EmailMessage{To: "dana@example.com"}))
}
