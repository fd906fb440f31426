package email

import (
	"context"

	"github.com/resend/resend-go/v2"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
)

// ResendSender sends messages through the Resend API. The SDK does not
// expose status codes, so every failure is reported as transient and left
// to the retry budget.
type ResendSender struct {
	client *resend.Client
	from   string
}

func NewResendSender(apiKey, from string) *ResendSender {
	return &ResendSender{
		client: resend.NewClient(apiKey),
		from:   from,
	}
}

func (s *ResendSender) Send(ctx context.Context, msg Message) error {
	params := &resend.SendEmailRequest{
		From:    s.from,
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		Text:    msg.Text,
	}
	if _, err := s.client.Emails.SendWithContext(ctx, params); err != nil {
		return appErrors.NewTransientDelivery(0, err)
	}
	return nil
}
