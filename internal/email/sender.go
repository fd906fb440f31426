// Package email holds the outbound email transports used by the delivery
// worker and the subscription flow.
package email

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/config"
)

// Message is a single email to a single recipient.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers one message. Errors are classified with
// appErrors.NewTransientDelivery or appErrors.NewFatalDelivery; an
// unclassified error is treated as transient by callers.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// New builds the Sender selected by cfg.Provider.
func New(cfg config.EmailConfig, log zerolog.Logger) (Sender, error) {
	switch cfg.Provider {
	case config.ProviderPostmark:
		return NewPostmarkClient(cfg.BaseURL, cfg.Sender, cfg.AuthToken, cfg.Timeout.Std())
	case config.ProviderResend:
		return NewResendSender(cfg.AuthToken, cfg.Sender), nil
	case config.ProviderNoop, "":
		return NewNoopSender(log), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Provider)
	}
}
