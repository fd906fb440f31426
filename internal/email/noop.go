package email

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// NoopSender logs messages instead of delivering them. Sent messages are
// kept so that local runs can be inspected.
type NoopSender struct {
	log  zerolog.Logger
	mu   sync.Mutex
	sent []Message
}

func NewNoopSender(log zerolog.Logger) *NoopSender {
	return &NoopSender{log: log}
}

func (s *NoopSender) Send(_ context.Context, msg Message) error {
	s.mu.Lock()
	s.sent = append(s.sent, msg)
	s.mu.Unlock()

	s.log.Info().Str("to", msg.To).Str("subject", msg.Subject).Msg("📭 noop email send")
	return nil
}

func (s *NoopSender) Sent() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.sent...)
}
