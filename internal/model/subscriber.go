// internal/model/subscriber.go
package model

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
)

const (
	SubscriberPendingConfirmation = "pending_confirmation"
	SubscriberConfirmed           = "confirmed"

	MaxSubscriberNameLength = 256
	forbiddenNameCharacters = `/()"<>\{}`
)

type Subscriber struct {
	ID           uuid.UUID `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	Name         string    `db:"name" json:"name"`
	Status       string    `db:"status" json:"status"`
	SubscribedAt time.Time `db:"subscribed_at" json:"subscribed_at"`
}

func ParseSubscriberName(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", appErrors.NewValidation("name", "must not be empty")
	}
	if utf8.RuneCountInString(s) > MaxSubscriberNameLength {
		return "", appErrors.NewValidation("name", "must be at most 256 characters")
	}
	if strings.ContainsAny(s, forbiddenNameCharacters) {
		return "", appErrors.NewValidation("name", "contains forbidden characters")
	}
	return trimmed, nil
}

// ParseSubscriberEmail accepts a bare RFC 5322 address and returns it
// normalized. Display names ("Ann <ann@x.org>") are rejected.
func ParseSubscriberEmail(s string) (string, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return "", appErrors.NewValidation("email", "must not be empty")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Name != "" || addr.Address != trimmed {
		return "", appErrors.NewValidation("email", trimmed+" is not a valid subscriber email")
	}
	at := strings.LastIndex(addr.Address, "@")
	if at <= 0 || !strings.Contains(addr.Address[at+1:], ".") {
		return "", appErrors.NewValidation("email", trimmed+" is not a valid subscriber email")
	}
	return addr.Address, nil
}
