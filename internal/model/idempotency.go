package model

import (
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
)

const MaxIdempotencyKeyLength = 50

type IdempotencyKey string

func ParseIdempotencyKey(s string) (IdempotencyKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", appErrors.NewValidation("idempotency_key", "must not be empty")
	}
	if utf8.RuneCountInString(s) >= MaxIdempotencyKeyLength {
		return "", appErrors.NewValidation("idempotency_key", "must be shorter than 50 characters")
	}
	return IdempotencyKey(s), nil
}

func (k IdempotencyKey) String() string { return string(k) }

// SavedResponse is the HTTP response recorded for a completed command and
// replayed verbatim for every later request with the same key.
type SavedResponse struct {
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers"`
	Body       []byte      `json:"body"`
}

// Write replays the response onto w.
func (r *SavedResponse) Write(w http.ResponseWriter) {
	for name, values := range r.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(r.StatusCode)
	if len(r.Body) > 0 {
		_, _ = w.Write(r.Body)
	}
}

// SeeOther is the redirect-style acknowledgement used by form commands.
func SeeOther(location string) *SavedResponse {
	return &SavedResponse{
		StatusCode: http.StatusSeeOther,
		Headers:    http.Header{"Location": []string{location}},
	}
}

// IdempotencyRecord is a row of the idempotency table. A nil Response means
// the command committed its side effects but has not saved a response yet.
type IdempotencyRecord struct {
	OwnerID   uuid.UUID      `db:"owner_id" json:"owner_id"`
	Key       IdempotencyKey `db:"idempotency_key" json:"idempotency_key"`
	Response  *SavedResponse `json:"response,omitempty"`
	CreatedAt time.Time      `db:"created_at" json:"created_at"`
}

func (r *IdempotencyRecord) Completed() bool {
	return r != nil && r.Response != nil
}
