// internal/model/newsletter_issue.go
package model

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
)

const MaxTitleLength = 256

type NewsletterIssue struct {
	ID          uuid.UUID `db:"issue_id" json:"issue_id"`
	Title       string    `db:"title" json:"title"`
	TextContent string    `db:"text_content" json:"text_content"`
	HTMLContent string    `db:"html_content" json:"html_content"`
	PublishedAt time.Time `db:"published_at" json:"published_at"`
}

// NewsletterDraft is the admin-supplied content of an issue before it is
// published.
type NewsletterDraft struct {
	Title       string `json:"title"`
	TextContent string `json:"text_content"`
	HTMLContent string `json:"html_content"`
}

func (d NewsletterDraft) Validate() error {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return appErrors.NewValidation("title", "must not be empty")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return appErrors.NewValidation("title", "must be at most 256 characters")
	}
	if strings.TrimSpace(d.TextContent) == "" {
		return appErrors.NewValidation("text_content", "must not be empty")
	}
	return nil
}

// IssueSummary is an issue plus its remaining queue depth, for the dashboard.
type IssueSummary struct {
	NewsletterIssue
	PendingDeliveries int `json:"pending_deliveries"`
}
