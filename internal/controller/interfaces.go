package controller

import (
	"context"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type NewsletterPublisher interface {
	Publish(ctx context.Context, cmd service.PublishNewsletter) (*model.SavedResponse, error)
	RecentIssues(ctx context.Context, limit int) ([]model.IssueSummary, error)
}

type Authenticator interface {
	ValidateCredentials(ctx context.Context, username, password string) (uuid.UUID, error)
	Username(ctx context.Context, userID uuid.UUID) (string, error)
	ChangePassword(ctx context.Context, userID uuid.UUID, current, next, nextCheck string) error
}

type Subscriptions interface {
	Subscribe(ctx context.Context, name, email string) error
	Confirm(ctx context.Context, token string) error
	Stats(ctx context.Context) (map[string]int, error)
}

var (
	_ NewsletterPublisher = (*service.NewsletterService)(nil)
	_ Authenticator       = (*service.AuthService)(nil)
	_ Subscriptions       = (*service.SubscriptionService)(nil)
)
