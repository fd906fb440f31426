package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/email"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

const (
	subscriptionTokenLength   = 25
	subscriptionTokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

type SubscriptionService struct {
	Repo    repository.SubscriberRepositoryInterface
	Sender  email.Sender
	BaseURL string
	Log     zerolog.Logger
	Now     func() time.Time
}

func (s *SubscriptionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// Subscribe registers a pending subscriber and mails a confirmation link.
// Addresses that are already confirmed are accepted without a new email.
func (s *SubscriptionService) Subscribe(ctx context.Context, rawName, rawEmail string) error {
	name, err := model.ParseSubscriberName(rawName)
	if err != nil {
		return err
	}
	address, err := model.ParseSubscriberEmail(rawEmail)
	if err != nil {
		return err
	}

	tx, err := s.Repo.Begin(ctx)
	if err != nil {
		return appErrors.NewTransaction("begin subscription transaction", err)
	}
	defer tx.Rollback()

	existing, err := s.Repo.GetByEmail(ctx, tx, address)
	if err != nil {
		return appErrors.NewTransaction("look up subscriber", err)
	}
	if existing != nil && existing.Status == model.SubscriberConfirmed {
		s.Log.Info().Str("subscriber_email", address).Msg("already confirmed, nothing to send")
		return nil
	}

	var subscriberID uuid.UUID
	if existing != nil {
		subscriberID = existing.ID
	} else {
		sub := &model.Subscriber{
			ID:           uuid.New(),
			Email:        address,
			Name:         name,
			Status:       model.SubscriberPendingConfirmation,
			SubscribedAt: s.now(),
		}
		if err := s.Repo.Insert(ctx, tx, sub); err != nil {
			return appErrors.NewTransaction("insert subscriber", err)
		}
		subscriberID = sub.ID
	}

	token, err := generateSubscriptionToken()
	if err != nil {
		return err
	}
	if err := s.Repo.StoreToken(ctx, tx, subscriberID, token); err != nil {
		return appErrors.NewTransaction("store subscription token", err)
	}
	if err := tx.Commit(); err != nil {
		return appErrors.NewTransaction("commit subscription transaction", err)
	}

	if err := s.sendConfirmation(ctx, address, token); err != nil {
		return fmt.Errorf("send confirmation email: %w", err)
	}
	s.Log.Info().Stringer("subscriber_id", subscriberID).Msg("📩 Confirmation email sent")
	return nil
}

func (s *SubscriptionService) sendConfirmation(ctx context.Context, address, token string) error {
	link := ConfirmationLink(s.BaseURL, token)
	return s.Sender.Send(ctx, email.Message{
		To:      address,
		Subject: "Welcome!",
		HTML:    fmt.Sprintf(`Welcome to our newsletter!<br />Click <a href="%s">here</a> to confirm your subscription.`, link),
		Text:    fmt.Sprintf("Welcome to our newsletter!\nVisit %s to confirm your subscription.", link),
	})
}

// ConfirmationLink builds the link mailed to new subscribers.
func ConfirmationLink(baseURL, token string) string {
	q := url.Values{"subscription_token": []string{token}}
	return strings.TrimRight(baseURL, "/") + "/subscriptions/confirm?" + q.Encode()
}

// Confirm marks the subscriber owning token as confirmed.
func (s *SubscriptionService) Confirm(ctx context.Context, token string) error {
	if !validSubscriptionToken(token) {
		return appErrors.NewValidation("subscription_token", "is malformed")
	}
	id, err := s.Repo.SubscriberIDByToken(ctx, token)
	if err != nil {
		if errors.Is(err, appErrors.ErrUnknownSubscriptionToken) {
			return err
		}
		return appErrors.NewTransaction("look up subscription token", err)
	}
	if err := s.Repo.Confirm(ctx, id); err != nil {
		return appErrors.NewTransaction("confirm subscriber", err)
	}
	s.Log.Info().Stringer("subscriber_id", id).Msg("✅ Subscriber confirmed")
	return nil
}

// Stats returns subscriber counts by status.
func (s *SubscriptionService) Stats(ctx context.Context) (map[string]int, error) {
	return s.Repo.CountByStatus(ctx)
}

func generateSubscriptionToken() (string, error) {
	limit := big.NewInt(int64(len(subscriptionTokenAlphabet)))
	var b strings.Builder
	b.Grow(subscriptionTokenLength)
	for i := 0; i < subscriptionTokenLength; i++ {
		n, err := rand.Int(rand.Reader, limit)
		if err != nil {
			return "", fmt.Errorf("generate subscription token: %w", err)
		}
		b.WriteByte(subscriptionTokenAlphabet[n.Int64()])
	}
	return b.String(), nil
}

func validSubscriptionToken(token string) bool {
	if len(token) != subscriptionTokenLength {
		return false
	}
	for _, r := range token {
		if !strings.ContainsRune(subscriptionTokenAlphabet, r) {
			return false
		}
	}
	return true
}
