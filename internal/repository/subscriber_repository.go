package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/lib/pq"

	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
)

// ErrSubscriberExists is returned by Insert when the email is already taken.
var ErrSubscriberExists = errors.New("subscriber already exists")

const uniqueViolation = pq.ErrorCode("23505")

type SubscriberRepository struct {
	DB *sql.DB
}

func (r *SubscriberRepository) Begin(ctx context.Context) (Tx, error) {
	return begin(ctx, r.DB)
}

// GetByEmail returns nil when no subscriber has that address.
func (r *SubscriberRepository) GetByEmail(ctx context.Context, q DBTX, email string) (*model.Subscriber, error) {
	query := `
        SELECT id, email, name, status, subscribed_at
        FROM subscriptions
        WHERE email = $1
    `
	var s model.Subscriber
	err := q.QueryRowContext(ctx, query, email).Scan(&s.ID, &s.Email, &s.Name, &s.Status, &s.SubscribedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (r *SubscriberRepository) Insert(ctx context.Context, q DBTX, s *model.Subscriber) error {
	query := `
        INSERT INTO subscriptions (id, email, name, subscribed_at, status)
        VALUES ($1, $2, $3, $4, $5)
    `
	_, err := q.ExecContext(ctx, query, s.ID, s.Email, s.Name, s.SubscribedAt, s.Status)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrSubscriberExists
	}
	return err
}

func (r *SubscriberRepository) StoreToken(ctx context.Context, q DBTX, subscriberID uuid.UUID, token string) error {
	query := `INSERT INTO subscription_tokens (subscription_token, subscriber_id) VALUES ($1, $2)`
	_, err := q.ExecContext(ctx, query, token, subscriberID)
	return err
}

func (r *SubscriberRepository) SubscriberIDByToken(ctx context.Context, token string) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.DB.QueryRowContext(ctx,
		`SELECT subscriber_id FROM subscription_tokens WHERE subscription_token = $1`, token,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return uuid.Nil, appErrors.ErrUnknownSubscriptionToken
		}
		return uuid.Nil, err
	}
	return id, nil
}

func (r *SubscriberRepository) Confirm(ctx context.Context, id uuid.UUID) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE subscriptions SET status = 'confirmed' WHERE id = $1`, id)
	return err
}

// CountByStatus returns subscriber totals keyed by status.
func (r *SubscriberRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM subscriptions GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{model.SubscriberPendingConfirmation: 0, model.SubscriberConfirmed: 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}
