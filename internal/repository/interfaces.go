package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/unclebandit/newsletter-service/internal/model"
)

type IdempotencyRepositoryInterface interface {
	Begin(ctx context.Context) (Tx, error)
	Get(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey) (*model.IdempotencyRecord, error)
	InsertPlaceholder(ctx context.Context, q DBTX, ownerID uuid.UUID, key model.IdempotencyKey, now time.Time) (bool, error)
	SaveResponse(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey, resp *model.SavedResponse) error
	DeleteCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type NewsletterRepositoryInterface interface {
	Insert(ctx context.Context, q DBTX, issue *model.NewsletterIssue) error
	GetByID(ctx context.Context, q DBTX, id uuid.UUID) (*model.NewsletterIssue, error)
	List(ctx context.Context, offset, limit int) ([]model.IssueSummary, int, error)
}

type DeliveryQueueRepositoryInterface interface {
	Begin(ctx context.Context) (Tx, error)
	EnqueueForConfirmed(ctx context.Context, q DBTX, issueID uuid.UUID, executeAfter time.Time) (int64, error)
	DequeueNext(ctx context.Context, q DBTX, now time.Time) (*model.DeliveryTask, error)
	Delete(ctx context.Context, q DBTX, key model.DeliveryTaskKey) error
	Reschedule(ctx context.Context, q DBTX, key model.DeliveryTaskKey, nRetries int, executeAfter time.Time) error
	CountPending(ctx context.Context, issueID uuid.UUID) (int, error)
}

type SubscriberRepositoryInterface interface {
	Begin(ctx context.Context) (Tx, error)
	GetByEmail(ctx context.Context, q DBTX, email string) (*model.Subscriber, error)
	Insert(ctx context.Context, q DBTX, s *model.Subscriber) error
	StoreToken(ctx context.Context, q DBTX, subscriberID uuid.UUID, token string) error
	SubscriberIDByToken(ctx context.Context, token string) (uuid.UUID, error)
	Confirm(ctx context.Context, id uuid.UUID) error
	CountByStatus(ctx context.Context) (map[string]int, error)
}

type UserRepositoryInterface interface {
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*model.User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	Upsert(ctx context.Context, u *model.User) error
}

var (
	_ IdempotencyRepositoryInterface   = (*IdempotencyRepository)(nil)
	_ NewsletterRepositoryInterface    = (*NewsletterRepository)(nil)
	_ DeliveryQueueRepositoryInterface = (*DeliveryQueueRepository)(nil)
	_ SubscriberRepositoryInterface    = (*SubscriberRepository)(nil)
	_ UserRepositoryInterface          = (*UserRepository)(nil)
)
