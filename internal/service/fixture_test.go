package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/unclebandit/newsletter-service/internal/backoff"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/service"
)

type fixture struct {
	db        *memDB
	clock     *clock
	sender    *scriptedSender
	idem      *service.IdempotencyService
	publisher *service.NewsletterService
	worker    *service.DeliveryWorker
	owner     uuid.UUID
}

func newFixture() *fixture {
	db := newMemDB()
	clk := newClock()
	sender := newScriptedSender()

	idem := &service.IdempotencyService{
		Repo:         &fakeIdempotencyRepo{db: db},
		Log:          zerolog.Nop(),
		PollInterval: time.Millisecond,
		StaleAfter:   time.Minute,
		MaxWait:      5 * time.Second,
		Now:          clk.Now,
	}
	publisher := &service.NewsletterService{
		Idempotency:    idem,
		NewsletterRepo: &fakeNewsletterRepo{db: db},
		QueueRepo:      &fakeQueueRepo{db: db},
		Log:            zerolog.Nop(),
		Now:            clk.Now,
	}
	worker := &service.DeliveryWorker{
		QueueRepo:      &fakeQueueRepo{db: db},
		NewsletterRepo: &fakeNewsletterRepo{db: db},
		Sender:         sender,
		Backoff:        backoff.Policy{Base: 30 * time.Second, Max: time.Hour},
		MaxRetries:     3,
		PollInterval:   5 * time.Millisecond,
		ErrorBackoff:   time.Millisecond,
		Log:            zerolog.Nop(),
		Now:            clk.Now,
	}
	return &fixture{
		db: db, clock: clk, sender: sender,
		idem: idem, publisher: publisher, worker: worker,
		owner: uuid.New(),
	}
}

func (f *fixture) publishCmd(key string) service.PublishNewsletter {
	return service.PublishNewsletter{
		OwnerID:        f.owner,
		IdempotencyKey: model.IdempotencyKey(key),
		Draft: model.NewsletterDraft{
			Title:       "Issue #1",
			TextContent: "Hello *subscribers*",
			HTMLContent: "<p>Hello <em>subscribers</em></p>",
		},
	}
}

func (f *fixture) publish(t *testing.T, key string) *model.SavedResponse {
	t.Helper()
	resp, err := f.publisher.Publish(context.Background(), f.publishCmd(key))
	require.NoError(t, err)
	return resp
}

// drain runs the worker until nothing is eligible at the current time.
func (f *fixture) drain(t *testing.T) []service.Outcome {
	t.Helper()
	var outcomes []service.Outcome
	for i := 0; i < 1000; i++ {
		outcome, err := f.worker.TryExecuteTask(context.Background())
		require.NoError(t, err)
		if outcome == service.EmptyQueue {
			return outcomes
		}
		outcomes = append(outcomes, outcome)
	}
	t.Fatal("queue never drained")
	return nil
}
