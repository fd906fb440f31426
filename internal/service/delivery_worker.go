package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/unclebandit/newsletter-service/internal/backoff"
	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/email"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// Outcome is the result of one TryExecuteTask pass.
type Outcome int

const (
	EmptyQueue Outcome = iota
	TaskDelivered
	TaskRetryScheduled
	TaskDeadLettered
	TaskDropped
)

func (o Outcome) String() string {
	switch o {
	case EmptyQueue:
		return "empty_queue"
	case TaskDelivered:
		return "delivered"
	case TaskRetryScheduled:
		return "retry_scheduled"
	case TaskDeadLettered:
		return "dead_lettered"
	case TaskDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// DeliveryWorker drains issue_delivery_queue one task per transaction.
// Any number of workers may run against the same database.
type DeliveryWorker struct {
	QueueRepo      repository.DeliveryQueueRepositoryInterface
	NewsletterRepo repository.NewsletterRepositoryInterface
	Sender         email.Sender
	Limiter        *rate.Limiter
	Backoff        backoff.Policy
	MaxRetries     int

	PollInterval time.Duration
	ErrorBackoff time.Duration
	Wake         <-chan struct{}

	Log zerolog.Logger
	Now func() time.Time
}

func (w *DeliveryWorker) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now().UTC()
}

// TryExecuteTask claims the oldest eligible task, attempts delivery and
// deletes or reschedules it, all inside one transaction.
func (w *DeliveryWorker) TryExecuteTask(ctx context.Context) (Outcome, error) {
	tx, err := w.QueueRepo.Begin(ctx)
	if err != nil {
		return EmptyQueue, appErrors.NewTransaction("begin delivery transaction", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := w.now()
	task, err := w.QueueRepo.DequeueNext(ctx, tx, now)
	if err != nil {
		return EmptyQueue, appErrors.NewTransaction("dequeue delivery task", err)
	}
	if task == nil {
		return EmptyQueue, nil
	}

	log := w.Log.With().
		Stringer("issue_id", task.IssueID).
		Str("subscriber_email", task.SubscriberEmail).
		Int("n_retries", task.NRetries).
		Logger()

	outcome, err := w.deliver(ctx, tx, task, now, log)
	if err != nil {
		return outcome, err
	}

	if err := tx.Commit(); err != nil {
		return outcome, appErrors.NewTransaction("commit delivery transaction", err)
	}
	committed = true

	log.Debug().Stringer("outcome", outcome).Msg("delivery task processed")
	return outcome, nil
}

func (w *DeliveryWorker) deliver(ctx context.Context, tx repository.Tx, task *model.DeliveryTask, now time.Time, log zerolog.Logger) (Outcome, error) {
	issue, err := w.NewsletterRepo.GetByID(ctx, tx, task.IssueID)
	if errors.Is(err, appErrors.ErrIssueNotFound) {
		log.Error().Str("event", "delivery_dropped").Err(err).Msg("dropping task for missing issue")
		return w.remove(ctx, tx, task, TaskDropped)
	}
	if err != nil {
		return EmptyQueue, appErrors.NewTransaction("load newsletter issue", err)
	}

	recipient, err := model.ParseSubscriberEmail(task.SubscriberEmail)
	if err != nil {
		log.Error().Str("event", "delivery_dropped").Err(err).Msg("dropping task with invalid recipient")
		return w.remove(ctx, tx, task, TaskDropped)
	}

	if w.Limiter != nil {
		if err := w.Limiter.Wait(ctx); err != nil {
			return EmptyQueue, err
		}
	}

	text, body := personalize(issue.TextContent, issue.HTMLContent, recipient)
	sendErr := w.Sender.Send(ctx, email.Message{
		To:      recipient,
		Subject: issue.Title,
		HTML:    body,
		Text:    text,
	})
	switch {
	case sendErr == nil:
		return w.remove(ctx, tx, task, TaskDelivered)

	case appErrors.IsFatal(sendErr):
		log.Error().Str("event", "delivery_dropped").Err(sendErr).Msg("❌ non-retryable delivery failure")
		return w.remove(ctx, tx, task, TaskDropped)

	default:
		nRetries := task.NRetries + 1
		if nRetries > w.MaxRetries {
			log.Error().Str("event", "delivery_dead_lettered").Err(sendErr).Int("attempts", nRetries).
				Msg("❌ retry budget exhausted, dead-lettering delivery")
			return w.remove(ctx, tx, task, TaskDeadLettered)
		}

		next := now.Add(w.Backoff.Delay(nRetries))
		if err := w.QueueRepo.Reschedule(ctx, tx, task.Key(), nRetries, next); err != nil {
			return EmptyQueue, appErrors.NewTransaction("reschedule delivery task", err)
		}
		log.Warn().Err(sendErr).Time("execute_after", next).Msg("⚠️ delivery failed, retry scheduled")
		return TaskRetryScheduled, nil
	}
}

func (w *DeliveryWorker) remove(ctx context.Context, tx repository.Tx, task *model.DeliveryTask, outcome Outcome) (Outcome, error) {
	if err := w.QueueRepo.Delete(ctx, tx, task.Key()); err != nil {
		return EmptyQueue, appErrors.NewTransaction("delete delivery task", err)
	}
	return outcome, nil
}

// Run polls until ctx is cancelled. A task that is already being processed
// when ctx is cancelled runs to commit or rollback first.
func (w *DeliveryWorker) Run(ctx context.Context) error {
	w.Log.Info().Dur("poll_interval", w.PollInterval).Int("max_retries", w.MaxRetries).Msg("🚀 Delivery worker started")
	defer w.Log.Info().Msg("🛑 Delivery worker stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		outcome, err := w.TryExecuteTask(context.WithoutCancel(ctx))
		switch {
		case err != nil:
			w.Log.Error().Err(err).Msg("delivery iteration failed")
			if backoff.SleepWithContext(ctx, w.ErrorBackoff) != nil {
				return nil
			}
		case outcome == EmptyQueue:
			if !w.idle(ctx) {
				return nil
			}
		}
	}
}

// idle waits for the poll interval, a wake-up hint or cancellation. It
// reports false on cancellation.
func (w *DeliveryWorker) idle(ctx context.Context) bool {
	interval := w.PollInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timer := time.NewTimer(interval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
	case <-w.Wake:
	}
	return true
}

// NewDeliveryWorker builds a worker from configuration. ratePerSec caps
// outbound sends per process; zero disables the limit.
func NewDeliveryWorker(cfg config.WorkerConfig, ratePerSec int, queueRepo repository.DeliveryQueueRepositoryInterface, newsletterRepo repository.NewsletterRepositoryInterface, sender email.Sender, log zerolog.Logger) *DeliveryWorker {
	var limiter *rate.Limiter
	if ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	}
	return &DeliveryWorker{
		QueueRepo:      queueRepo,
		NewsletterRepo: newsletterRepo,
		Sender:         sender,
		Limiter:        limiter,
		Backoff:        backoff.Policy{Base: cfg.BaseBackoff.Std(), Max: cfg.MaxBackoff.Std(), Jitter: true},
		MaxRetries:     cfg.MaxRetries,
		PollInterval:   cfg.PollInterval.Std(),
		ErrorBackoff:   cfg.ErrorBackoff.Std(),
		Log:            log,
	}
}
