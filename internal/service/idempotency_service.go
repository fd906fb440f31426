package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/backoff"
	appErrors "github.com/unclebandit/newsletter-service/internal/errors"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
)

// Reservation is the outcome of ReserveOrFetch. Exactly one field is set:
// Cached carries a response to replay, Tx is an open transaction holding
// the placeholder that the caller must use for every write of the command.
type Reservation struct {
	Cached *model.SavedResponse
	Tx     repository.Tx
}

type IdempotencyService struct {
	Repo repository.IdempotencyRepositoryInterface
	Log  zerolog.Logger

	// PollInterval is the pause between checks while another request owns
	// the key. StaleAfter is the age at which a placeholder without a
	// response is completed by the waiting request; it is clamped below
	// MaxWait. MaxWait bounds the total wait.
	PollInterval time.Duration
	StaleAfter   time.Duration
	MaxWait      time.Duration

	Now func() time.Time
}

func (s *IdempotencyService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now().UTC()
}

// staleAfter stays below MaxWait so a request waiting on a placeholder
// whose owner died reaches the completion path before it gives up.
func (s *IdempotencyService) staleAfter() time.Duration {
	if s.StaleAfter > 0 && (s.MaxWait <= 0 || s.StaleAfter < s.MaxWait) {
		return s.StaleAfter
	}
	return s.MaxWait / 2
}

func (s *IdempotencyService) pollInterval() time.Duration {
	if s.PollInterval > 0 {
		return s.PollInterval
	}
	return 50 * time.Millisecond
}

// ReserveOrFetch returns the saved response for (ownerID, key) or reserves
// the key inside a new transaction. committed is the response the command
// always produces once its transaction has committed; it is used to finish
// a placeholder whose owner committed but never saved its response.
func (s *IdempotencyService) ReserveOrFetch(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey, committed *model.SavedResponse) (*Reservation, error) {
	log := s.Log.With().Stringer("owner_id", ownerID).Str("idempotency_key", string(key)).Logger()
	deadline := s.now().Add(s.MaxWait)

	for {
		rec, err := s.Repo.Get(ctx, ownerID, key)
		if err != nil {
			return nil, appErrors.NewTransaction("fetch idempotency record", err)
		}
		if rec.Completed() {
			return &Reservation{Cached: rec.Response}, nil
		}

		if rec == nil {
			res, err := s.reserve(ctx, ownerID, key)
			if err != nil || res != nil {
				return res, err
			}
			// Lost the insert race. The winner has committed by now, since
			// the insert waits for it, so poll for its response.
			log.Debug().Err(appErrors.NewConflict(ownerID.String(), string(key))).Msg("idempotency key taken by concurrent request")
			continue
		}

		if s.now().Sub(rec.CreatedAt) >= s.staleAfter() {
			// Placeholder rows only become visible together with the
			// command's writes, so the command did run. Finish it.
			log.Warn().Time("created_at", rec.CreatedAt).Msg("completing stale idempotency placeholder")
			if err := s.Repo.SaveResponse(ctx, ownerID, key, committed); err != nil {
				return nil, appErrors.NewTransaction("complete stale idempotency record", err)
			}
			continue
		}

		// Only reachable when created_at is ahead of this clock.
		if !s.now().Before(deadline) {
			return nil, fmt.Errorf("owner %s key %q: %w", ownerID, key, appErrors.ErrIdempotencyWaitTimeout)
		}
		if err := backoff.SleepWithContext(ctx, s.pollInterval()); err != nil {
			return nil, err
		}
	}
}

// reserve returns nil, nil when the placeholder already exists.
func (s *IdempotencyService) reserve(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey) (*Reservation, error) {
	tx, err := s.Repo.Begin(ctx)
	if err != nil {
		return nil, appErrors.NewTransaction("begin publish transaction", err)
	}

	inserted, err := s.Repo.InsertPlaceholder(ctx, tx, ownerID, key, s.now())
	if err != nil {
		_ = tx.Rollback()
		return nil, appErrors.NewTransaction("insert idempotency placeholder", err)
	}
	if !inserted {
		_ = tx.Rollback()
		return nil, nil
	}
	return &Reservation{Tx: tx}, nil
}

// SaveResponse attaches resp to the committed placeholder.
func (s *IdempotencyService) SaveResponse(ctx context.Context, ownerID uuid.UUID, key model.IdempotencyKey, resp *model.SavedResponse) error {
	return s.Repo.SaveResponse(ctx, ownerID, key, resp)
}
