package service

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/repository"
)

// IdempotencyJanitor removes completed idempotency rows once they are older
// than Retention. In-flight placeholders are never touched.
type IdempotencyJanitor struct {
	Repo      repository.IdempotencyRepositoryInterface
	Retention time.Duration
	Log       zerolog.Logger
	Now       func() time.Time
}

func (j *IdempotencyJanitor) Sweep(ctx context.Context) (int64, error) {
	now := time.Now().UTC()
	if j.Now != nil {
		now = j.Now()
	}
	removed, err := j.Repo.DeleteCompletedBefore(ctx, now.Add(-j.Retention))
	if err != nil {
		return 0, err
	}
	j.Log.Info().Int64("removed", removed).Msg("🧹 Expired idempotency records removed")
	return removed, nil
}

// Start runs Sweep on schedule (standard cron syntax or descriptors such as
// "@hourly") until ctx is cancelled.
func (j *IdempotencyJanitor) Start(ctx context.Context, schedule string) (*cron.Cron, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC))

	_, err := c.AddFunc(schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.Log.Error().Err(err).Msg("idempotency sweep failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule idempotency janitor %q: %w", schedule, err)
	}

	c.Start()
	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return c, nil
}
