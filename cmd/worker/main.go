package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/email"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/queue"
	"github.com/unclebandit/newsletter-service/internal/repository"
	"github.com/unclebandit/newsletter-service/internal/service"
)

func main() {
	configPath := flag.String("config", "configuration.yaml", "path to the YAML configuration file")
	concurrency := flag.Int("concurrency", 1, "number of delivery loops in this process")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌ invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Console)

	if err := run(cfg, *concurrency, log); err != nil {
		log.Fatal().Err(err).Msg("worker stopped with error")
	}
}

func run(cfg *config.Config, concurrency int, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := db.Migrate(ctx, conn, log); err != nil {
		return err
	}

	sender, err := email.New(cfg.Email, logger.Component(log, "email"))
	if err != nil {
		return err
	}

	queueRepo := &repository.DeliveryQueueRepository{DB: conn}
	newsletterRepo := &repository.NewsletterRepository{DB: conn}

	var wake <-chan struct{}
	if cfg.AMQP.URL != "" {
		q, err := queue.DialAMQP(cfg.AMQP.URL, logger.Component(log, "queue"))
		if err != nil {
			return err
		}
		defer q.Close()
		if wake, err = queue.Wakeups(q, cfg.AMQP.Exchange, logger.Component(log, "queue")); err != nil {
			return err
		}
	}

	janitor := &service.IdempotencyJanitor{
		Repo:      &repository.IdempotencyRepository{DB: conn},
		Retention: cfg.Idempotency.Retention.Std(),
		Log:       logger.Component(log, "idempotency_janitor"),
	}
	if _, err := janitor.Start(ctx, cfg.Idempotency.CleanupSchedule); err != nil {
		return err
	}

	if concurrency < 1 {
		concurrency = 1
	}
	loops := make([]func(context.Context) error, 0, concurrency)
	for i := 0; i < concurrency; i++ {
		worker := service.NewDeliveryWorker(cfg.Worker, cfg.Email.RatePerSec, queueRepo, newsletterRepo, sender,
			logger.Component(log, "delivery_worker").With().Int("loop", i).Logger())
		worker.Wake = wake
		loops = append(loops, worker.Run)
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd notify failed")
	}
	log.Info().Int("concurrency", concurrency).Msg("🚀 Worker running, waiting for deliveries...")

	err = runAll(ctx, loops...)
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}
