// cmd/server/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gorilla/securecookie"
	"github.com/rs/zerolog"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/controller"
	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/email"
	"github.com/unclebandit/newsletter-service/internal/handler"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/middleware"
	"github.com/unclebandit/newsletter-service/internal/queue"
	"github.com/unclebandit/newsletter-service/internal/repository"
	"github.com/unclebandit/newsletter-service/internal/service"
)

func main() {
	configPath := flag.String("config", "configuration.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌ invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Console)

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	defer conn.Close()

	applied, err := db.Migrate(ctx, conn, log)
	if err != nil {
		return err
	}
	if len(applied) > 0 {
		log.Info().Strs("migrations", applied).Msg("✅ Migrations applied")
	}

	sender, err := email.New(cfg.Email, logger.Component(log, "email"))
	if err != nil {
		return err
	}

	var q queue.Queue
	if cfg.AMQP.URL != "" {
		q, err = queue.DialAMQP(cfg.AMQP.URL, logger.Component(log, "queue"))
		if err != nil {
			return err
		}
	} else {
		q = queue.NewInMemoryQueue(logger.Component(log, "queue"))
	}
	defer q.Close()

	idempotencyRepo := &repository.IdempotencyRepository{DB: conn}
	newsletterRepo := &repository.NewsletterRepository{DB: conn}
	queueRepo := &repository.DeliveryQueueRepository{DB: conn}
	subscriberRepo := &repository.SubscriberRepository{DB: conn}
	userRepo := &repository.UserRepository{DB: conn}

	publisher := &service.NewsletterService{
		Idempotency: &service.IdempotencyService{
			Repo:         idempotencyRepo,
			Log:          logger.Component(log, "idempotency"),
			PollInterval: cfg.Idempotency.PollInterval.Std(),
			StaleAfter:   cfg.Idempotency.StaleAfter.Std(),
			MaxWait:      cfg.Idempotency.MaxWait.Std(),
		},
		NewsletterRepo: newsletterRepo,
		QueueRepo:      queueRepo,
		Log:            logger.Component(log, "newsletter_issuer"),
	}
	if cfg.AMQP.URL != "" || cfg.Worker.Enabled {
		publisher.Notifier = &queue.IssueEvents{Queue: q, Topic: cfg.AMQP.Exchange}
	}
	auth := &service.AuthService{Users: userRepo, Log: logger.Component(log, "auth")}
	subscriptions := &service.SubscriptionService{
		Repo:    subscriberRepo,
		Sender:  sender,
		BaseURL: cfg.Application.BaseURL,
		Log:     logger.Component(log, "subscriptions"),
	}

	var background []func(context.Context)
	if cfg.Worker.Enabled {
		worker := service.NewDeliveryWorker(cfg.Worker, cfg.Email.RatePerSec, queueRepo, newsletterRepo, sender,
			logger.Component(log, "delivery_worker"))
		if worker.Wake, err = queue.Wakeups(q, cfg.AMQP.Exchange, logger.Component(log, "queue")); err != nil {
			return err
		}
		background = append(background, func(ctx context.Context) { _ = worker.Run(ctx) })
	}

	sessionKey := secretOrRandom(cfg.Application.SessionKey, "session", log)
	csrfKey := secretOrRandom(cfg.Application.CSRFKey, "csrf", log)
	sessions := middleware.NewSessionManager(sessionKey, cfg.Application.SecureCookies)
	flash := middleware.NewFlash(sessionKey, cfg.Application.SecureCookies)
	httpLog := logger.Component(log, "http")

	router := handler.NewRouter(handler.Routes{
		Health:      &handler.HealthHandler{DB: conn, Log: httpLog},
		Issues:      &handler.IssueHandler{Service: publisher, Log: httpLog},
		Newsletters: &controller.NewsletterController{Publisher: publisher, Flash: flash, Log: httpLog},
		Auth:        &controller.AuthController{Auth: auth, Sessions: sessions, Flash: flash, Log: httpLog},
		Admin: &controller.AdminController{
			Auth: auth, Publisher: publisher, Subscriptions: subscriptions, Flash: flash, Log: httpLog,
		},
		Subscriptions: &controller.SubscriptionController{Subscriptions: subscriptions, Log: httpLog},
		Sessions:      sessions,
		CSRF:          middleware.CSRF(csrfKey, cfg.Application.SecureCookies, cfg.Application.TrustedOrigins),
		LoginLimits:   middleware.NewRateLimiter(cfg.Application.LoginRatePerMin),
		Log:           httpLog,
	})

	srv := &http.Server{
		Addr:              cfg.Application.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn().Err(err).Msg("systemd notify failed")
	}
	log.Info().Str("addr", srv.Addr).Msg("🚀 Server running")

	return serveUntilDone(ctx, srv.ListenAndServe, func(shutdownCtx context.Context) error {
		log.Info().Msg("🛑 Shutting down")
		_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
		return srv.Shutdown(shutdownCtx)
	}, background...)
}

// secretOrRandom falls back to a per-process key, which logs everyone out
// on restart.
func secretOrRandom(configured, name string, log zerolog.Logger) []byte {
	if configured != "" {
		return []byte(configured)
	}
	log.Warn().Str("key", name).Msg("⚠️ no key configured, generating an ephemeral one")
	return securecookie.GenerateRandomKey(32)
}
