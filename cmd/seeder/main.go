// cmd/seeder/main.go
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/securecookie"

	"github.com/unclebandit/newsletter-service/internal/config"
	"github.com/unclebandit/newsletter-service/internal/db"
	"github.com/unclebandit/newsletter-service/internal/logger"
	"github.com/unclebandit/newsletter-service/internal/model"
	"github.com/unclebandit/newsletter-service/internal/repository"
	"github.com/unclebandit/newsletter-service/internal/service"
)

func main() {
	configPath := flag.String("config", "configuration.yaml", "path to the YAML configuration file")
	subscribersFile := flag.String("subscribers", "", "optional file of `name,email` lines seeded as confirmed subscribers")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "❌ invalid configuration:", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Console)
	ctx := context.Background()

	conn, err := db.Open(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open database")
	}
	defer conn.Close()

	applied, err := db.Migrate(ctx, conn, log)
	if err != nil {
		log.Fatal().Err(err).Msg("migrate")
	}
	for _, name := range applied {
		log.Info().Str("migration", name).Msg("✅ Applied")
	}

	password := cfg.Admin.Password
	if password == "" {
		password = fmt.Sprintf("%x", securecookie.GenerateRandomKey(12))
		fmt.Printf("🔑 Generated admin password: %s\n", password)
	}
	hash, err := service.HashPassword(password, service.DefaultBcryptCost)
	if err != nil {
		log.Fatal().Err(err).Msg("hash admin password")
	}
	admin := &model.User{ID: uuid.New(), Username: cfg.Admin.Username, PasswordHash: hash}
	if err := (&repository.UserRepository{DB: conn}).Upsert(ctx, admin); err != nil {
		log.Fatal().Err(err).Msg("seed admin user")
	}
	log.Info().Str("username", admin.Username).Str("user_id", admin.ID.String()).Msg("✅ Admin user seeded")

	if *subscribersFile == "" {
		fmt.Println("Database seeding completed successfully!")
		return
	}
	f, err := os.Open(*subscribersFile)
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to read %s", *subscribersFile)
	}
	defer f.Close()

	subscribers, err := readSubscribers(f, time.Now().UTC())
	if err != nil {
		log.Fatal().Err(err).Msgf("failed to parse %s", *subscribersFile)
	}
	repo := &repository.SubscriberRepository{DB: conn}
	seeded := 0
	for _, s := range subscribers {
		err := repo.Insert(ctx, conn, s)
		if errors.Is(err, repository.ErrSubscriberExists) {
			continue
		}
		if err != nil {
			log.Fatal().Err(err).Str("email", s.Email).Msg("seed subscriber")
		}
		seeded++
	}
	fmt.Printf("Seeded: %d confirmed subscribers from %s\n", seeded, *subscribersFile)
	fmt.Println("Database seeding completed successfully!")
}

// readSubscribers parses `name,email` lines. Blank lines and lines
// starting with # are skipped.
func readSubscribers(r io.Reader, now time.Time) ([]*model.Subscriber, error) {
	var out []*model.Subscriber
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		rawName, rawEmail, ok := strings.Cut(text, ",")
		if !ok {
			return nil, fmt.Errorf("line %d: expected name,email", line)
		}
		name, err := model.ParseSubscriberName(rawName)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		email, err := model.ParseSubscriberEmail(rawEmail)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, &model.Subscriber{
			ID:           uuid.New(),
			Email:        email,
			Name:         name,
			Status:       model.SubscriberConfirmed,
			SubscribedAt: now,
		})
	}
	return out, scanner.Err()
}
