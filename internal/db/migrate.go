package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// MigrationSource returns the embedded migrations as a golang-migrate source.
func MigrationSource() (source.Driver, error) {
	return iofs.New(migrationFiles, "migrations")
}

// Migrate brings the schema up to the newest embedded migration and returns
// the migrations it applied, as "0003_create_newsletter_issues". It holds one
// pooled connection for the duration; golang-migrate serializes concurrent
// callers with an advisory lock.
func Migrate(ctx context.Context, conn *sql.DB, log zerolog.Logger) (applied []string, err error) {
	src, err := MigrationSource()
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}

	sqlConn, err := conn.Conn(ctx)
	if err != nil {
		_ = src.Close()
		return nil, fmt.Errorf("acquire migration connection: %w", err)
	}
	driver, err := postgres.WithConnection(ctx, sqlConn, &postgres.Config{})
	if err != nil {
		_ = src.Close()
		_ = sqlConn.Close()
		return nil, fmt.Errorf("failed to create postgres driver instance: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		_ = src.Close()
		_ = driver.Close()
		return nil, fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	before, err := currentVersion(m)
	if err != nil {
		return nil, err
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info().Uint("schema_version", before).Msg("No new migrations found. Skipping...")
			return nil, nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return nil, fmt.Errorf("migration failed: dirty database version %d", dirtyErr.Version)
		}
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	after, err := currentVersion(m)
	if err != nil {
		return nil, err
	}
	return appliedBetween(src, before, after)
}

// currentVersion is 0 on an empty database.
func currentVersion(m *migrate.Migrate) (uint, error) {
	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("migration failed: dirty database version %d", version)
	}
	return version, nil
}

// appliedBetween names the migrations with before < version <= after.
func appliedBetween(src source.Driver, before, after uint) ([]string, error) {
	names, err := MigrationNames(src)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, n := range names {
		if n.Version > before && n.Version <= after {
			out = append(out, n.String())
		}
	}
	return out, nil
}

type MigrationName struct {
	Version    uint
	Identifier string
}

func (n MigrationName) String() string {
	return fmt.Sprintf("%04d_%s", n.Version, n.Identifier)
}

// MigrationNames lists every up migration of src in apply order.
func MigrationNames(src source.Driver) ([]MigrationName, error) {
	version, err := src.First()
	if err != nil {
		return nil, fmt.Errorf("first migration: %w", err)
	}
	var out []MigrationName
	for {
		body, identifier, err := src.ReadUp(version)
		if err != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, err)
		}
		_ = body.Close()
		out = append(out, MigrationName{Version: version, Identifier: identifier})

		next, err := src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("next migration after %d: %w", version, err)
		}
		version = next
	}
}
