// Package db opens the Postgres handle and applies the embedded schema.
package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"
)

//go:embed migrations/*.sql
var MigrationFS embed.FS

// Pool sizing applied by Open.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Open opens a pgx-backed *sql.DB and pings it. The caller closes it.
func Open(ctx context.Context, dsn string, pool Pool) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("db: DATABASE_URL is not set")
	}
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpen > 0 {
		conn.SetMaxOpenConns(pool.MaxOpen)
	}
	if pool.MaxIdle > 0 {
		conn.SetMaxIdleConns(pool.MaxIdle)
	}
	if pool.MaxLifetime > 0 {
		conn.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies migrations in direction "up" or "down". Being already at
// the target version is not an error.
func Migrate(dsn, direction string) error {
	if dsn == "" {
		return errors.New("db: DATABASE_URL is not set")
	}
	if direction != "up" && direction != "down" {
		return fmt.Errorf("db: direction must be up or down, got %q", direction)
	}

	src, err := iofs.New(MigrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrate source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", src, dsn)
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	defer func() { _, _ = m.Close() }()

	if direction == "up" {
		err = m.Up()
	} else {
		err = m.Down()
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}
