// Package database archives finished analyses in PostgreSQL.
package database

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB is the analysis archive.
type DB struct {
	pool *pgxpool.Pool
}

// Option tunes the archive connection pool.
type Option func(*pgxpool.Config)

// WithMaxConns caps the pool size. Non-positive values keep the pgx default.
func WithMaxConns(n int32) Option {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// New connects to the archive at databaseURL. The schema must already be
// current; see Migrate.
func New(ctx context.Context, databaseURL string, opts ...Option) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid archive url: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive unreachable: %w", err)
	}
	return &DB{pool: pool}, nil
}

// Close closes the connection pool.
func (db *DB) Close() {
	db.pool.Close()
}

// Migrate brings the archive schema up to date. It is a no-op when nothing
// is pending.
func Migrate(databaseURL string) error {
	return withSchema(databaseURL, func(m *migrate.Migrate) error {
		return ignoreNoChange(m.Up(), "migration failed")
	})
}

// Reset drops every archived analysis by rolling the schema all the way
// down and back up again.
func Reset(databaseURL string) error {
	return withSchema(databaseURL, func(m *migrate.Migrate) error {
		if err := ignoreNoChange(m.Down(), "rollback failed"); err != nil {
			return err
		}
		return ignoreNoChange(m.Up(), "migration failed")
	})
}

// SchemaVersion returns the applied migration version, or 0 when the schema
// has never been migrated.
func SchemaVersion(databaseURL string) (uint, error) {
	var version uint
	err := withSchema(databaseURL, func(m *migrate.Migrate) error {
		v, dirty, err := m.Version()
		switch {
		case errors.Is(err, migrate.ErrNilVersion):
			return nil
		case err != nil:
			return fmt.Errorf("failed to read schema version: %w", err)
		case dirty:
			return fmt.Errorf("schema version %d is dirty", v)
		}
		version = v
		return nil
	})
	return version, err
}

func withSchema(databaseURL string, fn func(*migrate.Migrate) error) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}
	m, err := migrate.NewWithSourceInstance("iofs", source, databaseURL)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	defer func() { _, _ = m.Close() }()
	return fn(m)
}

func ignoreNoChange(err error, msg string) error {
	if err == nil || errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}
