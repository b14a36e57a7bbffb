// Package database is the durable notification store: SQLite in WAL mode
// behind sqlx, with the schema managed by squibble.
package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/campushub/campushub/database/sqliteconfig"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/tailscale/squibble"

	_ "modernc.org/sqlite"
)

// Database errors.
var (
	ErrBuildConnectionURL = errors.New("failed to build SQLite connection URL")
	ErrOpenDatabase       = errors.New("failed to open database")
	ErrPingDatabase       = errors.New("failed to ping database")
	ErrApplySchema        = errors.New("failed to apply schema")
)

// Database wraps the sqlx database connection.
type Database struct {
	db *sqlx.DB
}

// New opens the database described by cfg and applies the schema.
func New(ctx context.Context, cfg *sqliteconfig.Config) (*Database, error) {
	connectionURL, err := cfg.ToURL()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildConnectionURL, err)
	}

	log.Debug().
		Str("path", cfg.Path).
		Str("config", connectionURL).
		Msg("Opening SQLite database")

	db, err := sqlx.Open("sqlite", connectionURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOpenDatabase, err)
	}

	// SQLite concurrency settings: single connection model. Writers are
	// serialized here, which is what makes the read flag a monotonic OR.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrPingDatabase, err)
	}

	s := &squibble.Schema{Current: Schema}
	if err := s.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", ErrApplySchema, err)
	}

	log.Info().
		Str("path", cfg.Path).
		Msg("Database opened successfully")

	return &Database{db: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// WithTx executes a function within a database transaction.
func (d *Database) WithTx(ctx context.Context, fn func(*sqlx.Tx) error) error {
	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

// Schema is the current database schema.
//
// Notification timestamps are integer Unix nanoseconds so that ordering by
// created_at is exact; ties fall back to the time-ordered id.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT UNIQUE NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS notifications (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    type TEXT NOT NULL DEFAULT 'GENERIC',
    title TEXT NOT NULL,
    message TEXT NOT NULL,
    data TEXT,
    read INTEGER NOT NULL DEFAULT 0,
    read_at INTEGER,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE INDEX IF NOT EXISTS idx_notifications_user_created ON notifications(user_id, created_at DESC, id DESC);
CREATE INDEX IF NOT EXISTS idx_notifications_unread ON notifications(user_id, read);
`
