// Package store provides storage backends for SkyRelay.
//
// This file implements a PostgreSQL-backed store for conversation state and settings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/SkyRelay/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveConversationState(ctx context.Context, postID string, state models.ConversationState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversation_states (post_uri, state_json, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (post_uri) DO UPDATE SET state_json = EXCLUDED.state_json`,
		postID, string(raw), time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "post_uri", postID)
		return fmt.Errorf("failed to save conversation state for %s: %w", postID, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "post_uri", postID)
	return nil
}

func (s *PostgresStore) GetConversationState(ctx context.Context, postID string) (*models.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM conversation_states WHERE post_uri = $1`, postID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "post_uri", postID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", postID, err)
	}
	return decodeState(postID, []byte(raw)), nil
}

func (s *PostgresStore) GetDMWatermark(ctx context.Context) (string, error) {
	return s.getSetting(ctx, DMWatermarkKey)
}

func (s *PostgresStore) SetDMWatermark(ctx context.Context, value string) error {
	return s.setSetting(ctx, DMWatermarkKey, value)
}

func (s *PostgresStore) GetSession(ctx context.Context) (string, error) {
	return s.getSetting(ctx, SessionKey)
}

func (s *PostgresStore) SaveSession(ctx context.Context, value string) error {
	return s.setSetting(ctx, SessionKey, value)
}

func (s *PostgresStore) getSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return v, nil
}

func (s *PostgresStore) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = EXCLUDED.updated_at`,
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error("PostgresStore setSetting failed", "key", key, "error", err)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
