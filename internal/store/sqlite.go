// Package store provides storage backends for SkyRelay.
//
// This file implements an SQLite-backed store for conversation state and settings.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/BTreeMap/SkyRelay/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	slog.Debug("SQLite database directory verified/created", "dir", dir)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// One writer at a time avoids SQLITE_BUSY between the polling loops and webhook requests.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("SQLite ping successful")

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveConversationState(ctx context.Context, postID string, state models.ConversationState) error {
	raw, err := encodeState(state)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO conversation_states (post_uri, state_json, created_at) VALUES (?, ?, ?)`,
		postID, string(raw), time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "post_uri", postID)
		return fmt.Errorf("failed to save conversation state for %s: %w", postID, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "post_uri", postID)
	return nil
}

func (s *SQLiteStore) GetConversationState(ctx context.Context, postID string) (*models.ConversationState, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT state_json FROM conversation_states WHERE post_uri = ?`, postID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "post_uri", postID)
		return nil, fmt.Errorf("failed to get conversation state for %s: %w", postID, err)
	}
	return decodeState(postID, []byte(raw)), nil
}

func (s *SQLiteStore) GetDMWatermark(ctx context.Context) (string, error) {
	return s.getSetting(ctx, DMWatermarkKey)
}

func (s *SQLiteStore) SetDMWatermark(ctx context.Context, value string) error {
	return s.setSetting(ctx, DMWatermarkKey, value)
}

func (s *SQLiteStore) GetSession(ctx context.Context) (string, error) {
	return s.getSetting(ctx, SessionKey)
}

func (s *SQLiteStore) SaveSession(ctx context.Context, value string) error {
	return s.setSetting(ctx, SessionKey, value)
}

func (s *SQLiteStore) getSetting(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get setting %s: %w", key, err)
	}
	return v, nil
}

func (s *SQLiteStore) setSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value, updated_at) VALUES (?, ?, ?)`,
		key, value, time.Now().UTC())
	if err != nil {
		slog.Error("SQLiteStore setSetting failed", "key", key, "error", err)
		return fmt.Errorf("failed to set setting %s: %w", key, err)
	}
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	} else {
		slog.Debug("SQLite database connection closed successfully")
	}
	return err
}
