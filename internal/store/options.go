package store

import (
	"context"
	"log/slog"
	"strings"
)

// Backend names returned by DetectDSNType.
const (
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite3"
	BackendRedis    = "redis"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN      string
	Driver   string
	RedisURL string
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithSQLiteDSN selects the SQLite backend with the given database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = BackendSQLite
	}
}

// WithPostgresDSN selects the Postgres backend with the given connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Driver = BackendPostgres
	}
}

// WithRedisURL selects the Redis backend. Both redis:// URLs and host:port are accepted.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.RedisURL = url
		o.Driver = BackendRedis
	}
}

// DetectDSNType classifies a DSN as postgres, redis or sqlite (the fallback for file paths).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host="):
		return BackendPostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return BackendRedis
	default:
		return BackendSQLite
	}
}

// Open builds the backend selected by opts. With no options it returns an InMemoryStore.
func Open(ctx context.Context, opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	switch cfg.Driver {
	case BackendRedis:
		slog.Debug("store.Open: using Redis store")
		return NewRedisStore(ctx, opts...)
	case BackendPostgres:
		slog.Debug("store.Open: using Postgres store")
		return NewPostgresStore(opts...)
	case BackendSQLite:
		slog.Debug("store.Open: using SQLite store", "db_path", cfg.DSN)
		return NewSQLiteStore(opts...)
	default:
		slog.Warn("store.Open: no backend configured, state will not survive restarts")
		return NewInMemoryStore(), nil
	}
}
