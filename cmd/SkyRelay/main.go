package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/api"
	"github.com/BTreeMap/SkyRelay/internal/bluesky"
	"github.com/BTreeMap/SkyRelay/internal/dedup"
	"github.com/BTreeMap/SkyRelay/internal/dmcycle"
	"github.com/BTreeMap/SkyRelay/internal/genesys"
	"github.com/BTreeMap/SkyRelay/internal/lockfile"
	"github.com/BTreeMap/SkyRelay/internal/outbound"
	"github.com/BTreeMap/SkyRelay/internal/reconcile"
	"github.com/BTreeMap/SkyRelay/internal/store"
	"github.com/BTreeMap/SkyRelay/internal/thread"
	"github.com/BTreeMap/SkyRelay/internal/util"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir holds the SQLite database and the instance lock
	DefaultStateDir = "/var/lib/skyrelay"
	// DefaultDBFileName is the SQLite database filename inside the state directory
	DefaultDBFileName = "skyrelay.db"
)

func main() {
	envErr := godotenv.Load()
	initializeLogger(os.Getenv("LOG_LEVEL"))
	if envErr != nil {
		slog.Debug("failed to load .env file", "error", envErr)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], loadEnvironmentConfig())
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}
	if err := config.Validate(); err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping SkyRelay")
	if err := run(ctx, config); err != nil {
		slog.Error("SkyRelay failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("SkyRelay exited successfully")
}

// Config holds environment configuration
type Config struct {
	APIAddr     string
	StateDir    string
	RedisURL    string
	DatabaseURL string

	BlueskyHandle      string
	BlueskyAppPassword string
	BlueskyService     string
	SearchQuery        string

	GCRegion        string
	GCClientID      string
	GCClientSecret  string
	GCTopicID       string
	GCRuleID        string
	GCIntegrationID string
	WebhookSecret   string

	EnableContacts       bool
	NotificationInterval time.Duration
	SearchInterval       time.Duration
	DMInterval           time.Duration
}

// initializeLogger sets up structured logging at the requested level (info by default).
func initializeLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig reads configuration from the environment.
func loadEnvironmentConfig() Config {
	config := Config{
		APIAddr:     os.Getenv("API_ADDR"),
		StateDir:    os.Getenv("SKYRELAY_STATE_DIR"),
		RedisURL:    os.Getenv("REDIS_URL"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		BlueskyHandle:      os.Getenv("BLUESKY_HANDLE"),
		BlueskyAppPassword: os.Getenv("BLUESKY_APP_PASSWORD"),
		BlueskyService:     os.Getenv("BLUESKY_SERVICE"),
		SearchQuery:        strings.TrimSpace(os.Getenv("BLUESKY_SEARCH_QUERY")),

		GCRegion:        os.Getenv("GC_REGION"),
		GCClientID:      os.Getenv("GC_CC_CLIENT_ID"),
		GCClientSecret:  os.Getenv("GC_CC_CLIENT_SECRET"),
		GCTopicID:       os.Getenv("GC_SOCIAL_TOPIC_ID"),
		GCRuleID:        os.Getenv("GC_SOCIAL_RULE_ID"),
		GCIntegrationID: os.Getenv("GC_INTEGRATION_ID"),
		WebhookSecret:   os.Getenv("GC_WEBHOOK_SECRET"),

		EnableContacts:       util.ParseBoolEnv("ENABLE_EXTERNAL_CONTACTS", false),
		NotificationInterval: util.ParseSecondsEnv("POLLING_TIME_INBOUND_NOTIFICATIONS", api.DefaultNotificationInterval),
		SearchInterval:       util.ParseSecondsEnv("POLLING_TIME_SOCIAL_LISTENING", api.DefaultSearchInterval),
		DMInterval:           util.ParseSecondsEnv("POLLING_TIME_DM", api.DefaultDMInterval),
	}

	if config.APIAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			config.APIAddr = ":" + port
		} else {
			config.APIAddr = api.DefaultAddr
		}
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No SKYRELAY_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.BlueskyService == "" {
		config.BlueskyService = bluesky.DefaultService
	}

	slog.Debug("environment variables loaded",
		"API_ADDR", config.APIAddr,
		"SKYRELAY_STATE_DIR", config.StateDir,
		"REDIS_URL_SET", config.RedisURL != "",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"BLUESKY_HANDLE", config.BlueskyHandle,
		"BLUESKY_SEARCH_QUERY", config.SearchQuery,
		"GC_REGION", config.GCRegion,
		"GC_WEBHOOK_SECRET_SET", config.WebhookSecret != "",
		"ENABLE_EXTERNAL_CONTACTS", config.EnableContacts)
	return config
}

// parseCommandLineFlags applies flag overrides on top of the environment configuration.
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Config, error) {
	fs.StringVar(&config.APIAddr, "api-addr", config.APIAddr, "webhook listen address (overrides $API_ADDR)")
	fs.StringVar(&config.StateDir, "state-dir", config.StateDir, "state directory for the database and lock (overrides $SKYRELAY_STATE_DIR)")
	fs.StringVar(&config.RedisURL, "redis-url", config.RedisURL, "Redis URL for the state store (overrides $REDIS_URL)")
	fs.StringVar(&config.DatabaseURL, "db-dsn", config.DatabaseURL, "Postgres DSN or SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&config.BlueskyService, "bluesky-service", config.BlueskyService, "Bluesky PDS base URL (overrides $BLUESKY_SERVICE)")
	fs.StringVar(&config.SearchQuery, "search-query", config.SearchQuery, "search query for the social listening loop (overrides $BLUESKY_SEARCH_QUERY)")
	fs.BoolVar(&config.EnableContacts, "enable-external-contacts", config.EnableContacts, "upsert external contacts before ingestion (overrides $ENABLE_EXTERNAL_CONTACTS)")
	fs.DurationVar(&config.NotificationInterval, "notification-interval", config.NotificationInterval, "notification polling interval")
	fs.DurationVar(&config.SearchInterval, "search-interval", config.SearchInterval, "search polling interval")
	fs.DurationVar(&config.DMInterval, "dm-interval", config.DMInterval, "direct message polling interval")
	if err := fs.Parse(args); err != nil {
		return config, err
	}
	slog.Debug("flags parsed", "apiAddr", config.APIAddr, "stateDir", config.StateDir,
		"searchQuery", config.SearchQuery, "enableContacts", config.EnableContacts)
	return config, nil
}

// Validate reports missing credentials, which are fatal at startup.
func (c Config) Validate() error {
	var missing []string
	required := []struct{ name, value string }{
		{"GC_WEBHOOK_SECRET", c.WebhookSecret},
		{"BLUESKY_HANDLE", c.BlueskyHandle},
		{"BLUESKY_APP_PASSWORD", c.BlueskyAppPassword},
		{"GC_CC_CLIENT_ID", c.GCClientID},
		{"GC_CC_CLIENT_SECRET", c.GCClientSecret},
		{"GC_REGION", c.GCRegion},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			missing = append(missing, r.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	if c.GCTopicID == "" || c.GCRuleID == "" {
		slog.Warn("GC_SOCIAL_TOPIC_ID or GC_SOCIAL_RULE_ID not set, ingestion will fail")
	}
	if c.GCIntegrationID == "" {
		slog.Warn("GC_INTEGRATION_ID not set, delivery receipts will fail")
	}
	return nil
}

// buildStoreOptions selects the state store: Redis, then DATABASE_URL, then SQLite in the state directory.
func buildStoreOptions(c Config) []store.Option {
	if c.RedisURL != "" {
		slog.Debug("Configuring Redis store", "redis_url_set", true)
		return []store.Option{store.WithRedisURL(c.RedisURL)}
	}
	dsn := c.DatabaseURL
	if dsn == "" {
		dsn = filepath.Join(c.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", dsn)
	}
	switch store.DetectDSNType(dsn) {
	case store.BackendPostgres:
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_set", true)
		return []store.Option{store.WithPostgresDSN(dsn)}
	case store.BackendRedis:
		slog.Debug("Detected Redis URL in DATABASE_URL, configuring Redis store")
		return []store.Option{store.WithRedisURL(dsn)}
	default:
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
		return []store.Option{store.WithSQLiteDSN(dsn)}
	}
}

func buildBlueskyOptions(c Config, sessions bluesky.SessionCache) []bluesky.Option {
	return []bluesky.Option{
		bluesky.WithService(c.BlueskyService),
		bluesky.WithCredentials(c.BlueskyHandle, c.BlueskyAppPassword),
		bluesky.WithSessionCache(sessions),
	}
}

func buildGenesysOptions(c Config) []genesys.Option {
	return []genesys.Option{
		genesys.WithRegion(c.GCRegion),
		genesys.WithClientCredentials(c.GCClientID, c.GCClientSecret),
		genesys.WithIngestionRule(c.GCTopicID, c.GCRuleID),
		genesys.WithIntegrationID(c.GCIntegrationID),
	}
}

func buildAPIOptions(c Config) []api.Option {
	return []api.Option{
		api.WithAddr(c.APIAddr),
		api.WithNotificationInterval(c.NotificationInterval),
		api.WithSearchInterval(c.SearchInterval),
		api.WithDMInterval(c.DMInterval),
	}
}

// buildDeps wires the collaborators into the webhook interpreter and polling cycles.
func buildDeps(c Config, st store.Store, bsky *bluesky.Client, gc *genesys.Client) api.Deps {
	var reconcileOpts []reconcile.Option
	var dmOpts []dmcycle.Option
	if c.EnableContacts {
		reconcileOpts = append(reconcileOpts, reconcile.WithContacts(gc))
		dmOpts = append(dmOpts, dmcycle.WithContacts(gc))
	}

	deps := api.Deps{
		Webhook:        outbound.NewInterpreter(bsky, gc, dedup.NewGuard(st, st), thread.NewResolver(st)),
		WebhookSecret:  c.WebhookSecret,
		Notifications:  reconcile.New(reconcile.NewNotificationFeed(bsky), st, gc, reconcileOpts...),
		DirectMessages: dmcycle.New(st, bsky, gc, dmOpts...),
	}
	if c.SearchQuery != "" {
		deps.Search = reconcile.New(reconcile.NewSearchFeed(bsky, c.SearchQuery), st, gc, reconcileOpts...)
	}
	return deps
}

func run(ctx context.Context, c Config) error {
	lock, err := lockfile.Acquire(c.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	st, err := store.Open(ctx, buildStoreOptions(c)...)
	if err != nil {
		return fmt.Errorf("open state store: %w", err)
	}
	defer st.Close()

	bsky, err := bluesky.NewClient(buildBlueskyOptions(c, st)...)
	if err != nil {
		return fmt.Errorf("bluesky client: %w", err)
	}
	if err := bsky.Login(ctx); err != nil {
		return fmt.Errorf("bluesky login: %w", err)
	}
	if profile, err := bsky.GetProfile(ctx, bsky.DID()); err != nil {
		slog.Warn("Failed to fetch bot profile", "error", err)
	} else {
		slog.Info("Logged in to Bluesky", "did", profile.DID, "handle", profile.Handle)
	}

	gc, err := genesys.NewClient(buildGenesysOptions(c)...)
	if err != nil {
		return fmt.Errorf("genesys client: %w", err)
	}

	err = api.Run(ctx, buildDeps(c, st, bsky, gc), buildAPIOptions(c)...)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
