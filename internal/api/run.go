package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/scheduler"
	"golang.org/x/sync/errgroup"
)

// Default intervals and server settings.
const (
	DefaultAddr                 = ":3000"
	DefaultNotificationInterval = 60 * time.Second
	DefaultSearchInterval       = 300 * time.Second
	DefaultDMInterval           = 120 * time.Second
	DefaultShutdownTimeout      = 10 * time.Second
	DefaultReadHeaderTimeout    = 10 * time.Second
)

// Cycle is one polling loop body.
type Cycle interface {
	RunCycle(ctx context.Context) error
}

// Deps are the components Run wires together. A nil cycle disables its loop.
type Deps struct {
	Webhook        WebhookHandler
	WebhookSecret  string
	Notifications  Cycle
	Search         Cycle
	DirectMessages Cycle
}

// Opts holds server and loop configuration.
type Opts struct {
	Addr                 string
	NotificationInterval time.Duration
	SearchInterval       time.Duration
	DMInterval           time.Duration
	ShutdownTimeout      time.Duration
	// OnListen, when set, receives the bound address.
	OnListen func(net.Addr)
}

// Option configures Run.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithNotificationInterval sets the notification loop interval.
func WithNotificationInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.NotificationInterval = d
	}
}

// WithSearchInterval sets the search loop interval.
func WithSearchInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.SearchInterval = d
	}
}

// WithDMInterval sets the direct message loop interval.
func WithDMInterval(d time.Duration) Option {
	return func(o *Opts) {
		o.DMInterval = d
	}
}

// WithShutdownTimeout bounds graceful HTTP shutdown.
func WithShutdownTimeout(d time.Duration) Option {
	return func(o *Opts) {
		o.ShutdownTimeout = d
	}
}

// WithListenHook reports the bound address once the listener is open.
func WithListenHook(fn func(net.Addr)) Option {
	return func(o *Opts) {
		o.OnListen = fn
	}
}

func defaultOpts() Opts {
	return Opts{
		Addr:                 DefaultAddr,
		NotificationInterval: DefaultNotificationInterval,
		SearchInterval:       DefaultSearchInterval,
		DMInterval:           DefaultDMInterval,
		ShutdownTimeout:      DefaultShutdownTimeout,
	}
}

// Run serves the webhook and drives the polling loops until ctx is cancelled
// or the listener fails.
func Run(ctx context.Context, deps Deps, opts ...Option) error {
	cfg := defaultOpts()
	for _, opt := range opts {
		opt(&cfg)
	}
	if deps.WebhookSecret == "" {
		return errors.New("webhook secret not set")
	}
	if deps.Webhook == nil {
		return errors.New("webhook handler not set")
	}
	slog.Debug("api.Run: configuration", "addr", cfg.Addr,
		"notifications", deps.Notifications != nil, "search", deps.Search != nil, "dm", deps.DirectMessages != nil)

	sched := scheduler.NewScheduler()
	loops := []struct {
		name     string
		cycle    Cycle
		interval time.Duration
	}{
		{"notifications", deps.Notifications, cfg.NotificationInterval},
		{"search", deps.Search, cfg.SearchInterval},
		{"dm", deps.DirectMessages, cfg.DMInterval},
	}
	for _, l := range loops {
		if l.cycle == nil {
			slog.Info("api.Run: loop disabled", "loop", l.name)
			continue
		}
		if err := sched.AddLoop(l.name, l.interval, l.cycle.RunCycle); err != nil {
			return fmt.Errorf("register %s loop: %w", l.name, err)
		}
	}

	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.Addr, err)
	}
	if cfg.OnListen != nil {
		cfg.OnListen(ln.Addr())
	}
	srv := &http.Server{
		Handler:           NewServer(deps.WebhookSecret, deps.Webhook),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api.Run: HTTP server listening", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		sched.Start()
		<-gctx.Done()
		slog.Info("api.Run: shutting down")
		sched.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}
