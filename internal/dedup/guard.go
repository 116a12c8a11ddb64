// Package dedup decides whether an inbound item has already been handled.
//
// The polling paths use the presence of a conversation state as their signal.
// The webhook path uses a short-lived delivery marker. Both are best-effort:
// a store failure is logged and the item is treated as new.
package dedup

import (
	"context"
	"log/slog"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/store"
)

// DefaultMarkerTTL is how long a webhook delivery id is remembered.
const DefaultMarkerTTL = time.Hour

// Guard wraps the state and marker stores.
type Guard struct {
	states  store.StateStore
	markers store.MarkerStore
	ttl     time.Duration
	now     func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithMarkerTTL overrides the webhook marker lifetime.
func WithMarkerTTL(ttl time.Duration) GuardOption {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock overrides the time source used for marker timestamps.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGuard creates a Guard. Either store may be nil when the corresponding path is unused.
func NewGuard(states store.StateStore, markers store.MarkerStore, opts ...GuardOption) *Guard {
	g := &Guard{
		states:  states,
		markers: markers,
		ttl:     DefaultMarkerTTL,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// IsNew reports whether no conversation state is recorded for postID.
func (g *Guard) IsNew(ctx context.Context, postID string) bool {
	if g.states == nil {
		return true
	}
	state, err := g.states.GetConversationState(ctx, postID)
	if err != nil {
		slog.Error("Guard.IsNew: state lookup failed, treating as new", "post_uri", postID, "error", err)
		return true
	}
	return state == nil
}

// MarkProcessing records deliveryID and reports whether this call was the first to do so
// within the marker window.
func (g *Guard) MarkProcessing(ctx context.Context, deliveryID string) bool {
	if deliveryID == "" {
		slog.Warn("Guard.MarkProcessing: empty delivery id, cannot deduplicate")
		return true
	}
	if g.markers == nil {
		return true
	}
	fresh, err := g.markers.MarkProcessing(ctx, deliveryID, g.now(), g.ttl)
	if err != nil {
		slog.Error("Guard.MarkProcessing: marker store failed, treating as new", "delivery_id", deliveryID, "error", err)
		return true
	}
	if !fresh {
		slog.Debug("Guard.MarkProcessing: delivery already processed", "delivery_id", deliveryID)
	}
	return fresh
}
