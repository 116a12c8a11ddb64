package store

import (
	"context"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Key layout shared by all backends. Redis uses these as literal keys; the SQL backends use
// the watermark key as a settings row name.
const (
	ConversationKeyPrefix = "bluesky:post:"
	MarkerKeyPrefix       = "webhook:processed:"
	DMWatermarkKey        = "bluesky:dm:last_check"
	SessionKey            = "bluesky:session"
)

// SessionTTL bounds how long a cached Bluesky session is kept in Redis.
const SessionTTL = 24 * time.Hour

// StateStore maps a Bluesky post URI to its reconciliation state.
type StateStore interface {
	// SaveConversationState persists state for postID, replacing any existing value.
	SaveConversationState(ctx context.Context, postID string, state models.ConversationState) error

	// GetConversationState returns the state for postID, or nil when the post has not been
	// ingested. A stored value that cannot be decoded is logged and reported as nil.
	GetConversationState(ctx context.Context, postID string) (*models.ConversationState, error)
}

// WatermarkStore holds the timestamp of the last completed direct-message cycle.
type WatermarkStore interface {
	// GetDMWatermark returns "" when no cycle has completed yet.
	GetDMWatermark(ctx context.Context) (string, error)
	SetDMWatermark(ctx context.Context, value string) error
}

// SessionStore caches the serialized Bluesky session so restarts do not log in again.
type SessionStore interface {
	GetSession(ctx context.Context) (string, error)
	SaveSession(ctx context.Context, value string) error
}
