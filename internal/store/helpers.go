package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

func encodeState(state models.ConversationState) ([]byte, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode conversation state: %w", err)
	}
	return raw, nil
}

// decodeState parses a stored value. Malformed values are logged and treated as absent so a
// single corrupted key cannot halt a polling cycle.
func decodeState(postID string, raw []byte) *models.ConversationState {
	var state models.ConversationState
	if err := json.Unmarshal(raw, &state); err != nil {
		slog.Warn("store.decodeState: discarding malformed conversation state", "post_uri", postID, "error", err)
		return nil
	}
	if state == (models.ConversationState{}) {
		slog.Warn("store.decodeState: discarding empty conversation state", "post_uri", postID)
		return nil
	}
	return &state
}

// unixMillis is used for marker expiry columns so comparisons do not depend on how a driver
// formats timestamps.
func unixMillis(t time.Time) int64 {
	return t.UnixMilli()
}
