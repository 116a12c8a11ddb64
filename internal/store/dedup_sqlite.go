package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that SQLiteStore implements MarkerStore.
var _ MarkerStore = (*SQLiteStore)(nil)

// MarkProcessing inserts the marker, or takes over an expired one, in a single upsert.
func (s *SQLiteStore) MarkProcessing(ctx context.Context, deliveryID string, at time.Time, ttl time.Duration) (bool, error) {
	now := unixMillis(at)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_markers (delivery_id, processed_at, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (delivery_id) DO UPDATE SET processed_at = excluded.processed_at, expires_at = excluded.expires_at
		 WHERE webhook_markers.expires_at <= ?`,
		deliveryID, at.UTC().Format(time.RFC3339Nano), unixMillis(at.Add(ttl)), now,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing rows affected check failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_markers WHERE expires_at <= ?`, now); err != nil {
		slog.Warn("SQLiteStore MarkProcessing: purge of expired markers failed", "error", err)
	}
	return n > 0, nil
}
