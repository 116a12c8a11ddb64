package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Compile-time check that PostgresStore implements MarkerStore.
var _ MarkerStore = (*PostgresStore)(nil)

// MarkProcessing inserts the marker, or takes over an expired one, in a single upsert.
func (s *PostgresStore) MarkProcessing(ctx context.Context, deliveryID string, at time.Time, ttl time.Duration) (bool, error) {
	now := unixMillis(at)
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_markers (delivery_id, processed_at, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (delivery_id) DO UPDATE SET processed_at = EXCLUDED.processed_at, expires_at = EXCLUDED.expires_at
		 WHERE webhook_markers.expires_at <= $4`,
		deliveryID, at.UTC().Format(time.RFC3339Nano), unixMillis(at.Add(ttl)), now,
	)
	if err != nil {
		return false, fmt.Errorf("mark processing failed: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark processing rows affected check failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_markers WHERE expires_at <= $1`, now); err != nil {
		slog.Warn("PostgresStore MarkProcessing: purge of expired markers failed", "error", err)
	}
	return n > 0, nil
}
