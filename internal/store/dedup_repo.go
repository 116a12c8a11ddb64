// Package store provides the MarkerStore interface for webhook delivery deduplication.
package store

import (
	"context"
	"time"
)

// MarkerStore records webhook deliveries that are being (or have been) handled.
type MarkerStore interface {
	// MarkProcessing records deliveryID with processing time at, valid for ttl. It returns
	// true when the marker was newly set and false when an unexpired marker already exists.
	// The check and the write happen in a single backend operation.
	MarkProcessing(ctx context.Context, deliveryID string, at time.Time, ttl time.Duration) (bool, error)
}
