// Package dmcycle moves Bluesky direct messages into Genesys Cloud as private
// open messages, tracking progress with a timestamp watermark.
package dmcycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/genesys"
	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/reconcile"
	"github.com/BTreeMap/SkyRelay/internal/store"
	"github.com/google/uuid"
)

// WatermarkFormat is the layout of the stored watermark.
const WatermarkFormat = "2006-01-02T15:04:05.000Z"

// Fetcher returns direct messages sent after since ("" fetches everything).
type Fetcher interface {
	FetchDirectMessages(ctx context.Context, since string) (*models.DMFetchResult, error)
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithContacts enables sender contact upserts.
func WithContacts(contacts reconcile.ContactManager) Option {
	return func(t *Tracker) {
		t.contacts = contacts
	}
}

// WithClock overrides the time source used for the watermark.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// Tracker runs DM cycles.
type Tracker struct {
	watermarks store.WatermarkStore
	fetcher    Fetcher
	ingestor   reconcile.Ingestor
	contacts   reconcile.ContactManager
	now        func() time.Time
}

// CycleReport summarises a completed cycle.
type CycleReport struct {
	Fetched  int
	Ingested int
	Failed   int
	// Advanced is true when the watermark was moved.
	Advanced bool
}

func New(watermarks store.WatermarkStore, fetcher Fetcher, ingestor reconcile.Ingestor, opts ...Option) *Tracker {
	t := &Tracker{
		watermarks: watermarks,
		fetcher:    fetcher,
		ingestor:   ingestor,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RunCycle performs one DM cycle.
func (t *Tracker) RunCycle(ctx context.Context) error {
	_, err := t.runCycle(ctx)
	return err
}

func (t *Tracker) runCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	log := slog.With("feed", "dm", "cycle_id", uuid.NewString())

	since, err := t.watermarks.GetDMWatermark(ctx)
	if err != nil {
		return report, fmt.Errorf("read dm watermark: %w", err)
	}
	log.Debug("Tracker.RunCycle: fetching direct messages", "since", since)

	result, err := t.fetcher.FetchDirectMessages(ctx, since)
	if err != nil {
		return report, fmt.Errorf("fetch direct messages: %w", err)
	}
	if result == nil || !result.Success {
		msg := "unknown error"
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		return report, errors.New("fetch direct messages: " + msg)
	}
	report.Fetched = len(result.Messages)
	if result.NewMessageCount == 0 || len(result.Messages) == 0 {
		log.Info("Tracker.RunCycle: no new direct messages")
		return report, nil
	}

	for _, dm := range result.Messages {
		if err := t.process(ctx, dm, result.BotDID); err != nil {
			report.Failed++
			log.Error("Tracker.RunCycle: direct message failed", "dm_id", dm.ID, "sender_did", dm.SenderDID, "error", err)
			continue
		}
		report.Ingested++
	}

	mark := t.now().UTC().Format(WatermarkFormat)
	if err := t.watermarks.SetDMWatermark(ctx, mark); err != nil {
		return report, fmt.Errorf("advance dm watermark: %w", err)
	}
	report.Advanced = true
	log.Info("Tracker.RunCycle: completed",
		"fetched", report.Fetched, "ingested", report.Ingested, "failed", report.Failed, "watermark", mark)
	return report, nil
}

func (t *Tracker) process(ctx context.Context, dm models.DirectMessage, botDID string) error {
	if t.contacts != nil && dm.SenderDID != "" {
		name := dm.SenderDisplayName
		if name == "" {
			name = dm.SenderHandle
		}
		if err := t.contacts.CreateOrUpdateExternalContact(ctx, dm.SenderDID, name, dm.SenderHandle); err != nil {
			slog.Warn("Tracker.process: contact upsert failed", "sender_did", dm.SenderDID, "error", err)
		}
	}
	msg := genesys.FromDirectMessage(dm, botDID)
	if _, err := t.ingestor.IngestMessages(ctx, []models.IngestMessage{msg}); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}
