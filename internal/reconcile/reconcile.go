// Package reconcile runs the inbound polling cycles that move Bluesky posts
// into Genesys Cloud and record the resulting conversation state.
//
// A cycle is fetch, filter, enrich, ingest, persist. Only posts whose
// ingestion was confirmed by a correlated response entry get a state record;
// everything else is seen as new again on the next cycle.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/SkyRelay/internal/dedup"
	"github.com/BTreeMap/SkyRelay/internal/genesys"
	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/store"
	"github.com/BTreeMap/SkyRelay/internal/thread"
	"github.com/google/uuid"
)

// Ingestor submits a batch of messages to the contact center.
type Ingestor interface {
	IngestMessages(ctx context.Context, batch []models.IngestMessage) (*models.IngestResult, error)
}

// ContactManager maintains external contact records.
type ContactManager interface {
	CreateOrUpdateExternalContact(ctx context.Context, externalID, displayName, handle string) error
}

// Mapper converts a post into an ingestion message.
type Mapper func(models.Post) models.IngestMessage

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithContacts enables contact upserts before ingestion.
func WithContacts(contacts ContactManager) Option {
	return func(r *Reconciler) {
		r.contacts = contacts
	}
}

// WithMapper overrides the post to message conversion.
func WithMapper(m Mapper) Option {
	return func(r *Reconciler) {
		if m != nil {
			r.mapper = m
		}
	}
}

// WithInitialCursor seeds the feed cursor.
func WithInitialCursor(cursor string) Option {
	return func(r *Reconciler) {
		r.cursor = cursor
	}
}

// Reconciler polls one feed. It owns that feed's cursor, so each loop needs its own instance.
type Reconciler struct {
	feed     Feed
	states   store.StateStore
	guard    *dedup.Guard
	ingestor Ingestor
	contacts ContactManager
	mapper   Mapper

	mu     sync.Mutex
	cursor string
}

// CycleReport summarises a completed cycle.
type CycleReport struct {
	Fetched   int
	Candidate int
	Ingested  int
	Persisted int
}

func New(feed Feed, states store.StateStore, ingestor Ingestor, opts ...Option) *Reconciler {
	r := &Reconciler{
		feed:     feed,
		states:   states,
		guard:    dedup.NewGuard(states, nil),
		ingestor: ingestor,
		mapper:   genesys.FromPost,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Cursor returns the current continuation token.
func (r *Reconciler) Cursor() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cursor
}

func (r *Reconciler) setCursor(c string) {
	r.mu.Lock()
	r.cursor = c
	r.mu.Unlock()
}

// RunCycle performs one polling cycle. A returned error means the cycle was
// abandoned; the cursor may already have advanced past the fetched page.
func (r *Reconciler) RunCycle(ctx context.Context) error {
	_, err := r.runCycle(ctx)
	return err
}

func (r *Reconciler) runCycle(ctx context.Context) (CycleReport, error) {
	var report CycleReport
	log := slog.With("feed", r.feed.Name(), "cycle_id", uuid.NewString())
	log.Debug("Reconciler.RunCycle: starting", "cursor", r.Cursor())

	page, err := r.feed.Fetch(ctx, r.Cursor())
	if err != nil {
		return report, fmt.Errorf("%s fetch: %w", r.feed.Name(), err)
	}
	report.Fetched = len(page.Items)
	if len(page.Items) == 0 {
		log.Info("Reconciler.RunCycle: no new items")
		return report, nil
	}
	r.setCursor(page.Cursor)

	fresh := make([]Candidate, 0, len(page.Items))
	for _, it := range page.Items {
		if !it.Relevant {
			log.Debug("Reconciler.RunCycle: skipping irrelevant item", "post_uri", it.URI)
			continue
		}
		if !r.guard.IsNew(ctx, it.URI) {
			log.Debug("Reconciler.RunCycle: skipping already processed post", "post_uri", it.URI)
			continue
		}
		fresh = append(fresh, it)
	}
	report.Candidate = len(fresh)
	if len(fresh) == 0 {
		log.Info("Reconciler.RunCycle: nothing new", "fetched", report.Fetched)
		return report, nil
	}

	posts, err := r.feed.Hydrate(ctx, fresh)
	if err != nil {
		return report, fmt.Errorf("%s hydrate: %w", r.feed.Name(), err)
	}
	if len(posts) == 0 {
		log.Warn("Reconciler.RunCycle: no posts could be hydrated", "candidates", len(fresh))
		return report, nil
	}

	r.enrich(ctx, log, posts)

	batch := make([]models.IngestMessage, 0, len(posts))
	for _, p := range posts {
		batch = append(batch, r.mapper(p))
	}
	result, err := r.ingestor.IngestMessages(ctx, batch)
	if err != nil {
		return report, fmt.Errorf("%s ingest: %w", r.feed.Name(), err)
	}
	report.Ingested = len(batch)

	for _, p := range posts {
		externalID, ok := result.ExternalIDFor(p.URI)
		if !ok {
			log.Warn("Reconciler.RunCycle: no correlated ingestion entry, will retry next cycle", "post_uri", p.URI)
			continue
		}
		if err := r.states.SaveConversationState(ctx, p.URI, thread.StateFor(p, externalID)); err != nil {
			log.Error("Reconciler.RunCycle: failed to persist conversation state", "post_uri", p.URI, "error", err)
			continue
		}
		report.Persisted++
	}

	log.Info("Reconciler.RunCycle: completed",
		"fetched", report.Fetched, "new", report.Candidate, "ingested", report.Ingested, "persisted", report.Persisted)
	return report, nil
}

// enrich upserts one contact per distinct author. Failures are logged per author.
func (r *Reconciler) enrich(ctx context.Context, log *slog.Logger, posts []models.Post) {
	if r.contacts == nil {
		return
	}
	seen := make(map[string]bool, len(posts))
	for _, p := range posts {
		did := p.Author.DID
		if did == "" || seen[did] {
			continue
		}
		seen[did] = true
		if err := r.contacts.CreateOrUpdateExternalContact(ctx, did, p.Author.Name(), p.Author.Handle); err != nil {
			log.Error("Reconciler.enrich: contact upsert failed", "author_did", did, "error", err)
		}
	}
}
