package reconcile

import (
	"context"
	"fmt"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Candidate is one fetched item before filtering.
type Candidate struct {
	URI      string
	Relevant bool
	// Post is set when the feed already returns hydrated posts.
	Post *models.Post
}

// Page is one fetch result.
type Page struct {
	Items  []Candidate
	Cursor string
}

// Feed is a pollable source of inbound posts.
type Feed interface {
	Name() string
	Fetch(ctx context.Context, cursor string) (Page, error)
	// Hydrate resolves the surviving candidates into full posts. Posts that no
	// longer exist may be missing from the result.
	Hydrate(ctx context.Context, items []Candidate) ([]models.Post, error)
}

// NotificationSource is the part of the Bluesky client used by NotificationFeed.
type NotificationSource interface {
	ListNotifications(ctx context.Context, cursor string) (models.NotificationPage, error)
	GetPosts(ctx context.Context, uris []string) ([]models.Post, error)
}

// SearchSource is the part of the Bluesky client used by SearchFeed.
type SearchSource interface {
	SearchPosts(ctx context.Context, query, cursor string) (models.PostPage, error)
}

// NotificationFeed polls the bot account's notifications for mentions and replies.
type NotificationFeed struct {
	source NotificationSource
}

var _ Feed = (*NotificationFeed)(nil)

func NewNotificationFeed(source NotificationSource) *NotificationFeed {
	return &NotificationFeed{source: source}
}

func (f *NotificationFeed) Name() string { return "notifications" }

func (f *NotificationFeed) Fetch(ctx context.Context, cursor string) (Page, error) {
	page, err := f.source.ListNotifications(ctx, cursor)
	if err != nil {
		return Page{}, fmt.Errorf("list notifications: %w", err)
	}
	items := make([]Candidate, 0, len(page.Notifications))
	for _, n := range page.Notifications {
		items = append(items, Candidate{URI: n.URI, Relevant: n.IsConversational()})
	}
	return Page{Items: items, Cursor: page.Cursor}, nil
}

func (f *NotificationFeed) Hydrate(ctx context.Context, items []Candidate) ([]models.Post, error) {
	uris := make([]string, 0, len(items))
	for _, it := range items {
		uris = append(uris, it.URI)
	}
	posts, err := f.source.GetPosts(ctx, uris)
	if err != nil {
		return nil, fmt.Errorf("get posts: %w", err)
	}
	return posts, nil
}

// SearchFeed polls a search query. Every hit is relevant.
type SearchFeed struct {
	source SearchSource
	query  string
}

var _ Feed = (*SearchFeed)(nil)

func NewSearchFeed(source SearchSource, query string) *SearchFeed {
	return &SearchFeed{source: source, query: query}
}

func (f *SearchFeed) Name() string { return "search" }

func (f *SearchFeed) Fetch(ctx context.Context, cursor string) (Page, error) {
	page, err := f.source.SearchPosts(ctx, f.query, cursor)
	if err != nil {
		return Page{}, fmt.Errorf("search posts %q: %w", f.query, err)
	}
	items := make([]Candidate, 0, len(page.Posts))
	for i := range page.Posts {
		p := page.Posts[i]
		items = append(items, Candidate{URI: p.URI, Relevant: true, Post: &p})
	}
	return Page{Items: items, Cursor: page.Cursor}, nil
}

func (f *SearchFeed) Hydrate(_ context.Context, items []Candidate) ([]models.Post, error) {
	posts := make([]models.Post, 0, len(items))
	for _, it := range items {
		if it.Post != nil {
			posts = append(posts, *it.Post)
		}
	}
	return posts, nil
}
