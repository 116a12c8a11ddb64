package bluesky

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// getPostsChunk is the largest batch app.bsky.feed.getPosts accepts.
const getPostsChunk = 25

type notificationView struct {
	URI       string      `json:"uri"`
	CID       string      `json:"cid"`
	Author    profileView `json:"author"`
	Reason    string      `json:"reason"`
	IndexedAt string      `json:"indexedAt"`
}

type listNotificationsResponse struct {
	Notifications []notificationView `json:"notifications"`
	Cursor        string             `json:"cursor"`
}

type searchPostsResponse struct {
	Posts  []postView `json:"posts"`
	Cursor string     `json:"cursor"`
}

type getPostsResponse struct {
	Posts []postView `json:"posts"`
}

// ListNotifications returns one page of the account's notifications.
func (c *Client) ListNotifications(ctx context.Context, cursor string) (models.NotificationPage, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp listNotificationsResponse
	if err := c.call(ctx, "list notifications", http.MethodGet, "app.bsky.notification.listNotifications", q, nil, &resp, nil); err != nil {
		return models.NotificationPage{}, err
	}
	page := models.NotificationPage{Cursor: resp.Cursor}
	for _, n := range resp.Notifications {
		item := models.Notification{URI: n.URI, CID: n.CID, Reason: n.Reason, Author: n.Author.toModel()}
		if t, err := time.Parse(time.RFC3339Nano, n.IndexedAt); err == nil {
			item.IndexedAt = t
		}
		page.Notifications = append(page.Notifications, item)
	}
	return page, nil
}

// SearchPosts returns one page of search results for query.
func (c *Client) SearchPosts(ctx context.Context, query, cursor string) (models.PostPage, error) {
	q := url.Values{"q": {query}}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	var resp searchPostsResponse
	if err := c.call(ctx, "search posts", http.MethodGet, "app.bsky.feed.searchPosts", q, nil, &resp, nil); err != nil {
		return models.PostPage{}, err
	}
	page := models.PostPage{Cursor: resp.Cursor}
	for _, p := range resp.Posts {
		page.Posts = append(page.Posts, p.toModel())
	}
	return page, nil
}

// GetPosts hydrates uris in chunks. Posts that no longer exist are omitted.
func (c *Client) GetPosts(ctx context.Context, uris []string) ([]models.Post, error) {
	posts := make([]models.Post, 0, len(uris))
	for start := 0; start < len(uris); start += getPostsChunk {
		end := min(start+getPostsChunk, len(uris))
		q := url.Values{"uris": uris[start:end]}
		var resp getPostsResponse
		if err := c.call(ctx, "get posts", http.MethodGet, "app.bsky.feed.getPosts", q, nil, &resp, nil); err != nil {
			return nil, fmt.Errorf("get posts chunk at %d: %w", start, err)
		}
		for _, p := range resp.Posts {
			posts = append(posts, p.toModel())
		}
	}
	return posts, nil
}

// GetProfile returns the profile of actor (a handle or DID).
func (c *Client) GetProfile(ctx context.Context, actor string) (models.Author, error) {
	var resp profileView
	q := url.Values{"actor": {actor}}
	if err := c.call(ctx, "get profile", http.MethodGet, "app.bsky.actor.getProfile", q, nil, &resp, nil); err != nil {
		return models.Author{}, err
	}
	return resp.toModel(), nil
}
