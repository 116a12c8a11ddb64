package bluesky

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// Record collections written by the bot.
const (
	CollectionPost   = "app.bsky.feed.post"
	CollectionLike   = "app.bsky.feed.like"
	CollectionRepost = "app.bsky.feed.repost"
)

type createRecordRequest struct {
	Repo       string `json:"repo"`
	Collection string `json:"collection"`
	Record     any    `json:"record"`
}

type newPostRecord struct {
	Type      string    `json:"$type"`
	Text      string    `json:"text"`
	CreatedAt string    `json:"createdAt"`
	Reply     *replyRef `json:"reply,omitempty"`
}

type subjectRecord struct {
	Type      string    `json:"$type"`
	Subject   strongRef `json:"subject"`
	CreatedAt string    `json:"createdAt"`
}

func (c *Client) createRecord(ctx context.Context, op, collection string, record any) (models.StrongRef, error) {
	s, err := c.ensureSession(ctx)
	if err != nil {
		return models.StrongRef{}, fmt.Errorf("%s: %w", op, err)
	}
	var out strongRef
	req := createRecordRequest{Repo: s.DID, Collection: collection, Record: record}
	if err := c.call(ctx, op, http.MethodPost, "com.atproto.repo.createRecord", nil, req, &out, nil); err != nil {
		return models.StrongRef{}, err
	}
	slog.Info("Successfully created Bluesky record", "collection", collection, "uri", out.URI)
	return models.StrongRef{URI: out.URI, CID: out.CID}, nil
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// Post publishes text, threaded under reply when it is non-nil.
func (c *Client) Post(ctx context.Context, text string, reply *models.ReplyRef) (models.StrongRef, error) {
	rec := newPostRecord{Type: CollectionPost, Text: text, CreatedAt: c.timestamp()}
	if reply != nil {
		rec.Reply = &replyRef{
			Root:   strongRef{URI: reply.Root.URI, CID: reply.Root.CID},
			Parent: strongRef{URI: reply.Parent.URI, CID: reply.Parent.CID},
		}
	}
	return c.createRecord(ctx, "post", CollectionPost, rec)
}

// Like likes the post at uri with content id cid.
func (c *Client) Like(ctx context.Context, uri, cid string) (models.StrongRef, error) {
	return c.createRecord(ctx, "like", CollectionLike, subjectRecord{
		Type: CollectionLike, Subject: strongRef{URI: uri, CID: cid}, CreatedAt: c.timestamp(),
	})
}

// Repost reposts the post at uri with content id cid.
func (c *Client) Repost(ctx context.Context, uri, cid string) (models.StrongRef, error) {
	return c.createRecord(ctx, "repost", CollectionRepost, subjectRecord{
		Type: CollectionRepost, Subject: strongRef{URI: uri, CID: cid}, CreatedAt: c.timestamp(),
	})
}
