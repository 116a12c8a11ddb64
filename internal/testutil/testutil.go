// Package testutil provides fakes for the Bluesky and Genesys Cloud collaborators
// and common assertions for SkyRelay tests.
package testutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/SkyRelay/internal/models"
)

// SignBody returns the X-Hub-Signature-256 header value for body.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// DMCall records one SendDirectMessage invocation.
type DMCall struct {
	Text      string
	Recipient string
}

// PostCall records one Post invocation.
type PostCall struct {
	Text  string
	Reply *models.ReplyRef
}

// FakeSocial is an in-memory Bluesky collaborator. Err* fields inject failures.
type FakeSocial struct {
	mu sync.Mutex

	NotificationPages []models.NotificationPage
	SearchPages       []models.PostPage
	PostsByURI        map[string]models.Post
	DMResult          *models.DMFetchResult
	DMMessageID       string

	ErrList   error
	ErrSearch error
	ErrGet    error
	ErrAction error
	ErrDM     error

	ListCursors   []string
	SearchCursors []string
	GetPostsCalls [][]string
	Posts         []PostCall
	Likes         []models.StrongRef
	Reposts       []models.StrongRef
	DMsSent       []DMCall
	DMFetchSince  []string
}

func NewFakeSocial() *FakeSocial {
	return &FakeSocial{PostsByURI: map[string]models.Post{}, DMMessageID: "dm-sent-1"}
}

// AddPost registers a post for hydration.
func (f *FakeSocial) AddPost(p models.Post) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PostsByURI[p.URI] = p
}

func (f *FakeSocial) ListNotifications(_ context.Context, cursor string) (models.NotificationPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListCursors = append(f.ListCursors, cursor)
	if f.ErrList != nil {
		return models.NotificationPage{}, f.ErrList
	}
	if len(f.NotificationPages) == 0 {
		return models.NotificationPage{}, nil
	}
	page := f.NotificationPages[0]
	f.NotificationPages = f.NotificationPages[1:]
	return page, nil
}

func (f *FakeSocial) SearchPosts(_ context.Context, _ string, cursor string) (models.PostPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.SearchCursors = append(f.SearchCursors, cursor)
	if f.ErrSearch != nil {
		return models.PostPage{}, f.ErrSearch
	}
	if len(f.SearchPages) == 0 {
		return models.PostPage{}, nil
	}
	page := f.SearchPages[0]
	f.SearchPages = f.SearchPages[1:]
	return page, nil
}

func (f *FakeSocial) GetPosts(_ context.Context, uris []string) ([]models.Post, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.GetPostsCalls = append(f.GetPostsCalls, append([]string(nil), uris...))
	if f.ErrGet != nil {
		return nil, f.ErrGet
	}
	var out []models.Post
	for _, u := range uris {
		if p, ok := f.PostsByURI[u]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *FakeSocial) Post(_ context.Context, text string, reply *models.ReplyRef) (models.StrongRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrAction != nil {
		return models.StrongRef{}, f.ErrAction
	}
	f.Posts = append(f.Posts, PostCall{Text: text, Reply: reply})
	return models.StrongRef{URI: fmt.Sprintf("at://did:plc:bot/app.bsky.feed.post/%d", len(f.Posts)), CID: "bafy-post"}, nil
}

func (f *FakeSocial) Like(_ context.Context, uri, cid string) (models.StrongRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrAction != nil {
		return models.StrongRef{}, f.ErrAction
	}
	f.Likes = append(f.Likes, models.StrongRef{URI: uri, CID: cid})
	return models.StrongRef{URI: fmt.Sprintf("at://did:plc:bot/app.bsky.feed.like/%d", len(f.Likes)), CID: "bafy-like"}, nil
}

func (f *FakeSocial) Repost(_ context.Context, uri, cid string) (models.StrongRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrAction != nil {
		return models.StrongRef{}, f.ErrAction
	}
	f.Reposts = append(f.Reposts, models.StrongRef{URI: uri, CID: cid})
	return models.StrongRef{URI: fmt.Sprintf("at://did:plc:bot/app.bsky.feed.repost/%d", len(f.Reposts)), CID: "bafy-repost"}, nil
}

func (f *FakeSocial) SendDirectMessage(_ context.Context, text, recipientDID string) (*models.DMSendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ErrDM != nil {
		return nil, f.ErrDM
	}
	f.DMsSent = append(f.DMsSent, DMCall{Text: text, Recipient: recipientDID})
	return &models.DMSendResult{ConvoID: "convo-1", MessageID: f.DMMessageID}, nil
}

func (f *FakeSocial) FetchDirectMessages(_ context.Context, since string) (*models.DMFetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.DMFetchSince = append(f.DMFetchSince, since)
	if f.ErrDM != nil {
		return &models.DMFetchResult{Success: false, Error: f.ErrDM.Error()}, f.ErrDM
	}
	if f.DMResult == nil {
		return &models.DMFetchResult{Success: true}, nil
	}
	return f.DMResult, nil
}

// ContactCall records one contact upsert.
type ContactCall struct {
	ExternalID  string
	DisplayName string
	Handle      string
}

// FakeContactCenter is an in-memory Genesys Cloud collaborator.
type FakeContactCenter struct {
	mu sync.Mutex

	// Correlate, when set, decides which submitted message ids get an entity back.
	// The default correlates every message as "conv-<n>".
	Correlate func(messageID string, index int) (string, bool)

	ErrIngest  error
	ErrReceipt error
	// ErrContact fails contact upserts for the listed external ids.
	ErrContact map[string]error

	Batches  [][]models.IngestMessage
	Receipts []models.DeliveryOutcome
	Contacts []ContactCall
	// Ops records contact and ingest calls in order ("contact:<id>", "ingest").
	Ops []string
}

func NewFakeContactCenter() *FakeContactCenter {
	return &FakeContactCenter{ErrContact: map[string]error{}}
}

func (f *FakeContactCenter) IngestMessages(_ context.Context, batch []models.IngestMessage) (*models.IngestResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, "ingest")
	f.Batches = append(f.Batches, batch)
	if f.ErrIngest != nil {
		return nil, f.ErrIngest
	}
	res := &models.IngestResult{}
	for i, m := range batch {
		id, ok := fmt.Sprintf("conv-%d", i+1), true
		if f.Correlate != nil {
			id, ok = f.Correlate(m.Channel.MessageID, i)
		}
		if !ok {
			continue
		}
		res.Entities = append(res.Entities, models.IngestEntity{ID: id, Channel: &models.Channel{MessageID: m.Channel.MessageID}})
	}
	return res, nil
}

func (f *FakeContactCenter) SendDeliveryReceipt(_ context.Context, outcome models.DeliveryOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Receipts = append(f.Receipts, outcome)
	return f.ErrReceipt
}

func (f *FakeContactCenter) CreateOrUpdateExternalContact(_ context.Context, externalID, displayName, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Ops = append(f.Ops, "contact:"+externalID)
	f.Contacts = append(f.Contacts, ContactCall{ExternalID: externalID, DisplayName: displayName, Handle: handle})
	return f.ErrContact[externalID]
}

// IngestedCount returns the total number of messages submitted across batches.
func (f *FakeContactCenter) IngestedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.Batches {
		n += len(b)
	}
	return n
}
