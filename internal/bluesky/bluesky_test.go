package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/models"
	"github.com/BTreeMap/SkyRelay/internal/util"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/go-cmp/cmp"
)

const botDID = "did:plc:bot"

func mintToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   botDID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
	}).SignedString([]byte("test-key"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return tok
}

type fakePDS struct {
	t          *testing.T
	accessTTL  time.Duration
	logins     atomic.Int32
	refreshes  atomic.Int32
	identifier atomic.Value

	mu       sync.Mutex
	calls    map[string]int
	bodies   map[string][]json.RawMessage
	queries  map[string][]string
	proxies  map[string]string
	handlers map[string]http.HandlerFunc
}

func newFakePDS(t *testing.T) *fakePDS {
	return &fakePDS{
		t:         t,
		accessTTL: time.Hour,
		calls:     map[string]int{},
		bodies:    map[string][]json.RawMessage{},
		queries:   map[string][]string{},
		proxies:   map[string]string{},
		handlers:  map[string]http.HandlerFunc{},
	}
}

func (f *fakePDS) session() map[string]string {
	return map[string]string{
		"accessJwt":  mintToken(f.t, f.accessTTL),
		"refreshJwt": mintToken(f.t, 24*time.Hour),
		"handle":     "bot.bsky.social",
		"did":        botDID,
	}
}

func (f *fakePDS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	nsid := strings.TrimPrefix(r.URL.Path, "/xrpc/")
	body, _ := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(body))

	switch nsid {
	case "com.atproto.server.createSession":
		f.logins.Add(1)
		var in map[string]string
		json.Unmarshal(body, &in)
		f.identifier.Store(in["identifier"])
		if in["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"AuthenticationRequired"}`))
			return
		}
		json.NewEncoder(w).Encode(f.session())
		return
	case "com.atproto.server.refreshSession":
		f.refreshes.Add(1)
		json.NewEncoder(w).Encode(f.session())
		return
	}

	if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	f.mu.Lock()
	f.calls[nsid]++
	if len(body) > 0 {
		f.bodies[nsid] = append(f.bodies[nsid], json.RawMessage(body))
	}
	f.queries[nsid] = append(f.queries[nsid], r.URL.RawQuery)
	f.proxies[nsid] = r.Header.Get("atproto-proxy")
	h := f.handlers[nsid]
	f.mu.Unlock()

	if h == nil {
		w.Write([]byte(`{}`))
		return
	}
	h(w, r)
}

func (f *fakePDS) callCount(nsid string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[nsid]
}

func newTestClient(t *testing.T, f *fakePDS, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewClient(append([]Option{WithService(srv.URL), WithCredentials("bot", "app-pass")}, opts...)...)
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

type memSessions struct {
	mu    sync.Mutex
	value string
	saves int
}

func (m *memSessions) GetSession(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.value, nil
}

func (m *memSessions) SaveSession(_ context.Context, v string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.value = v
	m.saves++
	return nil
}

func TestNormalizeHandle(t *testing.T) {
	tests := map[string]string{
		"alice":              "alice.bsky.social",
		"@alice":             "alice.bsky.social",
		"alice.bsky.social":  "alice.bsky.social",
		"support.example.io": "support.example.io",
		"":                   "",
	}
	for in, want := range tests {
		if got := NormalizeHandle(in); got != want {
			t.Errorf("NormalizeHandle(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	if _, err := NewClient(WithCredentials("bot", "")); err == nil {
		t.Error("expected error without app password")
	}
}

func TestLogin(t *testing.T) {
	f := newFakePDS(t)
	c := newTestClient(t, f)
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if c.DID() != botDID {
		t.Errorf("expected DID %s, got %s", botDID, c.DID())
	}
	if got := f.identifier.Load(); got != "bot.bsky.social" {
		t.Errorf("expected normalized identifier, got %v", got)
	}
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	if f.logins.Load() != 1 {
		t.Errorf("expected session reuse, got %d logins", f.logins.Load())
	}
}

func TestLogin_BadCredentials(t *testing.T) {
	f := newFakePDS(t)
	srv := httptest.NewServer(f)
	defer srv.Close()
	c, _ := NewClient(WithService(srv.URL), WithCredentials("bot", "wrong"))
	err := c.Login(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid bluesky credentials") {
		t.Errorf("expected credential error, got %v", err)
	}
}

func TestSessionRefreshNearExpiry(t *testing.T) {
	f := newFakePDS(t)
	f.accessTTL = 30 * time.Second
	c := newTestClient(t, f)
	ctx := context.Background()

	if _, err := c.ListNotifications(ctx, ""); err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	f.accessTTL = time.Hour
	if _, err := c.ListNotifications(ctx, ""); err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if f.refreshes.Load() < 1 {
		t.Error("expected refresh for a token expiring within the margin")
	}
	if f.logins.Load() != 1 {
		t.Errorf("expected one login, got %d", f.logins.Load())
	}
}

func TestConcurrentCallsShareLogin(t *testing.T) {
	f := newFakePDS(t)
	c := newTestClient(t, f)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetProfile(context.Background(), "alice.bsky.social")
		}()
	}
	wg.Wait()
	if n := f.logins.Load(); n != 1 {
		t.Errorf("expected one coalesced login, got %d", n)
	}
}

func TestReloginOnExpiredToken(t *testing.T) {
	f := newFakePDS(t)
	var rejected atomic.Bool
	f.handlers["app.bsky.notification.listNotifications"] = func(w http.ResponseWriter, r *http.Request) {
		if !rejected.Swap(true) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`))
			return
		}
		w.Write([]byte(`{"notifications":[{"uri":"at://u/1","cid":"c1","reason":"mention","author":{"did":"did:plc:u","handle":"u.bsky.social"},"indexedAt":"2025-01-01T00:00:00.000Z"}],"cursor":"next"}`))
	}
	c := newTestClient(t, f)

	page, err := c.ListNotifications(context.Background(), "")
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if f.logins.Load() != 2 {
		t.Errorf("expected re-login after rejected token, got %d logins", f.logins.Load())
	}
	if page.Cursor != "next" || len(page.Notifications) != 1 || page.Notifications[0].Reason != "mention" {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestSearchPosts(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["app.bsky.feed.searchPosts"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"posts":[{"uri":"at://u/9","cid":"c9","author":{"did":"did:plc:u","handle":"u.bsky.social","displayName":"U"},"record":{"text":"we love skyrelay","createdAt":"2025-01-01T00:00:00Z"},"indexedAt":"2025-01-01T00:00:01.000Z"}],"cursor":"s2"}`))
	}
	c := newTestClient(t, f)
	page, err := c.SearchPosts(context.Background(), "skyrelay", "s1")
	if err != nil {
		t.Fatalf("SearchPosts failed: %v", err)
	}
	if page.Cursor != "s2" || len(page.Posts) != 1 {
		t.Fatalf("unexpected page %+v", page)
	}
	p := page.Posts[0]
	if p.URI != "at://u/9" || p.Text != "we love skyrelay" || p.Author.DisplayName != "U" || p.IndexedAt.IsZero() {
		t.Errorf("unexpected post %+v", p)
	}
	q := f.queries["app.bsky.feed.searchPosts"][0]
	if !strings.Contains(q, "q=skyrelay") || !strings.Contains(q, "cursor=s1") {
		t.Errorf("unexpected query %q", q)
	}
}

func TestGetPostsChunks(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["app.bsky.feed.getPosts"] = func(w http.ResponseWriter, r *http.Request) {
		var posts []map[string]any
		for _, u := range r.URL.Query()["uris"] {
			posts = append(posts, map[string]any{"uri": u, "cid": "c", "author": map[string]string{"did": "did:x"}, "record": map[string]string{"text": "t"}})
		}
		json.NewEncoder(w).Encode(map[string]any{"posts": posts})
	}
	c := newTestClient(t, f)

	uris := make([]string, 30)
	for i := range uris {
		uris[i] = "at://x/" + string(rune('a'+i))
	}
	posts, err := c.GetPosts(context.Background(), uris)
	if err != nil {
		t.Fatalf("GetPosts failed: %v", err)
	}
	if len(posts) != 30 {
		t.Errorf("expected 30 posts, got %d", len(posts))
	}
	if n := f.callCount("app.bsky.feed.getPosts"); n != 2 {
		t.Errorf("expected 2 chunked calls, got %d", n)
	}
}

func TestPostReply(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["com.atproto.repo.createRecord"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"uri":"at://did:plc:bot/app.bsky.feed.post/new","cid":"cnew"}`))
	}
	c := newTestClient(t, f)

	ref, err := c.Post(context.Background(), "thanks!", &models.ReplyRef{
		Root:   models.StrongRef{URI: "at://r", CID: "cr"},
		Parent: models.StrongRef{URI: "at://p", CID: "cp"},
	})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if ref.URI != "at://did:plc:bot/app.bsky.feed.post/new" {
		t.Errorf("unexpected ref %+v", ref)
	}

	var req struct {
		Repo       string        `json:"repo"`
		Collection string        `json:"collection"`
		Record     newPostRecord `json:"record"`
	}
	json.Unmarshal(f.bodies["com.atproto.repo.createRecord"][0], &req)
	if req.Repo != botDID || req.Collection != CollectionPost || req.Record.Text != "thanks!" {
		t.Errorf("unexpected createRecord request %+v", req)
	}
	want := &replyRef{Root: strongRef{"at://r", "cr"}, Parent: strongRef{"at://p", "cp"}}
	if diff := cmp.Diff(want, req.Record.Reply); diff != "" {
		t.Errorf("reply mismatch (-want +got):\n%s", diff)
	}
}

func TestLikeAndRepost(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["com.atproto.repo.createRecord"] = func(w http.ResponseWriter, r *http.Request) {
		var req createRecordRequest
		json.NewDecoder(r.Body).Decode(&req)
		w.Write([]byte(`{"uri":"at://did:plc:bot/` + req.Collection + `/1","cid":"c"}`))
	}
	c := newTestClient(t, f)
	ctx := context.Background()

	like, err := c.Like(ctx, "at://p", "cp")
	if err != nil {
		t.Fatalf("Like failed: %v", err)
	}
	repost, err := c.Repost(ctx, "at://p", "cp")
	if err != nil {
		t.Fatalf("Repost failed: %v", err)
	}
	if !strings.Contains(like.URI, CollectionLike) || !strings.Contains(repost.URI, CollectionRepost) {
		t.Errorf("unexpected refs like=%+v repost=%+v", like, repost)
	}
	var rec struct {
		Record subjectRecord `json:"record"`
	}
	json.Unmarshal(f.bodies["com.atproto.repo.createRecord"][0], &rec)
	if rec.Record.Type != CollectionLike || rec.Record.Subject.URI != "at://p" || rec.Record.Subject.CID != "cp" {
		t.Errorf("unexpected like record %+v", rec.Record)
	}
}

func TestDecodeEmbed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *models.Embed
	}{
		{"none", ``, nil},
		{"images", `{"$type":"app.bsky.embed.images#view","images":[{"fullsize":"https://cdn/f.jpg","alt":"a cat"}]}`,
			&models.Embed{Kind: models.EmbedImages, Images: []models.EmbedImage{{Fullsize: "https://cdn/f.jpg", Alt: "a cat"}}}},
		{"external", `{"$type":"app.bsky.embed.external#view","external":{"uri":"https://e.x","title":"T","description":"D"}}`,
			&models.Embed{Kind: models.EmbedExternal, External: &models.EmbedLink{URI: "https://e.x", Title: "T", Description: "D"}}},
		{"quote", `{"$type":"app.bsky.embed.record#view","record":{"$type":"app.bsky.embed.record#viewRecord","author":{"handle":"q.bsky.social"},"value":{"text":"quoted"}}}`,
			&models.Embed{Kind: models.EmbedQuote, Quote: &models.EmbedQuotePost{AuthorHandle: "q.bsky.social", Text: "quoted"}}},
		{"deleted quote", `{"$type":"app.bsky.embed.record#view","record":{"$type":"app.bsky.embed.record#viewNotFound"}}`, nil},
		{"record with media", `{"$type":"app.bsky.embed.recordWithMedia#view","media":{"$type":"app.bsky.embed.images#view","images":[{"fullsize":"https://cdn/m.jpg"}]},"record":{"record":{"$type":"app.bsky.embed.record#viewRecord","author":{"handle":"q"},"value":{"text":"x"}}}}`,
			&models.Embed{Kind: models.EmbedImages, Images: []models.EmbedImage{{Fullsize: "https://cdn/m.jpg"}}}},
		{"unknown", `{"$type":"app.bsky.embed.video#view"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeEmbed(json.RawMessage(tt.raw))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("decodeEmbed mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPostViewReply(t *testing.T) {
	var v postView
	raw := `{"uri":"at://c","cid":"cc","author":{"did":"d"},"record":{"text":"r","reply":{"root":{"uri":"at://a","cid":"ca"},"parent":{"uri":"at://b","cid":"cb"}}}}`
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	p := v.toModel()
	if !p.IsReply() || p.Reply.Root.URI != "at://a" || p.Reply.Parent.CID != "cb" {
		t.Errorf("unexpected reply %+v", p.Reply)
	}
}

func TestFetchDirectMessages(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["chat.bsky.convo.listConvos"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"convos":[{"id":"convo-1","members":[{"did":"did:plc:bot","handle":"bot.bsky.social"},{"did":"did:plc:u","handle":"u.bsky.social","displayName":"Una"}]}]}`))
	}
	f.handlers["chat.bsky.convo.getMessages"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"messages":[
			{"$type":"chat.bsky.convo.defs#messageView","id":"m3","text":"newer","sender":{"did":"did:plc:u"},"sentAt":"2025-01-01T12:00:00.000Z"},
			{"$type":"chat.bsky.convo.defs#messageView","id":"m2","text":"from bot","sender":{"did":"did:plc:bot"},"sentAt":"2025-01-01T11:30:00.000Z"},
			{"$type":"chat.bsky.convo.defs#deletedMessageView","id":"mx","sender":{"did":"did:plc:u"},"sentAt":"2025-01-01T11:40:00.000Z"},
			{"$type":"chat.bsky.convo.defs#messageView","id":"m1","text":"older","sender":{"did":"did:plc:u"},"sentAt":"2025-01-01T10:00:00.000Z"}
		]}`))
	}
	c := newTestClient(t, f)

	res, err := c.FetchDirectMessages(context.Background(), "2025-01-01T11:00:00.000Z")
	if err != nil {
		t.Fatalf("FetchDirectMessages failed: %v", err)
	}
	if !res.Success || res.BotDID != botDID || res.TotalConversations != 1 || res.NewMessageCount != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	want := models.DirectMessage{
		ID: "m3", ConvoID: "convo-1", SenderDID: "did:plc:u", SenderHandle: "u.bsky.social", SenderDisplayName: "Una",
		Text: "newer", SentAt: "2025-01-01T12:00:00.000Z", ConversationMembers: []string{"did:plc:bot", "did:plc:u"},
	}
	if diff := cmp.Diff(want, res.Messages[0]); diff != "" {
		t.Errorf("message mismatch (-want +got):\n%s", diff)
	}
	if f.proxies["chat.bsky.convo.getMessages"] != chatProxy {
		t.Errorf("expected chat proxy header, got %q", f.proxies["chat.bsky.convo.getMessages"])
	}

	all, err := c.FetchDirectMessages(context.Background(), "")
	if err != nil {
		t.Fatalf("FetchDirectMessages failed: %v", err)
	}
	if all.NewMessageCount != 2 {
		t.Errorf("expected full history of 2 messages, got %d", all.NewMessageCount)
	}
}

func TestFetchDirectMessages_Failure(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["chat.bsky.convo.listConvos"] = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}
	c := newTestClient(t, f)
	res, err := c.FetchDirectMessages(context.Background(), "")
	if err == nil {
		t.Fatal("expected error")
	}
	if res == nil || res.Success || res.Error == "" {
		t.Errorf("expected failure result, got %+v", res)
	}
}

func TestFetchDirectMessages_Timeout(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["chat.bsky.convo.listConvos"] = func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}
	c := newTestClient(t, f, WithDMTimeout(50*time.Millisecond))
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	start := time.Now()
	if _, err := c.FetchDirectMessages(context.Background(), ""); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > time.Second {
		t.Error("expected fetch to be bounded by the dm timeout")
	}
}

func TestSendDirectMessage(t *testing.T) {
	f := newFakePDS(t)
	f.handlers["chat.bsky.convo.getConvoForMembers"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"convo":{"id":"convo-7"}}`))
	}
	f.handlers["chat.bsky.convo.sendMessage"] = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"msg-42","text":"hi","sender":{"did":"did:plc:bot"},"sentAt":"2025-02-02T00:00:00.000Z"}`))
	}
	c := newTestClient(t, f)

	res, err := c.SendDirectMessage(context.Background(), "hi", "did:abc")
	if err != nil {
		t.Fatalf("SendDirectMessage failed: %v", err)
	}
	if diff := cmp.Diff(&models.DMSendResult{ConvoID: "convo-7", MessageID: "msg-42", SentAt: "2025-02-02T00:00:00.000Z"}, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	q := f.queries["chat.bsky.convo.getConvoForMembers"][0]
	if !strings.Contains(q, "members=did%3Aabc") || !strings.Contains(q, "members=did%3Aplc%3Abot") {
		t.Errorf("unexpected members query %q", q)
	}
	var body sendMessageRequest
	json.Unmarshal(f.bodies["chat.bsky.convo.sendMessage"][0], &body)
	if body.ConvoID != "convo-7" || body.Message.Text != "hi" {
		t.Errorf("unexpected send body %+v", body)
	}

	if _, err := c.SendDirectMessage(context.Background(), "hi", ""); err == nil {
		t.Error("expected error for empty recipient")
	}
}

func TestSessionCacheReuse(t *testing.T) {
	f := newFakePDS(t)
	cache := &memSessions{}
	c := newTestClient(t, f, WithSessionCache(cache))
	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if cache.saves != 1 || cache.value == "" {
		t.Fatalf("expected session to be cached, saves=%d", cache.saves)
	}

	restarted := newTestClient(t, f, WithSessionCache(cache))
	if _, err := restarted.GetProfile(context.Background(), "bot.bsky.social"); err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if f.logins.Load() != 1 {
		t.Errorf("expected cached session to avoid a second login, got %d logins", f.logins.Load())
	}
	if restarted.DID() != botDID {
		t.Errorf("expected restored DID, got %q", restarted.DID())
	}
}

func TestIsAuthError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"401", &util.APIError{Op: "get", StatusCode: http.StatusUnauthorized}, true},
		{"wrapped 401", fmt.Errorf("fetch: %w", &util.APIError{Op: "get", StatusCode: http.StatusUnauthorized}), true},
		{"expired token body", &util.APIError{Op: "get", StatusCode: http.StatusBadRequest, Body: `{"error":"ExpiredToken"}`}, true},
		{"other 400", &util.APIError{Op: "get", StatusCode: http.StatusBadRequest, Body: `{"error":"InvalidRequest"}`}, false},
		{"rate limited", &util.APIError{Op: "get", StatusCode: http.StatusTooManyRequests}, false},
		{"plain error", fmt.Errorf("dial failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isAuthError(tt.err); got != tt.want {
				t.Errorf("isAuthError() = %v, want %v", got, tt.want)
			}
		})
	}
}
