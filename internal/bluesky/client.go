// Package bluesky is the Bluesky collaborator: an XRPC client for the bot
// account covering notifications, search, posting, reactions and chat.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/util"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultService is the PDS used when none is configured.
	DefaultService = "https://bsky.social"
	// DefaultTimeout bounds each XRPC request.
	DefaultTimeout = 20 * time.Second
	// sessionRefreshMargin is how close to expiry the access token is refreshed.
	sessionRefreshMargin = 60 * time.Second
)

// SessionCache persists the session between restarts so the account does not
// hit the login rate limit.
type SessionCache interface {
	GetSession(ctx context.Context) (string, error)
	SaveSession(ctx context.Context, value string) error
}

// Opts holds configuration options for the Bluesky client.
type Opts struct {
	Service     string
	Handle      string
	AppPassword string
	HTTPClient  *http.Client
	DMTimeout   time.Duration
	Sessions    SessionCache
}

// Option defines a configuration option for the Bluesky client.
type Option func(*Opts)

func WithService(service string) Option {
	return func(o *Opts) { o.Service = service }
}

// WithCredentials sets the bot handle and app password.
func WithCredentials(handle, appPassword string) Option {
	return func(o *Opts) {
		o.Handle = handle
		o.AppPassword = appPassword
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithDMTimeout bounds each chat fetch or send as a whole.
func WithDMTimeout(d time.Duration) Option {
	return func(o *Opts) { o.DMTimeout = d }
}

// WithSessionCache enables session reuse across restarts.
func WithSessionCache(c SessionCache) Option {
	return func(o *Opts) { o.Sessions = c }
}

type session struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	Handle     string `json:"handle"`
	DID        string `json:"did"`
}

// Client is an authenticated XRPC client for one account.
type Client struct {
	service    string
	identifier string
	password   string
	httpClient *http.Client
	dmTimeout  time.Duration
	sessions   SessionCache
	now        func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	sess *session
	// rejected is the last access token the server refused.
	rejected string
}

// NormalizeHandle appends the default domain to bare usernames.
func NormalizeHandle(handle string) string {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" || strings.Contains(handle, ".") {
		return handle
	}
	return handle + ".bsky.social"
}

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Bluesky client config loaded",
		"service", cfg.Service,
		"Handle_set", cfg.Handle != "",
		"AppPassword_set", cfg.AppPassword != "")

	if cfg.Handle == "" || cfg.AppPassword == "" {
		return nil, fmt.Errorf("bluesky handle and app password must be provided")
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.DMTimeout <= 0 {
		cfg.DMTimeout = DefaultDMTimeout
	}
	return &Client{
		service:    strings.TrimRight(cfg.Service, "/"),
		identifier: NormalizeHandle(cfg.Handle),
		password:   cfg.AppPassword,
		httpClient: cfg.HTTPClient,
		dmTimeout:  cfg.DMTimeout,
		sessions:   cfg.Sessions,
		now:        time.Now,
	}, nil
}

// Login establishes a session, reusing a cached one when possible.
func (c *Client) Login(ctx context.Context) error {
	_, err := c.ensureSession(ctx)
	return err
}

// DID returns the bot account DID, or "" before the first login.
func (c *Client) DID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.DID
}

func (c *Client) current() *session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sess
}

func (c *Client) setSession(ctx context.Context, s *session) {
	c.mu.Lock()
	c.sess = s
	c.mu.Unlock()
	if c.sessions == nil || s == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.sessions.SaveSession(ctx, string(raw)); err != nil {
		slog.Warn("Client.setSession: failed to cache session", "error", err)
	}
}

// ensureSession returns a session whose access token is not about to expire.
// Logins and refreshes are coalesced across goroutines.
func (c *Client) ensureSession(ctx context.Context) (*session, error) {
	if s := c.current(); s != nil && c.usable(s.AccessJwt) {
		return s, nil
	}
	v, err, _ := c.group.Do("session", func() (any, error) {
		s := c.current()
		if s == nil {
			s = c.loadCachedSession(ctx)
		}
		if s != nil && c.usable(s.AccessJwt) {
			c.mu.Lock()
			c.sess = s
			c.mu.Unlock()
			return s, nil
		}
		if s != nil && c.usable(s.RefreshJwt) {
			refreshed, err := c.refresh(ctx, s.RefreshJwt)
			if err == nil {
				c.setSession(ctx, refreshed)
				return refreshed, nil
			}
			if util.IsRateLimited(err) {
				return nil, err
			}
			slog.Warn("Client.ensureSession: refresh failed, logging in again", "error", err)
		}
		fresh, err := c.createSession(ctx)
		if err != nil {
			return nil, err
		}
		c.setSession(ctx, fresh)
		slog.Info("Successfully logged into Bluesky", "handle", fresh.Handle, "did", fresh.DID)
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*session), nil
}

func (c *Client) loadCachedSession(ctx context.Context) *session {
	if c.sessions == nil {
		return nil
	}
	raw, err := c.sessions.GetSession(ctx)
	if err != nil {
		slog.Warn("Client.loadCachedSession: cache read failed", "error", err)
		return nil
	}
	if raw == "" {
		return nil
	}
	var s session
	if err := json.Unmarshal([]byte(raw), &s); err != nil || s.AccessJwt == "" || s.DID == "" {
		slog.Warn("Client.loadCachedSession: ignoring malformed cached session")
		return nil
	}
	c.mu.RLock()
	rejected := c.rejected
	c.mu.RUnlock()
	if s.AccessJwt == rejected {
		s.AccessJwt = ""
		return &s
	}
	slog.Debug("Client.loadCachedSession: restored cached session", "did", s.DID)
	return &s
}

// expiringSoon reports whether token expires within the refresh margin. Tokens
// without a readable exp claim are treated as valid until the server rejects them.
func (c *Client) expiringSoon(token string) bool {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Time.Sub(c.now()) < sessionRefreshMargin
}

func (c *Client) usable(token string) bool {
	return token != "" && !c.expiringSoon(token)
}

func (c *Client) invalidate(stale *session) {
	c.mu.Lock()
	if c.sess == stale {
		c.sess = nil
	}
	c.rejected = stale.AccessJwt
	c.mu.Unlock()
}

func (c *Client) createSession(ctx context.Context) (*session, error) {
	var s session
	in := map[string]string{"identifier": c.identifier, "password": c.password}
	if err := c.send(ctx, "create session", http.MethodPost, "com.atproto.server.createSession", nil, in, &s, "", nil); err != nil {
		if util.IsUnauthorized(err) {
			return nil, fmt.Errorf("invalid bluesky credentials for %s (handle should look like 'username.bsky.social'): %w", c.identifier, err)
		}
		return nil, err
	}
	return &s, nil
}

func (c *Client) refresh(ctx context.Context, refreshJwt string) (*session, error) {
	var s session
	if err := c.send(ctx, "refresh session", http.MethodPost, "com.atproto.server.refreshSession", nil, nil, &s, refreshJwt, nil); err != nil {
		return nil, err
	}
	return &s, nil
}

// call performs an authenticated XRPC request. A rejected access token triggers
// one retry with a fresh session.
func (c *Client) call(ctx context.Context, op, method, nsid string, query url.Values, in, out any, headers http.Header) error {
	for attempt := 0; ; attempt++ {
		s, err := c.ensureSession(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		err = c.send(ctx, op, method, nsid, query, in, out, s.AccessJwt, headers)
		if err == nil || attempt > 0 || !isAuthError(err) {
			return err
		}
		slog.Warn("Client.call: session rejected, re-authenticating", "op", op)
		c.invalidate(s)
	}
}

type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func isAuthError(err error) bool {
	if util.IsUnauthorized(err) {
		return true
	}
	var apiErr *util.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	var body xrpcError
	if json.Unmarshal([]byte(apiErr.Body), &body) != nil {
		return false
	}
	return body.Error == "ExpiredToken" || body.Error == "InvalidToken" || body.Error == "AuthenticationRequired"
}

// send performs one XRPC request with an optional bearer token.
func (c *Client) send(ctx context.Context, op, method, nsid string, query url.Values, in, out any, bearer string, headers http.Header) error {
	endpoint := c.service + "/xrpc/" + nsid
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body *bytes.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	for k, vs := range headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return util.NewAPIError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
