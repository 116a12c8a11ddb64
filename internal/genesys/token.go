package genesys

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/util"
	"golang.org/x/sync/singleflight"
)

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 60 * time.Second

// tokenSource caches a client-credentials access token. Concurrent refreshes
// share one request.
type tokenSource struct {
	httpClient   *http.Client
	loginBaseURL string
	clientID     string
	clientSecret string
	now          func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

func newTokenSource(httpClient *http.Client, loginBaseURL, clientID, clientSecret string) *tokenSource {
	return &tokenSource{
		httpClient:   httpClient,
		loginBaseURL: loginBaseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		now:          time.Now,
	}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Token returns a valid access token, fetching a new one when needed.
func (s *tokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expires) {
		tok := s.token
		s.mu.Unlock()
		return tok, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.fetch(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Invalidate drops the cached token so the next call fetches a new one.
func (s *tokenSource) Invalidate() {
	s.mu.Lock()
	s.token = ""
	s.mu.Unlock()
}

func (s *tokenSource) fetch(ctx context.Context) (string, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.loginBaseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.SetBasicAuth(s.clientID, s.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("get genesys access token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", util.NewAPIError("get genesys access token", resp)
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return "", fmt.Errorf("access token was empty in response")
	}

	s.mu.Lock()
	s.token = tr.AccessToken
	s.expires = s.now().Add(time.Duration(tr.ExpiresIn)*time.Second - tokenRefreshMargin)
	s.mu.Unlock()
	slog.Info("Successfully retrieved Genesys Cloud access token", "expires_in", tr.ExpiresIn)
	return tr.AccessToken, nil
}
