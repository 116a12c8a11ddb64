// Package genesys is the Genesys Cloud collaborator: open-social ingestion,
// open messaging delivery receipts and external contacts.
package genesys

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/SkyRelay/internal/util"
)

// DefaultTimeout bounds each request to Genesys Cloud.
const DefaultTimeout = 20 * time.Second

// Opts holds configuration options for the Genesys Cloud client.
type Opts struct {
	Region        string
	ClientID      string
	ClientSecret  string
	TopicID       string
	RuleID        string
	IntegrationID string
	// APIBaseURL and LoginBaseURL override the region-derived hosts.
	APIBaseURL   string
	LoginBaseURL string
	HTTPClient   *http.Client
}

// Option defines a configuration option for the Genesys Cloud client.
type Option func(*Opts)

// WithRegion sets the Genesys Cloud region domain, e.g. "mypurecloud.com".
func WithRegion(region string) Option {
	return func(o *Opts) { o.Region = region }
}

// WithClientCredentials sets the OAuth client-credentials grant.
func WithClientCredentials(id, secret string) Option {
	return func(o *Opts) {
		o.ClientID = id
		o.ClientSecret = secret
	}
}

// WithIngestionRule sets the social topic and open data ingestion rule.
func WithIngestionRule(topicID, ruleID string) Option {
	return func(o *Opts) {
		o.TopicID = topicID
		o.RuleID = ruleID
	}
}

// WithIntegrationID sets the open messaging integration used for receipts.
func WithIntegrationID(id string) Option {
	return func(o *Opts) { o.IntegrationID = id }
}

// WithBaseURLs overrides the API and login hosts.
func WithBaseURLs(apiBaseURL, loginBaseURL string) Option {
	return func(o *Opts) {
		o.APIBaseURL = apiBaseURL
		o.LoginBaseURL = loginBaseURL
	}
}

func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// Client talks to the Genesys Cloud platform API.
type Client struct {
	apiBaseURL    string
	topicID       string
	ruleID        string
	integrationID string
	httpClient    *http.Client
	tokens        *tokenSource
}

func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Genesys client config loaded",
		"region", cfg.Region,
		"ClientID_set", cfg.ClientID != "",
		"ClientSecret_set", cfg.ClientSecret != "",
		"TopicID_set", cfg.TopicID != "",
		"RuleID_set", cfg.RuleID != "",
		"IntegrationID_set", cfg.IntegrationID != "")

	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, fmt.Errorf("genesys client id and secret must be provided")
	}
	if cfg.Region == "" && (cfg.APIBaseURL == "" || cfg.LoginBaseURL == "") {
		return nil, fmt.Errorf("genesys region must be provided")
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api." + cfg.Region
	}
	if cfg.LoginBaseURL == "" {
		cfg.LoginBaseURL = "https://login." + cfg.Region
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultTimeout}
	}

	return &Client{
		apiBaseURL:    strings.TrimRight(cfg.APIBaseURL, "/"),
		topicID:       cfg.TopicID,
		ruleID:        cfg.RuleID,
		integrationID: cfg.IntegrationID,
		httpClient:    cfg.HTTPClient,
		tokens:        newTokenSource(cfg.HTTPClient, strings.TrimRight(cfg.LoginBaseURL, "/"), cfg.ClientID, cfg.ClientSecret),
	}, nil
}

// do sends an authenticated JSON request and decodes a 2xx body into out when out is non-nil.
func (c *Client) do(ctx context.Context, op, method, path string, payload, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("%s: encode request: %w", op, err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.apiBaseURL+path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := util.NewAPIError(op, resp)
		if resp.StatusCode == http.StatusUnauthorized {
			c.tokens.Invalidate()
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
