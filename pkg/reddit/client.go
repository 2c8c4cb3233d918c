package reddit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/finbert-ci/collector/pkg/reporting"
)

const (
	defaultAuthURL = "https://www.reddit.com"
	defaultAPIURL  = "https://oauth.reddit.com"
)

// Config contains client credentials and tuning knobs.
type Config struct {
	ClientID     string
	ClientSecret string
	UserAgent    string

	// AuthURL and APIURL override the upstream endpoints (tests).
	AuthURL string
	APIURL  string

	// MinRequestInterval is the minimum delay between listing requests.
	// Zero disables pacing.
	MinRequestInterval time.Duration

	// RequestTimeout bounds every single HTTP call.
	RequestTimeout time.Duration
}

// Client is an authenticated read-only client for the listing API.
// It authenticates once at construction and does not retry internally;
// transient failures surface to the caller.
type Client struct {
	cfg         Config
	httpClient  *http.Client
	logger      *reporting.Logger
	token       string
	lastRequest time.Time
}

// New authenticates with the client-credentials grant and returns a ready
// client. A rejected credential pair fails with ErrAuth.
func New(ctx context.Context, cfg Config, logger *reporting.Logger) (*Client, error) {
	if cfg.AuthURL == "" {
		cfg.AuthURL = defaultAuthURL
	}
	if cfg.APIURL == "" {
		cfg.APIURL = defaultAPIURL
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		logger:     logger,
	}

	if err := c.authenticate(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// authenticate performs the OAuth2 client-credentials grant.
func (c *Client) authenticate(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	endpoint := c.cfg.AuthURL + "/api/v1/access_token"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: create token request: %v", ErrFatal, err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyNetErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: token endpoint returned %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 500:
		return fmt.Errorf("%w: token endpoint returned %d", ErrTransient, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: token endpoint returned %d", ErrFatal, resp.StatusCode)
	}

	var tok tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return fmt.Errorf("%w: decode token response: %v", ErrFatal, err)
	}
	// Reddit reports bad grants with 200 plus an error field.
	if tok.Error != "" || tok.AccessToken == "" {
		return fmt.Errorf("%w: token endpoint rejected grant (%s)", ErrAuth, tok.Error)
	}

	c.token = tok.AccessToken
	c.logger.Debug("authenticated with source API", "expires_in_s", int(tok.ExpiresIn))
	return nil
}

// Fetch reads the most recent limit submissions from the named community in
// a single listing call.
func (c *Client) Fetch(ctx context.Context, community string, limit int) ([]Submission, error) {
	if err := c.pace(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	endpoint := fmt.Sprintf("%s/r/%s/new.json?limit=%d&raw_json=1", c.cfg.APIURL, url.PathEscape(community), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create listing request: %v", ErrFatal, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.cfg.UserAgent)

	c.lastRequest = time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyNetErr(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: listing returned %d for r/%s", ErrAuth, resp.StatusCode, community)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"))}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: listing returned %d for r/%s", ErrTransient, resp.StatusCode, community)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: listing returned %d for r/%s", ErrFatal, resp.StatusCode, community)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyNetErr(err)
	}

	var l listing
	if err := json.Unmarshal(body, &l); err != nil {
		return nil, fmt.Errorf("%w: decode listing for r/%s: %v", ErrFatal, community, err)
	}

	subs := make([]Submission, 0, len(l.Data.Children))
	for _, child := range l.Data.Children {
		subs = append(subs, normalize(child.Data, community))
	}

	c.logger.Debug("fetched listing", "community", community, "count", len(subs))
	return subs, nil
}

// Close releases client resources.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// pace enforces the configured minimum inter-request delay.
func (c *Client) pace(ctx context.Context) error {
	if c.cfg.MinRequestInterval <= 0 || c.lastRequest.IsZero() {
		return nil
	}
	wait := c.cfg.MinRequestInterval - time.Since(c.lastRequest)
	if wait <= 0 {
		return nil
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// normalize maps a raw payload onto a Submission. Fractional timestamps are
// floored, missing numerics become 0 and missing text the empty string.
func normalize(p submissionPayload, community string) Submission {
	sub := p.Subreddit
	if sub == "" {
		sub = community
	}
	link := p.URL
	if link == "" && p.Permalink != "" {
		link = "https://www.reddit.com" + p.Permalink
	}
	return Submission{
		ID:          p.ID,
		Subreddit:   sub,
		Title:       p.Title,
		Content:     p.Selftext,
		Score:       int64(p.Score),
		NumComments: int64(p.NumComments),
		CreatedUTC:  int64(p.CreatedUTC),
		URL:         link,
	}
}

// classifyNetErr maps transport-level failures: timeouts and connection
// problems are transient, everything else is fatal.
func classifyNetErr(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%w: %v", ErrTransient, err)
	}
	return fmt.Errorf("%w: %v", ErrFatal, err)
}

// parseRetryAfter reads a Retry-After header value in seconds.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs * float64(time.Second))
}
