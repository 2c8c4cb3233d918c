package reddit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finbert-ci/collector/pkg/reporting"
)

const tokenJSON = `{"access_token":"test-token","token_type":"bearer","expires_in":3600}`

// newTestClient spins up a fake API and returns a client bound to it.
func newTestClient(t *testing.T, listingHandler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "id" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, tokenJSON)
	})
	if listingHandler != nil {
		mux.HandleFunc("/r/", listingHandler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client, err := New(context.Background(), Config{
		ClientID:     "id",
		ClientSecret: "secret",
		UserAgent:    "test-agent",
		AuthURL:      srv.URL,
		APIURL:       srv.URL,
	}, reporting.Nop())
	require.NoError(t, err)
	return client
}

func TestAuthenticateSuccess(t *testing.T) {
	client := newTestClient(t, nil)
	assert.Equal(t, "test-token", client.token)
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New(context.Background(), Config{
		ClientID:     "bad",
		ClientSecret: "creds",
		AuthURL:      srv.URL,
		APIURL:       srv.URL,
	}, reporting.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestAuthenticateSoftRejection(t *testing.T) {
	// Reddit reports bad grants with 200 plus an error field.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":"invalid_grant"}`)
	}))
	defer srv.Close()

	_, err := New(context.Background(), Config{
		ClientID:     "id",
		ClientSecret: "secret",
		AuthURL:      srv.URL,
		APIURL:       srv.URL,
	}, reporting.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAuth)
}

func TestFetchNormalizesSubmissions(t *testing.T) {
	listing := `{
		"data": {"children": [
			{"data": {"id": "abc", "subreddit": "Bitcoin", "title": "BTC up",
				"selftext": "to the moon", "score": 42, "num_comments": 7,
				"created_utc": 1700000000.5, "url": "https://example.com/x"}},
			{"data": {"id": "def", "title": "no optional fields",
				"permalink": "/r/Bitcoin/comments/def/"}}
		]}
	}`
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		fmt.Fprint(w, listing)
	})

	subs, err := client.Fetch(context.Background(), "Bitcoin", 100)
	require.NoError(t, err)
	require.Len(t, subs, 2)

	assert.Equal(t, Submission{
		ID:          "abc",
		Subreddit:   "Bitcoin",
		Title:       "BTC up",
		Content:     "to the moon",
		Score:       42,
		NumComments: 7,
		CreatedUTC:  1700000000, // fractional timestamp floored
		URL:         "https://example.com/x",
	}, subs[0])

	// Missing fields default; permalink becomes the URL.
	assert.Equal(t, "Bitcoin", subs[1].Subreddit)
	assert.Equal(t, "", subs[1].Content)
	assert.Equal(t, int64(0), subs[1].Score)
	assert.Equal(t, "https://www.reddit.com/r/Bitcoin/comments/def/", subs[1].URL)
}

func TestFetchStatusMapping(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrAuth},
		{"forbidden", http.StatusForbidden, ErrAuth},
		{"server error", http.StatusInternalServerError, ErrTransient},
		{"bad gateway", http.StatusBadGateway, ErrTransient},
		{"not found", http.StatusNotFound, ErrFatal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			})

			_, err := client.Fetch(context.Background(), "Bitcoin", 10)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFetchRateLimited(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), "Bitcoin", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimit)

	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, 12*time.Second, rl.RetryAfter)
}

func TestFetchRateLimitedWithoutHeader(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Fetch(context.Background(), "Bitcoin", 10)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, time.Duration(0), rl.RetryAfter)
}

func TestFetchMalformedListing(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "not json at all")
	})

	_, err := client.Fetch(context.Background(), "Bitcoin", 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
}

func TestPaceEnforcesInterval(t *testing.T) {
	calls := make([]time.Time, 0, 2)
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, time.Now())
		fmt.Fprint(w, `{"data":{"children":[]}}`)
	})
	client.cfg.MinRequestInterval = 50 * time.Millisecond

	_, err := client.Fetch(context.Background(), "Bitcoin", 10)
	require.NoError(t, err)
	_, err = client.Fetch(context.Background(), "ethereum", 10)
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), 40*time.Millisecond)
}
