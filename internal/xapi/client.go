// Package xapi finds posts on X through the v2 recent search endpoint.
package xapi

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openclapp/openclapp/internal/verify"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// DefaultBaseURL is the public X API host.
const DefaultBaseURL = "https://api.x.com"

const maxBody = 1 << 20

// Client implements verify.PostFinder.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
	Log     logrus.FieldLogger
}

// New creates a client. An empty token yields a client whose lookups fail
// with verify.ErrFinderUnavailable.
func New(baseURL, token string, timeout time.Duration, log logrus.FieldLogger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: timeout},
		Log:     log,
	}
}

var _ verify.PostFinder = (*Client)(nil)

// FindPost searches recent posts from handle published at or after since
// and returns the first whose text contains text.
func (c *Client) FindPost(ctx context.Context, handle, text string, since time.Time) (*verify.Post, error) {
	if c.Token == "" {
		return nil, fmt.Errorf("%w: no X API bearer token configured", verify.ErrFinderUnavailable)
	}

	q := url.Values{}
	q.Set("query", "from:"+handle)
	q.Set("max_results", "100")
	q.Set("tweet.fields", "created_at")
	q.Set("start_time", since.UTC().Truncate(time.Second).Format(time.RFC3339))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/2/tweets/search/recent?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verify.ErrFinderUnavailable, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", verify.ErrFinderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", verify.ErrFinderUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		detail := gjson.GetBytes(body, "detail").String()
		if detail == "" {
			detail = gjson.GetBytes(body, "title").String()
		}
		c.Log.WithFields(logrus.Fields{"status": resp.StatusCode, "handle": handle}).Warn("x api search failed")
		return nil, fmt.Errorf("%w: x api status %d %s", verify.ErrFinderUnavailable, resp.StatusCode, detail)
	}

	return match(body, handle, text, since)
}

// match scans a search response for a post containing text.
func match(body []byte, handle, text string, since time.Time) (*verify.Post, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: malformed x api response", verify.ErrFinderUnavailable)
	}

	var found *verify.Post
	gjson.GetBytes(body, "data").ForEach(func(_, tweet gjson.Result) bool {
		created, err := time.Parse(time.RFC3339, tweet.Get("created_at").String())
		if err == nil && created.Before(since.Truncate(time.Second)) {
			return true
		}
		// The API returns entity-escaped text (&amp; &quot; ...).
		content := html.UnescapeString(tweet.Get("text").String())
		if !strings.Contains(content, text) {
			return true
		}
		id := tweet.Get("id").String()
		found = &verify.Post{
			ID:        id,
			URL:       "https://x.com/" + handle + "/status/" + id,
			Text:      content,
			CreatedAt: created,
		}
		return false
	})
	if found == nil {
		return nil, verify.ErrPostNotFound
	}
	return found, nil
}
