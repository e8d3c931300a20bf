// Package sdk is the Go client for the OpenClapp HTTP API.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultRetries is the number of attempts for retryable calls.
	DefaultRetries = 3
	// AdminSecretHeader carries the admin secret.
	AdminSecretHeader = "X-Admin-Secret"
)

// Client talks to a remote daemon. It implements OpenClapp.
type Client struct {
	baseURL string

	HTTP        *http.Client
	AdminSecret string
	Retries     int
	Log         logrus.FieldLogger
}

var _ OpenClapp = (*Client)(nil)

// NewClient returns a client for baseURL without contacting it.
func NewClient(baseURL string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return &Client{
		baseURL: strings.TrimRight(u.String(), "/"),
		HTTP:    &http.Client{Timeout: 30 * time.Second},
		Retries: DefaultRetries,
		Log:     logrus.StandardLogger(),
	}, nil
}

// Connect returns a client after checking the daemon answers /healthz.
func Connect(ctx context.Context, baseURL string) (*Client, error) {
	c, err := NewClient(baseURL)
	if err != nil {
		return nil, err
	}
	if _, err := c.Health(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// call sends one request and decodes the JSON reply into T. When retry is
// set, transport errors and 5xx answers are retried with a linear backoff.
func call[T any](ctx context.Context, c *Client, method, path string, body any, retry bool) (*T, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
	}

	attempts := 1
	if retry && c.Retries > 1 {
		attempts = c.Retries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(i*200) * time.Millisecond):
			}
		}

		out, again, err := c.once(ctx, method, path, payload)
		if err == nil {
			var v T
			if err := json.Unmarshal(out, &v); err != nil {
				return nil, fmt.Errorf("decode response: %w", err)
			}
			return &v, nil
		}
		lastErr = err
		if !again {
			return nil, err
		}
		c.Log.WithError(err).WithFields(logrus.Fields{"attempt": i + 1, "path": path}).Warn("openclapp request failed")
	}
	return nil, fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

// once reports whether the failure is worth retrying.
func (c *Client) once(ctx context.Context, method, path string, payload []byte) ([]byte, bool, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return nil, false, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.AdminSecret != "" && strings.HasPrefix(path, "/admin/") {
		req.Header.Set(AdminSecretHeader, c.AdminSecret)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, ctx.Err() == nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, err
	}
	if resp.StatusCode/100 != 2 {
		var e schema.ErrorResponse
		msg := http.StatusText(resp.StatusCode)
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			msg = e.Error
		}
		return nil, resp.StatusCode >= 500, &APIError{Status: resp.StatusCode, Message: msg}
	}
	return data, false, nil
}

func (c *Client) Health(ctx context.Context) (*schema.Health, error) {
	return call[schema.Health](ctx, c, http.MethodGet, "/healthz", nil, true)
}

// Register is not retried so a lost reply cannot register twice.
func (c *Client) Register(ctx context.Context, name, xHandle string) (*schema.RegisterResponse, error) {
	return call[schema.RegisterResponse](ctx, c, http.MethodPost, "/agents/register",
		schema.RegisterRequest{Name: name, XHandle: xHandle}, false)
}

func (c *Client) SetClapping(ctx context.Context, agentID string, clapping bool) (*schema.ClapResponse, error) {
	return call[schema.ClapResponse](ctx, c, http.MethodPost, "/agents/clap",
		schema.ClapRequest{AgentID: agentID, Clapping: &clapping}, true)
}

func (c *Client) Heartbeat(ctx context.Context, agentID string, clapping *bool) (*schema.ClapResponse, error) {
	return call[schema.ClapResponse](ctx, c, http.MethodPost, "/agents/heartbeat",
		schema.HeartbeatRequest{AgentID: agentID, Clapping: clapping}, true)
}

func (c *Client) CurrentStats(ctx context.Context) (*schema.Stats, error) {
	return call[schema.Stats](ctx, c, http.MethodGet, "/stats/current", nil, true)
}

func (c *Client) History(ctx context.Context, rng string) (*schema.History, error) {
	q := url.Values{}
	if rng != "" {
		q.Set("range", rng)
	}
	return call[schema.History](ctx, c, http.MethodGet, withQuery("/stats/history", q), nil, true)
}

func (c *Client) ListAgents(ctx context.Context, lq ListQuery) (*schema.AgentPage, error) {
	q := url.Values{}
	if lq.Sort != "" {
		q.Set("sort", lq.Sort)
	}
	if lq.Page > 0 {
		q.Set("page", strconv.Itoa(lq.Page))
	}
	if lq.PageSize > 0 {
		q.Set("pageSize", strconv.Itoa(lq.PageSize))
	}
	if lq.VerifiedOnly {
		q.Set("verifiedOnly", "true")
	}
	return call[schema.AgentPage](ctx, c, http.MethodGet, withQuery("/agents", q), nil, true)
}

func (c *Client) GetAgent(ctx context.Context, id string) (*schema.Agent, error) {
	return c.agent(ctx, url.Values{"id": {id}})
}

func (c *Client) GetAgentByName(ctx context.Context, name string) (*schema.Agent, error) {
	return c.agent(ctx, url.Values{"name": {name}})
}

func (c *Client) agent(ctx context.Context, q url.Values) (*schema.Agent, error) {
	res, err := call[schema.AgentResponse](ctx, c, http.MethodGet, withQuery("/agent", q), nil, true)
	if err != nil {
		return nil, err
	}
	return &res.Agent, nil
}

func (c *Client) Events(ctx context.Context, limit int) ([]schema.Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	res, err := call[schema.EventList](ctx, c, http.MethodGet, withQuery("/events", q), nil, true)
	if err != nil {
		return nil, err
	}
	return res.Events, nil
}

func (c *Client) StartVerification(ctx context.Context, agentID, xHandle string) (*schema.VerifyStartResponse, error) {
	return call[schema.VerifyStartResponse](ctx, c, http.MethodPost, "/verifications/x/start",
		schema.VerifyStartRequest{AgentID: agentID, XHandle: xHandle}, false)
}

func (c *Client) CheckVerification(ctx context.Context, challengeID string) (*schema.VerifyCheckResponse, error) {
	return call[schema.VerifyCheckResponse](ctx, c, http.MethodPost, "/verifications/x/check",
		schema.VerifyCheckRequest{ChallengeID: challengeID}, false)
}

func (c *Client) WipeAgents(ctx context.Context) (*schema.WipeResponse, error) {
	return c.wipe(ctx, "/admin/agents/wipe", schema.ConfirmWipeAgents)
}

func (c *Client) WipeUnverifiedAgents(ctx context.Context) (*schema.WipeResponse, error) {
	return c.wipe(ctx, "/admin/agents/wipe-unverified", schema.ConfirmWipeUnverifiedAgents)
}

func (c *Client) WipeEvents(ctx context.Context) (*schema.WipeResponse, error) {
	return c.wipe(ctx, "/admin/events/wipe", schema.ConfirmWipeEvents)
}

func (c *Client) wipe(ctx context.Context, path, confirm string) (*schema.WipeResponse, error) {
	return call[schema.WipeResponse](ctx, c, http.MethodPost, path, schema.WipeRequest{Confirm: confirm}, false)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}

// --- Agent Scope ---

// Agent returns a scoped client for agentID.
func (c *Client) Agent(agentID string) AgentScope {
	return &RemoteAgentScope{client: c, agentID: agentID}
}

// RemoteAgentScope remembers its agent id.
type RemoteAgentScope struct {
	client  *Client
	agentID string
}

func (a *RemoteAgentScope) Clap(ctx context.Context, clapping bool) (*schema.ClapResponse, error) {
	return a.client.SetClapping(ctx, a.agentID, clapping)
}

func (a *RemoteAgentScope) Heartbeat(ctx context.Context) (*schema.ClapResponse, error) {
	return a.client.Heartbeat(ctx, a.agentID, nil)
}

func (a *RemoteAgentScope) Get(ctx context.Context) (*schema.Agent, error) {
	return a.client.GetAgent(ctx, a.agentID)
}
