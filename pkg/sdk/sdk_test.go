package sdk_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/openclapp/openclapp/internal/api"
	"github.com/openclapp/openclapp/internal/config"
	"github.com/openclapp/openclapp/internal/server"
	"github.com/openclapp/openclapp/internal/service"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/internal/verify"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/openclapp/openclapp/pkg/sdk"
)

func startDaemon(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemStore(nil, nil)
	h := &api.Handler{
		Service: service.New(st, nil, nil),
		Verify:  verify.NewWorkflow(st, nil, nil),
	}
	cfg := config.Defaults()
	cfg.RateLimit.RequestsPerSecond = 0
	cfg.Admin.Secret = secret

	ts := httptest.NewServer(server.NewRouter(h, nil, cfg, nil).Handler())
	t.Cleanup(ts.Close)
	return ts
}

func TestClientRoundTrip(t *testing.T) {
	ts := startDaemon(t, "s3cret")
	ctx := context.Background()

	c, err := sdk.Connect(ctx, ts.URL)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	reg, err := c.Register(ctx, "Jeb", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	agent := c.Agent(reg.AgentID)
	res, err := agent.Clap(ctx, true)
	if err != nil || !res.Changed || !res.Clapping {
		t.Fatalf("Clap failed: %v %+v", err, res)
	}
	if res, err = agent.Heartbeat(ctx); err != nil || res.Changed {
		t.Errorf("Heartbeat should not change state: %v %+v", err, res)
	}

	got, err := agent.Get(ctx)
	if err != nil || !got.Clapping || got.Name != "Jeb" {
		t.Errorf("Unexpected agent %+v (%v)", got, err)
	}
	if byName, err := c.GetAgentByName(ctx, "jeb"); err != nil || byName.ID != reg.AgentID {
		t.Errorf("Lookup by name failed: %+v (%v)", byName, err)
	}

	stats, err := c.CurrentStats(ctx)
	if err != nil || stats.TotalAgents != 1 || stats.ClappingNow != 1 {
		t.Errorf("Unexpected stats %+v (%v)", stats, err)
	}
	if h, err := c.History(ctx, schema.RangeHour); err != nil || h.Range != schema.RangeHour {
		t.Errorf("Unexpected history %+v (%v)", h, err)
	}

	page, err := c.ListAgents(ctx, sdk.ListQuery{Sort: schema.SortHighestClap, PageSize: 10})
	if err != nil || page.Total != 1 {
		t.Errorf("Unexpected page %+v (%v)", page, err)
	}
	events, err := c.Events(ctx, 5)
	if err != nil || len(events) != 1 {
		t.Errorf("Expected one event, got %d (%v)", len(events), err)
	}

	start, err := c.StartVerification(ctx, reg.AgentID, "jeb")
	if err != nil || start.ChallengeID == "" {
		t.Errorf("StartVerification failed: %+v (%v)", start, err)
	}

	if _, err := c.WipeEvents(ctx); !errors.Is(err, sdk.ErrUnauthorized) {
		t.Errorf("Expected unauthorized without secret, got %v", err)
	}
	c.AdminSecret = "s3cret"
	wiped, err := c.WipeAgents(ctx)
	if err != nil || wiped.DeletedAgents != 1 {
		t.Errorf("Unexpected wipe %+v (%v)", wiped, err)
	}
}

func TestClientErrors(t *testing.T) {
	ts := startDaemon(t, "")
	c, err := sdk.NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	_, err = c.GetAgent(ctx, "ghost")
	if !errors.Is(err, sdk.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
	var apiErr *sdk.APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "agent not found" {
		t.Errorf("Expected APIError with server message, got %v", err)
	}

	if _, err := c.Register(ctx, "", ""); err == nil {
		t.Error("Expected error for empty name")
	}

	if _, err := sdk.NewClient("tcp://localhost:7001"); err == nil {
		t.Error("Expected error for unsupported scheme")
	}
}

func TestClientRetries(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"ok":true,"service":"openclapp"}`))
	}))
	defer ts.Close()

	c, err := sdk.NewClient(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	h, err := c.Health(context.Background())
	if err != nil || !h.OK {
		t.Fatalf("Expected success on third attempt, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("Expected 3 calls, got %d", calls.Load())
	}

	// Non-retryable calls give up after the first failure.
	calls.Store(0)
	if _, err := c.Register(context.Background(), "Jeb", ""); err == nil {
		t.Error("Expected register to fail")
	}
	if calls.Load() != 1 {
		t.Errorf("Register should not retry, got %d calls", calls.Load())
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("OPENCLAPP_URL", "https://clap.example:8443/")
	t.Setenv("OPENCLAPP_ADMIN_SECRET", "s3cret")
	t.Setenv("OPENCLAPP_INSECURE_TLS", "true")

	c, err := sdk.FromEnv()
	if err != nil {
		t.Fatal(err)
	}
	if c.AdminSecret != "s3cret" {
		t.Errorf("Expected admin secret from env, got %q", c.AdminSecret)
	}
	tr, ok := c.HTTP.Transport.(*http.Transport)
	if !ok || !tr.TLSClientConfig.InsecureSkipVerify {
		t.Error("Expected insecure TLS transport")
	}
}
