package sdk

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/openclapp/openclapp/pkg/schema"
)

var (
	// ErrNotFound matches an APIError with status 404.
	ErrNotFound = errors.New("not found")
	// ErrUnauthorized matches an APIError with status 401.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited matches an APIError with status 429.
	ErrRateLimited = errors.New("rate limited")
)

// APIError is a non-2xx response from the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openclapp: %d %s", e.Status, e.Message)
}

// Is lets callers test an APIError against the status sentinels.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	}
	return false
}

// --- Functional Interfaces (Interface Segregation) ---

// Clapper changes agent state.
type Clapper interface {
	Register(ctx context.Context, name, xHandle string) (*schema.RegisterResponse, error)
	SetClapping(ctx context.Context, agentID string, clapping bool) (*schema.ClapResponse, error)
	Heartbeat(ctx context.Context, agentID string, clapping *bool) (*schema.ClapResponse, error)
}

// StatsReader reads aggregate percentages.
type StatsReader interface {
	CurrentStats(ctx context.Context) (*schema.Stats, error)
	History(ctx context.Context, rng string) (*schema.History, error)
}

// Directory browses agents and the event feed.
type Directory interface {
	ListAgents(ctx context.Context, q ListQuery) (*schema.AgentPage, error)
	GetAgent(ctx context.Context, id string) (*schema.Agent, error)
	GetAgentByName(ctx context.Context, name string) (*schema.Agent, error)
	Events(ctx context.Context, limit int) ([]schema.Event, error)
}

// Verifier drives the X handle challenge.
type Verifier interface {
	StartVerification(ctx context.Context, agentID, xHandle string) (*schema.VerifyStartResponse, error)
	CheckVerification(ctx context.Context, challengeID string) (*schema.VerifyCheckResponse, error)
}

// Admin runs the bulk wipes. Requests carry the client's admin secret.
type Admin interface {
	WipeAgents(ctx context.Context) (*schema.WipeResponse, error)
	WipeUnverifiedAgents(ctx context.Context) (*schema.WipeResponse, error)
	WipeEvents(ctx context.Context) (*schema.WipeResponse, error)
}

// --- Composite Interfaces ---

// OpenClapp combines every operation of the daemon.
type OpenClapp interface {
	Clapper
	StatsReader
	Directory
	Verifier
	Admin

	// Agent returns a scope pinned to one agent id.
	Agent(agentID string) AgentScope
}

// AgentScope is a client that remembers its agent id.
type AgentScope interface {
	Clap(ctx context.Context, clapping bool) (*schema.ClapResponse, error)
	Heartbeat(ctx context.Context) (*schema.ClapResponse, error)
	Get(ctx context.Context) (*schema.Agent, error)
}

// ListQuery selects a page of agents. Zero values use the daemon defaults.
type ListQuery struct {
	Sort         string
	Page         int
	PageSize     int
	VerifiedOnly bool
}
