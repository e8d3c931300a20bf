// Package store persists agents, clap events and verification challenges.
package store

import (
	"context"
	"errors"
)

var (
	// ErrAgentNotFound is returned when a requested agent does not exist.
	ErrAgentNotFound = errors.New("agent not found")
	// ErrNameTaken is returned when registering a name already in use.
	ErrNameTaken = errors.New("name already taken")
	// ErrChallengeNotFound is returned when a requested challenge does not exist.
	ErrChallengeNotFound = errors.New("challenge not found")
	// ErrChallengeCompleted is returned when completing a challenge twice.
	ErrChallengeCompleted = errors.New("challenge already completed")
	// ErrChallengeExpired is returned when completing a challenge past its expiry.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrHandleTaken is returned when a handle is verified-owned by another agent.
	ErrHandleTaken = errors.New("handle already verified by another agent")
)

// MutateFunc edits an agent in place inside a transaction. A non-nil event is
// appended in the same transaction; an error aborts without writing.
type MutateFunc func(a *Agent) (*Event, error)

// Store is the persistence contract shared by the memory and SQL backends.
type Store interface {
	AgentStore
	EventLog
	ChallengeStore
	Admin

	Close() error
}

// AgentStore holds one record per registered agent.
type AgentStore interface {
	// CreateAgent inserts a new agent. Names are unique case-insensitively.
	CreateAgent(ctx context.Context, a *Agent) error
	GetAgent(ctx context.Context, id string) (*Agent, error)
	GetAgentByName(ctx context.Context, name string) (*Agent, error)
	// ListAgents returns agents ordered by creation time.
	ListAgents(ctx context.Context, verifiedOnly bool) ([]Agent, error)
	// Mutate is an atomic read-modify-write of one agent.
	Mutate(ctx context.Context, id string, fn MutateFunc) (*Agent, *Event, error)
	// VerifiedOwner returns the verified agent bound to handle.
	VerifiedOwner(ctx context.Context, handle string) (*Agent, error)
}

// EventLog is the append-only clap transition log.
type EventLog interface {
	// ListEvents returns up to limit events, newest first.
	ListEvents(ctx context.Context, limit int) ([]Event, error)
	// EventsSince returns every event at or after since, newest first.
	EventsSince(ctx context.Context, since int64) ([]Event, error)
}

// ChallengeStore holds verification challenges.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, id string) (*Challenge, error)
	// CompleteChallenge stamps the challenge completed and marks its agent
	// verified with the challenge handle, atomically. It re-checks that the
	// challenge is open at now and that no other agent owns the handle.
	CompleteChallenge(ctx context.Context, id, postURL string, now int64) (*Agent, *Challenge, error)
}

// Admin holds the bulk operations.
type Admin interface {
	// DeleteAgents removes agents with their events and challenges.
	DeleteAgents(ctx context.Context, unverifiedOnly bool) (WipeResult, error)
	// DeleteEvents clears the event log.
	DeleteEvents(ctx context.Context) (int64, error)
	// Dump returns every record; events oldest first.
	Dump(ctx context.Context) (*Snapshot, error)
	// Restore inserts every record of snap.
	Restore(ctx context.Context, snap *Snapshot) error
}
