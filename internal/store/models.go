package store

import (
	"strings"

	"github.com/openclapp/openclapp/internal/clap"
)

// EventType is the kind of clap transition.
type EventType string

const (
	EventStarted EventType = "started"
	EventStopped EventType = "stopped"
)

// Agent is a registered participant.
type Agent struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	XHandle  string `json:"xHandle,omitempty"`
	Verified bool   `json:"verified"`
	clap.State
	UpdatedAt int64 `json:"updatedAt"`
}

// Event is an immutable clap transition.
type Event struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agentId"`
	AgentName string    `json:"agentName"`
	Type      EventType `json:"type"`
	At        int64     `json:"timestamp"`
}

// Challenge is a time-boxed proof of handle ownership.
type Challenge struct {
	ID          string `json:"id"`
	AgentID     string `json:"agentId"`
	Handle      string `json:"handle"`
	Text        string `json:"text"`
	CreatedAt   int64  `json:"createdAt"`
	ExpiresAt   int64  `json:"expiresAt"`
	CompletedAt *int64 `json:"completedAt,omitempty"`
	PostURL     string `json:"postUrl,omitempty"`
}

// Completed reports whether the challenge has been completed.
func (c *Challenge) Completed() bool {
	return c.CompletedAt != nil
}

// Expired reports whether the challenge is past its expiry at now.
func (c *Challenge) Expired(now int64) bool {
	return now > c.ExpiresAt
}

// checkOpen returns the reason c cannot be completed at now, if any.
func (c *Challenge) checkOpen(now int64) error {
	if c.Completed() {
		return ErrChallengeCompleted
	}
	if c.Expired(now) {
		return ErrChallengeExpired
	}
	return nil
}

// WipeResult counts the records removed by a bulk delete.
type WipeResult struct {
	Agents     int64 `json:"agents"`
	Events     int64 `json:"events"`
	Challenges int64 `json:"challenges"`
}

// Snapshot is a full copy of a store.
type Snapshot struct {
	Version    uint64      `json:"version"`
	Agents     []Agent     `json:"agents"`
	Events     []Event     `json:"events"`
	Challenges []Challenge `json:"challenges"`
}

// nameKey is the uniqueness key of an agent name.
func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
