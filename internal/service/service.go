// Package service implements the OpenClapp operations on top of a store:
// registration, clap state writes, aggregate stats, history, listings and
// the admin wipes. Aggregates are recomputed from the store on every call.
package service

import (
	"context"
	"time"

	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// DefaultHistoryPoints bounds the length of a history series.
const DefaultHistoryPoints = 120

// ValidationError reports a malformed or missing request field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// Publisher receives every committed clap event.
type Publisher interface {
	Publish(ctx context.Context, e schema.Event)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, schema.Event) {}

// Service is safe for concurrent use; all state lives in the store.
type Service struct {
	store store.Store
	pub   Publisher
	log   logrus.FieldLogger

	Now              func() time.Time
	HistoryMaxPoints int
}

// New creates a service. pub may be nil.
func New(s store.Store, pub Publisher, log logrus.FieldLogger) *Service {
	if pub == nil {
		pub = nopPublisher{}
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:            s,
		pub:              pub,
		log:              log,
		Now:              time.Now,
		HistoryMaxPoints: DefaultHistoryPoints,
	}
}

func (s *Service) nowMs() int64 {
	return s.Now().UnixMilli()
}

// AgentView renders a stored agent with its clap percentage at now.
func AgentView(a store.Agent, now int64) schema.Agent {
	return schema.Agent{
		ID:                 a.ID,
		Name:               a.Name,
		XHandle:            a.XHandle,
		Verified:           a.Verified,
		Clapping:           a.Clapping,
		CumulativeClapMs:   a.CumulativeClapMs,
		LastStateChangedAt: a.LastStateChangedAt,
		LastHeartbeatAt:    a.LastHeartbeatAt,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
		ClapPct:            a.Percent(now),
	}
}

// EventView renders a stored event.
func EventView(e store.Event) schema.Event {
	return schema.Event{
		ID:        e.ID,
		AgentID:   e.AgentID,
		AgentName: e.AgentName,
		Type:      string(e.Type),
		Timestamp: e.At,
	}
}
