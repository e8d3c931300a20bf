package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/openclapp/openclapp/internal/clap"
	"github.com/openclapp/openclapp/internal/metrics"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/internal/verify"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/sirupsen/logrus"
)

// MaxNameLength is the longest accepted agent name, in characters.
const MaxNameLength = 40

// Register creates an agent. The optional handle is normalized and stored
// unverified.
func (s *Service) Register(ctx context.Context, name, xHandle string) (*schema.Agent, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n == 0 || n > MaxNameLength {
		return nil, invalid("name", "name must be 1-40 characters")
	}

	var handle string
	if strings.TrimSpace(xHandle) != "" {
		h, err := verify.NormalizeHandle(xHandle)
		if err != nil {
			return nil, invalid("xHandle", err.Error())
		}
		handle = h
	}

	now := s.nowMs()
	a := &store.Agent{
		ID:        uuid.NewString(),
		Name:      name,
		XHandle:   handle,
		State:     clap.NewState(now),
		UpdatedAt: now,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"agent_id": a.ID, "name": a.Name}).Info("agent registered")
	view := AgentView(*a, now)
	return &view, nil
}

// SetClapping writes the clapping flag and reports whether it flipped.
func (s *Service) SetClapping(ctx context.Context, agentID string, clapping bool) (*schema.ClapResponse, error) {
	return s.write(ctx, agentID, &clapping)
}

// Heartbeat refreshes the agent's liveness. A non-nil clapping behaves like
// SetClapping.
func (s *Service) Heartbeat(ctx context.Context, agentID string, clapping *bool) (*schema.ClapResponse, error) {
	return s.write(ctx, agentID, clapping)
}

func (s *Service) write(ctx context.Context, agentID string, clapping *bool) (*schema.ClapResponse, error) {
	if strings.TrimSpace(agentID) == "" {
		return nil, invalid("agentId", "agentId is required")
	}

	now := s.nowMs()
	a, ev, err := s.store.Mutate(ctx, agentID, func(a *store.Agent) (*store.Event, error) {
		a.UpdatedAt = now
		if clapping == nil {
			a.Touch(now)
			return nil, nil
		}
		if !a.Set(*clapping, now) {
			return nil, nil
		}
		typ := store.EventStopped
		if *clapping {
			typ = store.EventStarted
		}
		return &store.Event{
			ID:        uuid.NewString(),
			AgentID:   a.ID,
			AgentName: a.Name,
			Type:      typ,
			At:        now,
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if ev != nil {
		metrics.RecordClapTransition(string(ev.Type))
		s.log.WithFields(logrus.Fields{"agent_id": a.ID, "type": ev.Type}).Debug("clap transition")
		s.pub.Publish(ctx, EventView(*ev))
	}
	return &schema.ClapResponse{Changed: ev != nil, Clapping: a.Clapping}, nil
}
