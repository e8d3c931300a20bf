package service

import (
	"context"
	"sort"
	"strings"

	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/pkg/schema"
)

// Listing bounds.
const (
	DefaultPageSize   = 25
	MaxPageSize       = 100
	DefaultEventLimit = 50
	MaxEventLimit     = 200
)

// ListQuery selects a page of agents.
type ListQuery struct {
	Sort         string
	Page         int
	PageSize     int
	VerifiedOnly bool
}

// ListAgents returns one sorted page of agents. Page is at least 1 and the
// page size is clamped to [1,100]; zero means the default of 25.
func (s *Service) ListAgents(ctx context.Context, q ListQuery) (*schema.AgentPage, error) {
	if q.Sort == "" {
		q.Sort = schema.SortNewest
	}
	less, ok := agentOrders[q.Sort]
	if !ok {
		return nil, invalid("sort", "sort must be one of newest, oldest, highest_clap, lowest_clap")
	}
	q.Page = max(1, q.Page)
	if q.PageSize == 0 {
		q.PageSize = DefaultPageSize
	}
	q.PageSize = min(MaxPageSize, max(1, q.PageSize))

	agents, err := s.store.ListAgents(ctx, q.VerifiedOnly)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	views := make([]schema.Agent, len(agents))
	for i, a := range agents {
		views[i] = AgentView(a, now)
	}
	sort.SliceStable(views, func(i, j int) bool { return less(views[i], views[j]) })

	// Compare page counts first; (Page-1)*PageSize can overflow for huge pages.
	start := len(views)
	if pages := (len(views) + q.PageSize - 1) / q.PageSize; q.Page <= pages {
		start = (q.Page - 1) * q.PageSize
	}
	end := min(len(views), start+q.PageSize)
	return &schema.AgentPage{
		Agents:   views[start:end],
		Page:     q.Page,
		PageSize: q.PageSize,
		Total:    len(views),
	}, nil
}

// agentOrders break ties by creation time, then id.
var agentOrders = map[string]func(a, b schema.Agent) bool{
	schema.SortNewest: func(a, b schema.Agent) bool {
		if a.CreatedAt != b.CreatedAt {
			return a.CreatedAt > b.CreatedAt
		}
		return a.ID < b.ID
	},
	schema.SortOldest: oldestFirst,
	schema.SortHighestClap: func(a, b schema.Agent) bool {
		if a.ClapPct != b.ClapPct {
			return a.ClapPct > b.ClapPct
		}
		return oldestFirst(a, b)
	},
	schema.SortLowestClap: func(a, b schema.Agent) bool {
		if a.ClapPct != b.ClapPct {
			return a.ClapPct < b.ClapPct
		}
		return oldestFirst(a, b)
	},
}

func oldestFirst(a, b schema.Agent) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt < b.CreatedAt
	}
	return a.ID < b.ID
}

// GetAgent looks an agent up by id, or by case-insensitive name when id is
// empty.
func (s *Service) GetAgent(ctx context.Context, id, name string) (*schema.Agent, error) {
	id, name = strings.TrimSpace(id), strings.TrimSpace(name)

	var (
		a   *store.Agent
		err error
	)
	switch {
	case id != "":
		a, err = s.store.GetAgent(ctx, id)
	case name != "":
		a, err = s.store.GetAgentByName(ctx, name)
	default:
		return nil, invalid("id", "id or name is required")
	}
	if err != nil {
		return nil, err
	}
	view := AgentView(*a, s.nowMs())
	return &view, nil
}

// Events returns the newest clap events. A zero limit means 50; the limit
// is clamped to [1,200].
func (s *Service) Events(ctx context.Context, limit int) ([]schema.Event, error) {
	if limit == 0 {
		limit = DefaultEventLimit
	}
	limit = min(MaxEventLimit, max(1, limit))

	events, err := s.store.ListEvents(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]schema.Event, len(events))
	for i, e := range events {
		out[i] = EventView(e)
	}
	return out, nil
}
