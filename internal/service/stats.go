package service

import (
	"context"
	"time"

	"github.com/openclapp/openclapp/internal/clap"
	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/pkg/schema"
)

var historyWindows = map[string]time.Duration{
	schema.RangeHour:  time.Hour,
	schema.RangeDay:   24 * time.Hour,
	schema.RangeWeek:  7 * 24 * time.Hour,
	schema.RangeMonth: 30 * 24 * time.Hour,
}

// CurrentStats aggregates every agent at the current time.
func (s *Service) CurrentStats(ctx context.Context) (*schema.Stats, error) {
	agents, err := s.store.ListAgents(ctx, false)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	var verified, unverified clap.Pool
	for _, a := range agents {
		if a.Verified {
			verified.Add(a.State, now)
		} else {
			unverified.Add(a.State, now)
		}
	}
	all := verified
	all.Merge(unverified)

	return &schema.Stats{
		At:          now,
		TotalAgents: all.Agents,
		ClappingNow: all.Clapping,
		LivePct:     all.LivePercent(),
		LifetimePct: all.LifetimePercent(),
		Verified:    cohort(verified),
		Unverified:  cohort(unverified),
	}, nil
}

func cohort(p clap.Pool) schema.Cohort {
	return schema.Cohort{
		Agents:      p.Agents,
		Clapping:    p.Clapping,
		LivePct:     p.LivePercent(),
		LifetimePct: p.LifetimePercent(),
	}
}

// History reconstructs the clapping count over rng by replaying the event
// log backward from the current state. An empty rng means a day. The agent
// total is taken as constant over the window.
func (s *Service) History(ctx context.Context, rng string) (*schema.History, error) {
	if rng == "" {
		rng = schema.RangeDay
	}

	agents, err := s.store.ListAgents(ctx, false)
	if err != nil {
		return nil, err
	}

	now := s.nowMs()
	var from int64
	if window, ok := historyWindows[rng]; ok {
		from = now - window.Milliseconds()
	} else if rng == schema.RangeAll {
		from = now
		if len(agents) > 0 {
			from = min(now, agents[0].CreatedAt)
		}
	} else {
		return nil, invalid("range", "range must be one of hour, day, week, month, all")
	}

	clapping := 0
	for _, a := range agents {
		if a.Clapping {
			clapping++
		}
	}

	events, err := s.store.EventsSince(ctx, from)
	if err != nil {
		return nil, err
	}
	flips := make([]clap.Flip, len(events))
	for i, e := range events {
		flips[i] = clap.Flip{At: e.At, Started: e.Type == store.EventStarted}
	}

	points := clap.Downsample(clap.Replay(len(agents), clapping, flips, from, now), s.HistoryMaxPoints)
	out := &schema.History{
		Range:       rng,
		From:        from,
		To:          now,
		TotalAgents: len(agents),
		Points:      make([]schema.HistoryPoint, len(points)),
	}
	for i, p := range points {
		out.Points[i] = schema.HistoryPoint{At: p.At, Clapping: p.Clapping, Pct: p.Pct}
	}
	return out, nil
}
