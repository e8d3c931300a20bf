package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openclapp/openclapp/internal/store"
	"github.com/openclapp/openclapp/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []schema.Event
}

func (r *recorder) Publish(_ context.Context, e schema.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

type fixture struct {
	svc   *Service
	store *store.MemStore
	pub   *recorder
	now   time.Time
}

func newFixture() *fixture {
	f := &fixture{
		store: store.NewMemStore(nil, nil),
		pub:   &recorder{},
		now:   time.UnixMilli(1_700_000_000_000),
	}
	f.svc = New(f.store, f.pub, nil)
	f.svc.Now = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) register(t *testing.T, name string) string {
	t.Helper()
	a, err := f.svc.Register(context.Background(), name, "")
	require.NoError(t, err)
	return a.ID
}

func (f *fixture) clap(t *testing.T, id string, on bool) bool {
	t.Helper()
	res, err := f.svc.SetClapping(context.Background(), id, on)
	require.NoError(t, err)
	return res.Changed
}

func (f *fixture) verify(t *testing.T, id, handle string) {
	t.Helper()
	_, _, err := f.store.Mutate(context.Background(), id, func(a *store.Agent) (*store.Event, error) {
		a.Verified = true
		a.XHandle = handle
		return nil, nil
	})
	require.NoError(t, err)
}

func TestRegister(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	a, err := f.svc.Register(ctx, "  Jeb  ", "@Jeb_K")
	require.NoError(t, err)
	assert.Equal(t, "Jeb", a.Name)
	assert.Equal(t, "jeb_k", a.XHandle)
	assert.False(t, a.Verified)
	assert.Equal(t, f.now.UnixMilli(), a.CreatedAt)
	assert.NotEmpty(t, a.ID)

	_, err = f.svc.Register(ctx, "jeb", "")
	assert.ErrorIs(t, err, store.ErrNameTaken)

	var verr *ValidationError
	_, err = f.svc.Register(ctx, "   ", "")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "name", verr.Field)

	_, err = f.svc.Register(ctx, strings.Repeat("x", MaxNameLength+1), "")
	assert.ErrorAs(t, err, &verr)

	_, err = f.svc.Register(ctx, strings.Repeat("é", MaxNameLength), "")
	assert.NoError(t, err)

	_, err = f.svc.Register(ctx, "Val", "not valid!")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "xHandle", verr.Field)
}

func TestToggleWithoutTimePassing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")

	require.True(t, f.clap(t, id, true))
	f.pub.events = nil

	assert.True(t, f.clap(t, id, false))
	assert.True(t, f.clap(t, id, true))

	a, err := f.store.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, a.CumulativeClapMs)
	require.Len(t, f.pub.events, 2)
	assert.Equal(t, schema.EventStopped, f.pub.events[0].Type)
	assert.Equal(t, schema.EventStarted, f.pub.events[1].Type)
}

func TestSameValueTwiceOnlyStampsHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")
	f.clap(t, id, true)
	before, err := f.store.GetAgent(ctx, id)
	require.NoError(t, err)

	f.advance(time.Second)
	assert.False(t, f.clap(t, id, true))
	f.advance(time.Second)
	assert.False(t, f.clap(t, id, true))

	after, err := f.store.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, before.CumulativeClapMs, after.CumulativeClapMs)
	assert.Equal(t, before.LastStateChangedAt, after.LastStateChangedAt)
	assert.Equal(t, f.now.UnixMilli(), after.LastHeartbeatAt)
	assert.Equal(t, f.now.UnixMilli(), after.UpdatedAt)

	events, err := f.svc.Events(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestClapTimeAccumulates(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")

	f.clap(t, id, true)
	f.advance(3 * time.Second)
	f.clap(t, id, false)
	f.advance(time.Second)

	a, err := f.svc.GetAgent(ctx, id, "")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), a.CumulativeClapMs)
	assert.InDelta(t, 75.0, a.ClapPct, 1e-9)
}

func TestHeartbeat(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")

	f.advance(time.Minute)
	res, err := f.svc.Heartbeat(ctx, id, nil)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	a, err := f.store.GetAgent(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, f.now.UnixMilli(), a.LastHeartbeatAt)
	assert.False(t, a.Clapping)

	on := true
	res, err = f.svc.Heartbeat(ctx, id, &on)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.True(t, res.Clapping)
	assert.Len(t, f.pub.events, 1)

	_, err = f.svc.Heartbeat(ctx, "ghost", nil)
	assert.ErrorIs(t, err, store.ErrAgentNotFound)

	var verr *ValidationError
	_, err = f.svc.Heartbeat(ctx, "", nil)
	assert.ErrorAs(t, err, &verr)
}

func TestCurrentStatsPoolsByTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	old := f.register(t, "old")
	f.clap(t, old, true)
	f.verify(t, old, "old")
	f.advance(900 * time.Millisecond)
	f.register(t, "young")
	f.advance(100 * time.Millisecond)

	stats, err := f.svc.CurrentStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalAgents)
	assert.Equal(t, 1, stats.ClappingNow)
	assert.InDelta(t, 50.0, stats.LivePct, 1e-9)
	// 1000ms of clapping over 1000ms + 100ms of lifetime; the mean of
	// member percentages would be 50.
	assert.InDelta(t, 1000.0/1100.0*100, stats.LifetimePct, 1e-9)

	assert.Equal(t, schema.Cohort{Agents: 1, Clapping: 1, LivePct: 100, LifetimePct: 100}, stats.Verified)
	assert.Equal(t, schema.Cohort{Agents: 1, Clapping: 0, LivePct: 0, LifetimePct: 0}, stats.Unverified)
}

func TestCurrentStatsEmpty(t *testing.T) {
	f := newFixture()
	stats, err := f.svc.CurrentStats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalAgents)
	assert.Zero(t, stats.LivePct)
	assert.Zero(t, stats.LifetimePct)
}

func countAt(points []schema.HistoryPoint, at int64) int {
	n := points[0].Clapping
	for _, p := range points {
		if p.At > at {
			break
		}
		n = p.Clapping
	}
	return n
}

func TestHistoryReplaysStartEvent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = f.register(t, "agent-"+string(rune('a'+i)))
	}
	for _, id := range ids[:4] {
		f.clap(t, id, true)
	}
	f.advance(time.Hour)
	f.clap(t, ids[4], true)
	startAt := f.now.UnixMilli()
	f.advance(time.Hour)

	h, err := f.svc.History(ctx, schema.RangeDay)
	require.NoError(t, err)
	assert.Equal(t, 10, h.TotalAgents)
	assert.Equal(t, f.now.UnixMilli(), h.To)
	assert.Equal(t, f.now.Add(-24*time.Hour).UnixMilli(), h.From)

	last := h.Points[len(h.Points)-1]
	assert.Equal(t, 5, last.Clapping)
	assert.InDelta(t, 50.0, last.Pct, 1e-9)
	assert.Equal(t, 5, countAt(h.Points, startAt))
	assert.Equal(t, 4, countAt(h.Points, startAt-1000))
	assert.Equal(t, 0, countAt(h.Points, h.From))
}

func TestHistoryRanges(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	h, err := f.svc.History(ctx, schema.RangeAll)
	require.NoError(t, err)
	require.Len(t, h.Points, 1)
	assert.Equal(t, h.From, h.To)

	f.register(t, "Jeb")
	created := f.now.UnixMilli()
	f.advance(time.Hour)
	h, err = f.svc.History(ctx, schema.RangeAll)
	require.NoError(t, err)
	assert.Equal(t, created, h.From)

	h, err = f.svc.History(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, schema.RangeDay, h.Range)

	_, err = f.svc.History(ctx, "decade")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestHistoryIsDownsampled(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.svc.HistoryMaxPoints = 10
	id := f.register(t, "Jeb")
	for i := 0; i < 50; i++ {
		f.advance(time.Second)
		f.clap(t, id, i%2 == 0)
	}

	h, err := f.svc.History(ctx, schema.RangeHour)
	require.NoError(t, err)
	require.Len(t, h.Points, 10)
	assert.Equal(t, h.From, h.Points[0].At)
	assert.Equal(t, h.To, h.Points[9].At)
}

func TestListAgents(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	a := f.register(t, "a")
	f.advance(time.Second)
	b := f.register(t, "b")
	f.advance(time.Second)
	c := f.register(t, "c")
	f.clap(t, b, true)
	f.verify(t, c, "c")
	f.advance(time.Second)

	ids := func(p *schema.AgentPage) []string {
		out := make([]string, len(p.Agents))
		for i, ag := range p.Agents {
			out[i] = ag.ID
		}
		return out
	}

	page, err := f.svc.ListAgents(ctx, ListQuery{})
	require.NoError(t, err)
	assert.Equal(t, []string{c, b, a}, ids(page))
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, DefaultPageSize, page.PageSize)
	assert.Equal(t, 3, page.Total)

	page, err = f.svc.ListAgents(ctx, ListQuery{Sort: schema.SortOldest})
	require.NoError(t, err)
	assert.Equal(t, []string{a, b, c}, ids(page))

	// a and c never clapped, so the tie falls back to creation order.
	page, err = f.svc.ListAgents(ctx, ListQuery{Sort: schema.SortHighestClap})
	require.NoError(t, err)
	assert.Equal(t, []string{b, a, c}, ids(page))

	page, err = f.svc.ListAgents(ctx, ListQuery{Sort: schema.SortLowestClap, Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Equal(t, []string{b}, ids(page))
	assert.Equal(t, 3, page.Total)

	page, err = f.svc.ListAgents(ctx, ListQuery{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Agents)

	page, err = f.svc.ListAgents(ctx, ListQuery{PageSize: 1000, Page: -3, VerifiedOnly: true})
	require.NoError(t, err)
	assert.Equal(t, MaxPageSize, page.PageSize)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, []string{c}, ids(page))

	_, err = f.svc.ListAgents(ctx, ListQuery{Sort: "random"})
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestListAgentsPageBounds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for _, name := range []string{"a", "b", "c"} {
		f.register(t, name)
	}

	tests := []struct {
		name  string
		query ListQuery
		want  int
	}{
		{"last partial page", ListQuery{Page: 2, PageSize: 2}, 1},
		{"first page past the end", ListQuery{Page: 3, PageSize: 2}, 0},
		{"offset overflows int", ListQuery{Page: math.MaxInt64/100 + 2, PageSize: 100}, 0},
		{"max page", ListQuery{Page: math.MaxInt, PageSize: MaxPageSize}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.svc.ListAgents(ctx, tt.query)
			require.NoError(t, err)
			assert.Len(t, page.Agents, tt.want)
			assert.Equal(t, tt.query.Page, page.Page)
			assert.Equal(t, 3, page.Total)
		})
	}
}

func TestGetAgent(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")

	byID, err := f.svc.GetAgent(ctx, id, "")
	require.NoError(t, err)
	byName, err := f.svc.GetAgent(ctx, "", "JEB")
	require.NoError(t, err)
	assert.Equal(t, byID, byName)

	_, err = f.svc.GetAgent(ctx, "", "nobody")
	assert.ErrorIs(t, err, store.ErrAgentNotFound)

	_, err = f.svc.GetAgent(ctx, "", "")
	var verr *ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestEventsLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	id := f.register(t, "Jeb")
	for i := 0; i < 5; i++ {
		f.advance(time.Millisecond)
		f.clap(t, id, i%2 == 0)
	}

	events, err := f.svc.Events(ctx, 2)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, f.now.UnixMilli(), events[0].Timestamp)
	assert.Equal(t, "Jeb", events[0].AgentName)

	events, err = f.svc.Events(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, events, 1)

	events, err = f.svc.Events(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, events, 5)
}

func TestAdminWipes(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	v := f.register(t, "verified")
	u := f.register(t, "unverified")
	f.verify(t, v, "v")
	f.clap(t, v, true)
	f.clap(t, u, true)

	var verr *ValidationError
	_, err := f.svc.WipeAgents(ctx, "delete all agents")
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "confirm", verr.Field)

	res, err := f.svc.WipeUnverifiedAgents(ctx, schema.ConfirmWipeUnverifiedAgents)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedAgents)
	assert.Equal(t, int64(1), res.DeletedEvents)

	res, err = f.svc.WipeEvents(ctx, schema.ConfirmWipeEvents)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedEvents)

	a, err := f.svc.GetAgent(ctx, v, "")
	require.NoError(t, err)
	assert.True(t, a.Clapping)

	res, err = f.svc.WipeAgents(ctx, schema.ConfirmWipeAgents)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.DeletedAgents)

	_, err = f.svc.GetAgent(ctx, v, "")
	assert.True(t, errors.Is(err, store.ErrAgentNotFound))
}
