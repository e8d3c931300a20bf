package store

import (
	"context"
	"sort"
	"sync"
)

// MemStore is a thread-safe in-memory store. When a persister is attached,
// every write schedules a background snapshot to disk.
type MemStore struct {
	mu         sync.RWMutex
	agents     map[string]*Agent
	names      map[string]string // nameKey -> agent id
	events     []Event
	challenges map[string]*Challenge
	version    uint64
	persister  *Persistence
	wg         sync.WaitGroup
}

// NewMemStore initializes a store from an optional snapshot (from
// Persistence.Load) and an optional persister.
func NewMemStore(initial *Snapshot, p *Persistence) *MemStore {
	m := &MemStore{
		agents:     make(map[string]*Agent),
		names:      make(map[string]string),
		challenges: make(map[string]*Challenge),
		persister:  p,
	}
	if initial != nil {
		m.load(initial)
	}
	return m
}

// Wait waits for all background persistence tasks to complete.
func (m *MemStore) Wait() {
	m.wg.Wait()
}

// Close waits for pending snapshots.
func (m *MemStore) Close() error {
	m.Wait()
	return nil
}

func (m *MemStore) load(s *Snapshot) {
	for i := range s.Agents {
		a := s.Agents[i]
		m.agents[a.ID] = &a
		m.names[nameKey(a.Name)] = a.ID
	}
	// Restoring an overlapping snapshot must not double the log.
	seen := make(map[string]bool, len(m.events))
	for _, e := range m.events {
		seen[e.ID] = true
	}
	for _, e := range s.Events {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		m.events = append(m.events, e)
	}
	for i := range s.Challenges {
		c := cloneChallenge(&s.Challenges[i])
		m.challenges[c.ID] = c
	}
	if s.Version > m.version {
		m.version = s.Version
	}
}

// --- AgentStore ---

func (m *MemStore) CreateAgent(_ context.Context, a *Agent) error {
	m.mu.Lock()
	key := nameKey(a.Name)
	if _, ok := m.names[key]; ok {
		m.mu.Unlock()
		return ErrNameTaken
	}
	if a.Verified && a.XHandle != "" && m.verifiedOwnerLocked(a.XHandle) != nil {
		m.mu.Unlock()
		return ErrHandleTaken
	}
	cp := *a
	m.agents[a.ID] = &cp
	m.names[key] = a.ID
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	return nil
}

func (m *MemStore) GetAgent(_ context.Context, id string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.agents[id]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemStore) GetAgentByName(_ context.Context, name string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.names[nameKey(name)]
	if !ok {
		return nil, ErrAgentNotFound
	}
	cp := *m.agents[id]
	return &cp, nil
}

func (m *MemStore) ListAgents(_ context.Context, verifiedOnly bool) ([]Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := make([]Agent, 0, len(m.agents))
	for _, a := range m.agents {
		if verifiedOnly && !a.Verified {
			continue
		}
		list = append(list, *a)
	}
	sortAgents(list)
	return list, nil
}

func (m *MemStore) Mutate(_ context.Context, id string, fn MutateFunc) (*Agent, *Event, error) {
	m.mu.Lock()
	current, ok := m.agents[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrAgentNotFound
	}

	// Work on a copy so an aborted mutation leaves no trace.
	next := *current
	ev, err := fn(&next)
	if err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	next.ID = current.ID
	next.Name = current.Name
	m.agents[id] = &next
	if ev != nil {
		m.events = append(m.events, *ev)
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	out := next
	return &out, ev, nil
}

func (m *MemStore) VerifiedOwner(_ context.Context, handle string) (*Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if owner := m.verifiedOwnerLocked(handle); owner != nil {
		cp := *owner
		return &cp, nil
	}
	return nil, ErrAgentNotFound
}

func (m *MemStore) verifiedOwnerLocked(handle string) *Agent {
	var owner *Agent
	for _, a := range m.agents {
		if a.Verified && a.XHandle == handle {
			if owner == nil || a.CreatedAt < owner.CreatedAt {
				owner = a
			}
		}
	}
	return owner
}

// --- EventLog ---

func (m *MemStore) ListEvents(_ context.Context, limit int) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := m.newestFirstLocked(func(Event) bool { return true })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemStore) EventsSince(_ context.Context, since int64) ([]Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.newestFirstLocked(func(e Event) bool { return e.At >= since }), nil
}

// newestFirstLocked orders by timestamp, then by insertion, both descending.
func (m *MemStore) newestFirstLocked(keep func(Event) bool) []Event {
	out := make([]Event, 0, len(m.events))
	for i := len(m.events) - 1; i >= 0; i-- {
		if keep(m.events[i]) {
			out = append(out, m.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At > out[j].At })
	return out
}

// --- ChallengeStore ---

func (m *MemStore) CreateChallenge(_ context.Context, c *Challenge) error {
	m.mu.Lock()
	if _, ok := m.agents[c.AgentID]; !ok {
		m.mu.Unlock()
		return ErrAgentNotFound
	}
	m.challenges[c.ID] = cloneChallenge(c)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	return nil
}

func (m *MemStore) GetChallenge(_ context.Context, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[id]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	return cloneChallenge(c), nil
}

func (m *MemStore) CompleteChallenge(_ context.Context, id, postURL string, now int64) (*Agent, *Challenge, error) {
	m.mu.Lock()
	c, ok := m.challenges[id]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrChallengeNotFound
	}
	if err := c.checkOpen(now); err != nil {
		m.mu.Unlock()
		return nil, nil, err
	}
	if owner := m.verifiedOwnerLocked(c.Handle); owner != nil && owner.ID != c.AgentID {
		m.mu.Unlock()
		return nil, nil, ErrHandleTaken
	}
	a, ok := m.agents[c.AgentID]
	if !ok {
		m.mu.Unlock()
		return nil, nil, ErrAgentNotFound
	}

	done := now
	c.CompletedAt = &done
	c.PostURL = postURL
	a.Verified = true
	a.XHandle = c.Handle
	a.UpdatedAt = now

	agent, challenge := *a, cloneChallenge(c)
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	return &agent, challenge, nil
}

// --- Admin ---

func (m *MemStore) DeleteAgents(_ context.Context, unverifiedOnly bool) (WipeResult, error) {
	m.mu.Lock()
	var res WipeResult
	doomed := make(map[string]bool)
	for id, a := range m.agents {
		if unverifiedOnly && a.Verified {
			continue
		}
		doomed[id] = true
		delete(m.agents, id)
		delete(m.names, nameKey(a.Name))
		res.Agents++
	}

	kept := m.events[:0]
	for _, e := range m.events {
		if doomed[e.AgentID] {
			res.Events++
			continue
		}
		kept = append(kept, e)
	}
	m.events = kept

	for id, c := range m.challenges {
		if doomed[c.AgentID] {
			delete(m.challenges, id)
			res.Challenges++
		}
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	return res, nil
}

func (m *MemStore) DeleteEvents(_ context.Context) (int64, error) {
	m.mu.Lock()
	n := int64(len(m.events))
	m.events = nil
	snap := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(snap)
	return n, nil
}

func (m *MemStore) Dump(_ context.Context) (*Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.copySnapshotLocked(), nil
}

func (m *MemStore) Restore(_ context.Context, snap *Snapshot) error {
	m.mu.Lock()
	for _, a := range snap.Agents {
		if id, ok := m.names[nameKey(a.Name)]; ok && id != a.ID {
			m.mu.Unlock()
			return ErrNameTaken
		}
	}
	m.load(snap)
	out := m.snapshotLocked()
	m.mu.Unlock()

	m.persist(out)
	return nil
}

// snapshotLocked bumps the version and returns a deep copy for the
// persister, or nil when none is attached. It MUST be called while holding
// m.mu.Lock.
func (m *MemStore) snapshotLocked() *Snapshot {
	m.version++
	if m.persister == nil {
		return nil
	}
	return m.copySnapshotLocked()
}

// copySnapshotLocked MUST be called while holding m.mu.Lock or m.mu.RLock.
func (m *MemStore) copySnapshotLocked() *Snapshot {
	s := &Snapshot{
		Version:    m.version,
		Agents:     make([]Agent, 0, len(m.agents)),
		Events:     make([]Event, len(m.events)),
		Challenges: make([]Challenge, 0, len(m.challenges)),
	}
	for _, a := range m.agents {
		s.Agents = append(s.Agents, *a)
	}
	sortAgents(s.Agents)
	copy(s.Events, m.events)
	for _, c := range m.challenges {
		s.Challenges = append(s.Challenges, *cloneChallenge(c))
	}
	sort.Slice(s.Challenges, func(i, j int) bool {
		if s.Challenges[i].CreatedAt != s.Challenges[j].CreatedAt {
			return s.Challenges[i].CreatedAt < s.Challenges[j].CreatedAt
		}
		return s.Challenges[i].ID < s.Challenges[j].ID
	})
	return s
}

// persist writes snap in the background.
func (m *MemStore) persist(snap *Snapshot) {
	if m.persister == nil || snap == nil {
		return
	}
	m.wg.Add(1)
	go func(s *Snapshot) {
		defer m.wg.Done()
		if err := m.persister.Save(s); err != nil {
			m.persister.Log.WithError(err).WithField("version", s.Version).Error("persist snapshot")
		}
	}(snap)
}

func sortAgents(list []Agent) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt != list[j].CreatedAt {
			return list[i].CreatedAt < list[j].CreatedAt
		}
		return list[i].ID < list[j].ID
	})
}

func cloneChallenge(c *Challenge) *Challenge {
	cp := *c
	if c.CompletedAt != nil {
		at := *c.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}
