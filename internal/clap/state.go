// Package clap implements the clap-time accounting used across OpenClapp:
// per-agent and pooled percentages, state transitions, and the replay of the
// event log into a clapping-count history.
//
// All timestamps are Unix milliseconds.
package clap

// State is the clap-related part of an agent record.
type State struct {
	CreatedAt          int64 `json:"createdAt"`
	Clapping           bool  `json:"clapping"`
	CumulativeClapMs   int64 `json:"cumulativeClapMs"`
	LastStateChangedAt int64 `json:"lastStateChangedAt"`
	LastHeartbeatAt    int64 `json:"lastHeartbeatAt"`
}

// NewState returns the state of an agent registered at now.
func NewState(now int64) State {
	return State{
		CreatedAt:          now,
		LastStateChangedAt: now,
		LastHeartbeatAt:    now,
	}
}

// Observe returns the clap time and the lifetime of the agent as seen at now.
// Lifetime is floored to 1ms and the clap time includes the interval that is
// still elapsing when the agent is clapping.
func (s State) Observe(now int64) (clapMs, elapsedMs int64) {
	elapsedMs = max(1, now-s.CreatedAt)
	clapMs = s.CumulativeClapMs
	if s.Clapping {
		clapMs += max(0, now-s.LastStateChangedAt)
	}
	return clapMs, elapsedMs
}

// Percent is the share of the agent's lifetime spent clapping, in [0,100].
func (s State) Percent(now int64) float64 {
	clapMs, elapsedMs := s.Observe(now)
	return Clamp(float64(clapMs) / float64(elapsedMs) * 100)
}

// Set writes the clapping flag at now and reports whether it flipped.
// Leaving the clapping state folds the elapsed interval into the accumulator.
// The heartbeat is stamped regardless.
func (s *State) Set(clapping bool, now int64) bool {
	s.LastHeartbeatAt = now
	if s.Clapping == clapping {
		return false
	}
	if s.Clapping {
		s.CumulativeClapMs += max(0, now-s.LastStateChangedAt)
	}
	s.Clapping = clapping
	s.LastStateChangedAt = now
	return true
}

// Touch stamps a heartbeat without changing the flag.
func (s *State) Touch(now int64) {
	s.LastHeartbeatAt = now
}

// Clamp bounds a percentage to [0,100]. NaN maps to 0.
func Clamp(pct float64) float64 {
	if !(pct > 0) {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}
