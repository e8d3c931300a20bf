package clap

// Pool aggregates a cohort of agents.
//
// The lifetime percentage of a pool is sum(clap)/sum(elapsed), weighting each
// agent by its age. It is not the mean of the members' percentages.
type Pool struct {
	Agents    int
	Clapping  int
	ClapMs    int64
	ElapsedMs int64
}

// Add folds one agent observed at now into the pool.
func (p *Pool) Add(s State, now int64) {
	clapMs, elapsedMs := s.Observe(now)
	p.Agents++
	if s.Clapping {
		p.Clapping++
	}
	p.ClapMs += clapMs
	p.ElapsedMs += elapsedMs
}

// Merge adds the totals of another pool.
func (p *Pool) Merge(o Pool) {
	p.Agents += o.Agents
	p.Clapping += o.Clapping
	p.ClapMs += o.ClapMs
	p.ElapsedMs += o.ElapsedMs
}

// LifetimePercent is the pooled time-weighted clap percentage.
func (p Pool) LifetimePercent() float64 {
	if p.ElapsedMs <= 0 {
		return 0
	}
	return Clamp(float64(p.ClapMs) / float64(p.ElapsedMs) * 100)
}

// LivePercent is the share of members clapping right now.
func (p Pool) LivePercent() float64 {
	return CountPercent(p.Clapping, p.Agents)
}

// CountPercent returns n/total*100, or 0 for an empty total.
func CountPercent(n, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Clamp(float64(n) / float64(total) * 100)
}
