package schema

// Cohort aggregates a group of agents.
type Cohort struct {
	Agents      int     `json:"agents"`
	Clapping    int     `json:"clapping"`
	LivePct     float64 `json:"livePct"`
	LifetimePct float64 `json:"lifetimePct"`
}

// Stats is the current platform-wide aggregate. LifetimePct is pooled over
// time (sum of clap time over sum of agent lifetimes), not a mean of
// per-agent percentages.
type Stats struct {
	OK          bool    `json:"ok"`
	At          int64   `json:"at"`
	TotalAgents int     `json:"totalAgents"`
	ClappingNow int     `json:"clappingNow"`
	LivePct     float64 `json:"livePct"`
	LifetimePct float64 `json:"lifetimePct"`
	Verified    Cohort  `json:"verified"`
	Unverified  Cohort  `json:"unverified"`
}

// History ranges.
const (
	RangeHour  = "hour"
	RangeDay   = "day"
	RangeWeek  = "week"
	RangeMonth = "month"
	RangeAll   = "all"
)

// HistoryPoint is the clapping count that holds from At until the next point.
type HistoryPoint struct {
	At       int64   `json:"at"`
	Clapping int     `json:"clapping"`
	Pct      float64 `json:"pct"`
}

// History is a reconstructed clapping series over a range.
type History struct {
	OK          bool           `json:"ok"`
	Range       string         `json:"range"`
	From        int64          `json:"from"`
	To          int64          `json:"to"`
	TotalAgents int            `json:"totalAgents"`
	Points      []HistoryPoint `json:"points"`
}
