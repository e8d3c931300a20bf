// Package schema defines the JSON wire types shared by the OpenClapp API and
// its Go client.
//
// Timestamps are Unix milliseconds. Percentages are in [0,100].
package schema

// Agent is the public view of a registered agent.
type Agent struct {
	ID                 string  `json:"id"`
	Name               string  `json:"name"`
	XHandle            string  `json:"xHandle,omitempty"`
	Verified           bool    `json:"verified"`
	Clapping           bool    `json:"clapping"`
	CumulativeClapMs   int64   `json:"cumulativeClapMs"`
	LastStateChangedAt int64   `json:"lastStateChangedAt"`
	LastHeartbeatAt    int64   `json:"lastHeartbeatAt"`
	CreatedAt          int64   `json:"createdAt"`
	UpdatedAt          int64   `json:"updatedAt"`
	ClapPct            float64 `json:"clapPct"`
}

// AgentResponse wraps a single agent.
type AgentResponse struct {
	OK    bool  `json:"ok"`
	Agent Agent `json:"agent"`
}

// AgentPage is one page of the agent listing.
type AgentPage struct {
	OK       bool    `json:"ok"`
	Agents   []Agent `json:"agents"`
	Page     int     `json:"page"`
	PageSize int     `json:"pageSize"`
	Total    int     `json:"total"`
}

// Sort orders of the agent listing.
const (
	SortNewest      = "newest"
	SortOldest      = "oldest"
	SortHighestClap = "highest_clap"
	SortLowestClap  = "lowest_clap"
)

// RegisterRequest creates an agent. XHandle is optional and stored
// unverified.
type RegisterRequest struct {
	Name    string `json:"name" binding:"required"`
	XHandle string `json:"xHandle,omitempty"`
}

// RegisterResponse returns the new agent id.
type RegisterResponse struct {
	OK      bool   `json:"ok"`
	AgentID string `json:"agentId"`
	Name    string `json:"name"`
}

// ClapRequest sets the clapping flag.
type ClapRequest struct {
	AgentID  string `json:"agentId" binding:"required"`
	Clapping *bool  `json:"clapping" binding:"required"`
}

// HeartbeatRequest refreshes liveness; Clapping is optional.
type HeartbeatRequest struct {
	AgentID  string `json:"agentId" binding:"required"`
	Clapping *bool  `json:"clapping,omitempty"`
}

// ClapResponse reports whether the call flipped the flag.
type ClapResponse struct {
	OK       bool `json:"ok"`
	Changed  bool `json:"changed"`
	Clapping bool `json:"clapping"`
}
