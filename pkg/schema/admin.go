package schema

// Confirmation phrases for the admin wipes.
const (
	ConfirmWipeAgents           = "DELETE ALL AGENTS"
	ConfirmWipeUnverifiedAgents = "DELETE UNVERIFIED AGENTS"
	ConfirmWipeEvents           = "DELETE ALL EVENTS"
)

// WipeRequest must carry the exact confirmation phrase of the endpoint.
type WipeRequest struct {
	Confirm string `json:"confirm"`
}

// WipeResponse counts removed records.
type WipeResponse struct {
	OK                bool  `json:"ok"`
	DeletedAgents     int64 `json:"deletedAgents"`
	DeletedEvents     int64 `json:"deletedEvents"`
	DeletedChallenges int64 `json:"deletedChallenges"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// Health is the liveness check body.
type Health struct {
	OK      bool   `json:"ok"`
	Service string `json:"service"`
}
