package schema

// Event types.
const (
	EventStarted = "started"
	EventStopped = "stopped"
)

// Event is a clap transition in the ticker.
type Event struct {
	ID        string `json:"id"`
	AgentID   string `json:"agentId"`
	AgentName string `json:"agentName"`
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

// EventList is the newest-first ticker.
type EventList struct {
	OK     bool    `json:"ok"`
	Events []Event `json:"events"`
}

// TickerMessageType tags live stream frames.
const TickerMessageType = "clap_event"

// TickerMessage is one frame of the live event stream.
type TickerMessage struct {
	Type    string `json:"type"`
	Payload Event  `json:"payload"`
}
