package sandbox

import "encoding/json"

// Plan stream event types emitted by the in-sandbox agent.
const (
	PlanEventToolCall = "tool_call"
	PlanEventMessage  = "message"
	PlanEventDone     = "done"
	PlanEventError    = "error"
)

// PlanEvent is one typed event from a plan stream.
type PlanEvent struct {
	Type string `json:"type"`

	// tool_call fields
	ToolName string          `json:"toolName,omitempty"`
	Input    json.RawMessage `json:"input,omitempty"`

	// message fields
	Text string `json:"text,omitempty"`

	// done fields
	Status      string `json:"status,omitempty"`
	TicketsFile string `json:"ticketsFile,omitempty"`

	// error fields
	Error string `json:"error,omitempty"`
}

// Terminal reports whether the event ends the stream.
func (e PlanEvent) Terminal() bool {
	return e.Type == PlanEventDone || e.Type == PlanEventError
}
