// Package events defines the canonical wire vocabulary emitted by the
// Stream Runner and replayed by the Replayer.
package events

// Kind is one of the canonical event kinds the Stream Runner ever appends.
type Kind string

const (
	KindMessageChunk    Kind = "message_chunk"
	KindToolCalls       Kind = "tool_calls"
	KindToolCallChunks  Kind = "tool_call_chunks"
	KindToolCallResult  Kind = "tool_call_result"
	KindInterrupt       Kind = "interrupt"
	KindResearchStart   Kind = "research_start"
	KindResearchEnd     Kind = "research_end"
	KindError           Kind = "error"
	KindReplayEnd       Kind = "replay_end"
)

// Terminal reports whether a kind ends a stream: once it's been appended,
// no further events for the same task will follow.
func (k Kind) Terminal() bool {
	return k == KindError || k == KindReplayEnd
}

// Event is one immutable, ordered record in a task's stream.
type Event struct {
	// ID is assigned by the Event Log at append time, of the form
	// "<ms-timestamp>-<seq>". Zero value means "not yet appended."
	ID       string         `json:"id"`
	Kind     Kind           `json:"event"`
	ThreadID string         `json:"thread_id"`
	Data     map[string]any `json:"data"`
}

// Payload fields shared across every kind; kind-specific fields live
// alongside these in the same map.
const (
	FieldID           = "id"
	FieldAgent        = "agent"
	FieldRole         = "role"
	FieldContent      = "content"
	FieldToolCallID   = "tool_call_id"
	FieldToolCalls    = "tool_calls"
	FieldChunks       = "tool_call_chunks"
	FieldOptions      = "options"
	FieldFinishReason = "finish_reason"
	FieldMessage      = "message"
	FieldStatus       = "status"
)

// InterruptOption is one choice offered to the client when a workflow
// suspends awaiting feedback.
type InterruptOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// DefaultInterruptOptions mirrors the original workflow engine's fixed
// plan-review choices, used when an engine doesn't supply its own.
func DefaultInterruptOptions() []InterruptOption {
	return []InterruptOption{
		{Text: "Edit plan", Value: "edit_plan"},
		{Text: "Start research", Value: "accepted"},
	}
}
