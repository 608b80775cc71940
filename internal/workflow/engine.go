// Package workflow defines the Workflow Engine contract (C3): the
// external, opaque collaborator that produces one task's typed event
// sequence. Everything in this package is a seam — the real thing is
// LLM calls, search tools, and planner/researcher/reporter roles,
// which are explicitly out of scope (spec §1). What lives here is the
// tagged union of engine events and two concrete Engines good enough
// to drive the rest of the module end to end: SimulatedEngine (the
// default) and OpenAIEngine (an optional real backend).
package workflow

import (
	"context"
)

// Kind tags one EngineEvent's variant. The Stream Runner's translation
// layer (internal/streamrunner) is a total function over this union —
// see design notes on "cyclic/dynamic dispatch over engine events".
type Kind string

const (
	KindMessageChunk   Kind = "message_chunk"
	KindToolCalls      Kind = "tool_calls"
	KindToolCallChunks Kind = "tool_call_chunks"
	KindToolCallResult Kind = "tool_call_result"
	KindInterrupt      Kind = "interrupt"
	KindResearchStart  Kind = "research_start"
	KindResearchEnd    Kind = "research_end"
	// KindUnknown is the forward-compatibility escape hatch: an engine
	// may emit a kind this translation layer doesn't recognize yet.
	// It is logged and dropped rather than rejected outright.
	KindUnknown Kind = "unknown"
)

// ToolCall is one whole tool invocation announced by the engine.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`

	// rawArgs accumulates streamed argument fragments before they're
	// parsed into Arguments; see assembleToolCalls in openai.go.
	rawArgs string
}

// ToolCallChunk is a fragment of a tool call's arguments, streamed
// incrementally before the full ToolCall is known.
type ToolCallChunk struct {
	ID            string `json:"id,omitempty"`
	Name          string `json:"name,omitempty"`
	ArgumentChunk string `json:"argument_chunk"`
	Index         int    `json:"index"`
}

// InterruptOption is one choice offered to the client when the engine
// suspends awaiting feedback.
type InterruptOption struct {
	Text  string `json:"text"`
	Value string `json:"value"`
}

// Event is the tagged union of everything an Engine can emit. Only the
// fields relevant to Kind are populated; the rest are zero.
type Event struct {
	Kind Kind

	Agent string
	Role  string

	Content string // KindMessageChunk

	ToolCalls      []ToolCall      // KindToolCalls
	ToolCallChunks []ToolCallChunk // KindToolCallChunks

	ToolCallID string // KindToolCallResult
	Result     any    // KindToolCallResult

	InterruptMessage string            // KindInterrupt
	InterruptOptions []InterruptOption // KindInterrupt

	// Err, if non-nil, signals the engine failed irrecoverably. No
	// further events follow on the channel once an Event carries Err.
	Err error
}

// Message is one turn of the conversation seeding a task.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TaskConfig carries the recognized fields of a task-creation request
// (spec §6.3) through to the Engine. Unknown fields arriving over HTTP
// are dropped before reaching this struct.
type TaskConfig struct {
	Messages                      []Message      `json:"messages"`
	Resources                     []string       `json:"resources"`
	ThreadID                      string         `json:"thread_id"`
	AutoAcceptedPlan              bool           `json:"auto_accepted_plan"`
	MaxPlanIterations              int            `json:"max_plan_iterations"`
	MaxStepNum                     int            `json:"max_step_num"`
	MaxSearchResults                int            `json:"max_search_results"`
	EnableDeepThinking              bool           `json:"enable_deep_thinking"`
	EnableBackgroundInvestigation   bool           `json:"enable_background_investigation"`
	ReportStyle                     string         `json:"report_style"`
	InterruptFeedback                string         `json:"interrupt_feedback"`
	MCPSettings                      map[string]any `json:"mcp_settings"`
}

// InterruptFeedback is what the Task Manager delivers to a suspended
// Engine after a client calls /tasks/{id}/feedback.
type InterruptFeedback struct {
	Option string
}

// Engine produces the event sequence for one task invocation. Run
// returns immediately with a channel of events; the channel is closed
// when the engine is done (successfully, with error, or because ctx
// was cancelled). feedback is a single-slot channel the engine reads
// from exactly once per KindInterrupt event it emits, before producing
// any further events.
type Engine interface {
	Run(ctx context.Context, cfg TaskConfig, feedback <-chan InterruptFeedback) <-chan Event
}
