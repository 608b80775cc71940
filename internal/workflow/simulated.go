package workflow

import (
	"context"
	"fmt"
)

// SimulatedEngine is the default Engine: a deterministic, in-process
// stand-in for the real planner/researcher/reporter workflow. It
// exercises every canonical event kind the Stream Runner must
// translate except tool_call_chunks (it announces whole tool calls
// only), including the interrupt/resume round trip, without any
// external dependency — useful both as the module's default runtime
// behavior and as a fixture for streamrunner/replayer tests.
type SimulatedEngine struct {
	// Steps lets tests control exactly how many "researcher" message
	// chunks are emitted before the reporter's final answer. Zero
	// means the default of 3.
	Steps int
}

func (e *SimulatedEngine) Run(ctx context.Context, cfg TaskConfig, feedback <-chan InterruptFeedback) <-chan Event {
	out := make(chan Event)
	go e.run(ctx, cfg, feedback, out)
	return out
}

func (e *SimulatedEngine) run(ctx context.Context, cfg TaskConfig, feedback <-chan InterruptFeedback, out chan<- Event) {
	defer close(out)

	send := func(ev Event) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	prompt := "the research request"
	if len(cfg.Messages) > 0 {
		prompt = cfg.Messages[len(cfg.Messages)-1].Content
	}

	if !send(Event{Kind: KindResearchStart, Agent: "planner", Role: "assistant"}) {
		return
	}

	if !cfg.AutoAcceptedPlan {
		options := DefaultInterruptOptions()
		if !send(Event{
			Kind:             KindInterrupt,
			Agent:            "planner",
			Role:             "assistant",
			InterruptMessage: fmt.Sprintf("Review the plan for: %s", prompt),
			InterruptOptions: options,
		}) {
			return
		}
		select {
		case fb, ok := <-feedback:
			if !ok {
				return
			}
			if fb.Option != "accepted" && fb.Option != "" {
				// Any non-acceptance in this simulated engine is
				// treated as "proceed anyway" — a real engine would
				// replan; this one just keeps the fixture simple.
				_ = fb
			}
		case <-ctx.Done():
			return
		}
	}

	steps := e.Steps
	if steps <= 0 {
		steps = 3
	}

	toolCallID := "call_1"
	if !send(Event{
		Kind:  KindToolCalls,
		Agent: "researcher",
		Role:  "assistant",
		ToolCalls: []ToolCall{{
			ID:        toolCallID,
			Name:      "web_search",
			Arguments: map[string]any{"query": prompt},
		}},
	}) {
		return
	}
	if !send(Event{
		Kind:       KindToolCallResult,
		Agent:      "researcher",
		Role:       "tool",
		ToolCallID: toolCallID,
		Result:     fmt.Sprintf("Simulated findings for %q", prompt),
	}) {
		return
	}

	for i := 0; i < steps; i++ {
		chunk := fmt.Sprintf("Researching step %d of %d for %s. ", i+1, steps, prompt)
		if !send(Event{Kind: KindMessageChunk, Agent: "researcher", Role: "assistant", Content: chunk}) {
			return
		}
	}

	if !send(Event{Kind: KindResearchEnd, Agent: "researcher", Role: "assistant"}) {
		return
	}

	report := fmt.Sprintf("Final report: %s has been investigated across %d steps.", prompt, steps)
	send(Event{Kind: KindMessageChunk, Agent: "reporter", Role: "assistant", Content: report})
}

// DefaultInterruptOptions mirrors the original workflow engine's fixed
// plan-review choices, used by engines that don't supply their own
// (SPEC_FULL §3, "interrupt event options payload").
func DefaultInterruptOptions() []InterruptOption {
	return []InterruptOption{
		{Text: "Edit plan", Value: "edit_plan"},
		{Text: "Start research", Value: "accepted"},
	}
}

var _ Engine = (*SimulatedEngine)(nil)
