package workflow

import (
	"context"
	"encoding/json"
	"fmt"

	openai "github.com/meguminnnnnnnnn/go-openai"
)

// OpenAIEngine is an optional, concrete Engine that drives a real chat
// completion model instead of SimulatedEngine's scripted fixture. It
// streams tokens as KindMessageChunk events and assembles streamed
// tool-call deltas into KindToolCallChunks/KindToolCalls events, the
// same translation the teacher's internal/llm package performs for
// its own streaming responses.
//
// It does not implement interrupts: report_style/auto_accepted_plan
// style plan review belongs to the planner workflow this spec treats
// as opaque, not to a single chat completion call.
type OpenAIEngine struct {
	client *openai.Client
	model  string
}

// NewOpenAIEngine builds an OpenAIEngine against apiKey/model.
func NewOpenAIEngine(apiKey, model string) *OpenAIEngine {
	return &OpenAIEngine{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

func (e *OpenAIEngine) Run(ctx context.Context, cfg TaskConfig, feedback <-chan InterruptFeedback) <-chan Event {
	out := make(chan Event)
	go e.run(ctx, cfg, out)
	return out
}

func (e *OpenAIEngine) run(ctx context.Context, cfg TaskConfig, out chan<- Event) {
	defer close(out)

	messages := make([]openai.ChatCompletionMessage, 0, len(cfg.Messages))
	for _, m := range cfg.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	stream, err := e.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    e.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		sendEvent(ctx, out, Event{Err: fmt.Errorf("workflow: openai stream: %w", err)})
		return
	}
	defer stream.Close()

	var pendingChunks []ToolCallChunk
	for {
		resp, err := stream.Recv()
		if err != nil {
			if err.Error() != "EOF" {
				sendEvent(ctx, out, Event{Err: fmt.Errorf("workflow: openai recv: %w", err)})
			}
			break
		}
		if len(resp.Choices) == 0 {
			continue
		}
		delta := resp.Choices[0].Delta

		if delta.Content != "" {
			if !sendEvent(ctx, out, Event{Kind: KindMessageChunk, Agent: "assistant", Role: "assistant", Content: delta.Content}) {
				return
			}
		}

		for _, tc := range delta.ToolCalls {
			chunk := ToolCallChunk{
				ID:            tc.ID,
				Name:          tc.Function.Name,
				ArgumentChunk: tc.Function.Arguments,
				Index:         derefIndex(tc.Index),
			}
			pendingChunks = append(pendingChunks, chunk)
			if !sendEvent(ctx, out, Event{Kind: KindToolCallChunks, Agent: "assistant", Role: "assistant", ToolCallChunks: []ToolCallChunk{chunk}}) {
				return
			}
		}

		if resp.Choices[0].FinishReason == openai.FinishReasonToolCalls && len(pendingChunks) > 0 {
			calls := assembleToolCalls(pendingChunks)
			if !sendEvent(ctx, out, Event{Kind: KindToolCalls, Agent: "assistant", Role: "assistant", ToolCalls: calls}) {
				return
			}
			pendingChunks = nil
		}
	}
}

func sendEvent(ctx context.Context, out chan<- Event, ev Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func derefIndex(idx *int) int {
	if idx == nil {
		return 0
	}
	return *idx
}

// assembleToolCalls merges per-index argument fragments into complete
// ToolCall values once the model signals it finished emitting them.
func assembleToolCalls(chunks []ToolCallChunk) []ToolCall {
	byIndex := make(map[int]*ToolCall)
	order := make([]int, 0)
	for _, c := range chunks {
		tc, ok := byIndex[c.Index]
		if !ok {
			tc = &ToolCall{ID: c.ID, Name: c.Name, Arguments: map[string]any{}}
			byIndex[c.Index] = tc
			order = append(order, c.Index)
		}
		if c.Name != "" {
			tc.Name = c.Name
		}
		if tc.rawArgs == "" {
			tc.rawArgs = c.ArgumentChunk
		} else {
			tc.rawArgs += c.ArgumentChunk
		}
	}
	out := make([]ToolCall, 0, len(order))
	for _, idx := range order {
		tc := byIndex[idx]
		if tc.rawArgs != "" {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.rawArgs), &args); err == nil {
				tc.Arguments = args
			}
		}
		out = append(out, *tc)
	}
	return out
}

var _ Engine = (*OpenAIEngine)(nil)
