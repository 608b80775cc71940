package streamrunner

import (
	"github.com/DM-llm/deer-flow/internal/events"
	"github.com/DM-llm/deer-flow/internal/workflow"
)

// translate is the total function over the engine's tagged union
// (design notes: "cyclic/dynamic dispatch over engine events"). It
// never reorders or batches — spec §4.3 requires the runner to
// preserve the engine's ordering exactly.
//
// The second return value is false when the event should be dropped
// rather than appended (an unknown engine kind, or a filtered-out
// trivial tool-call chunk).
func translate(ev workflow.Event) (events.Kind, map[string]any, bool) {
	data := map[string]any{
		events.FieldAgent: ev.Agent,
		events.FieldRole:  ev.Role,
	}

	switch ev.Kind {
	case workflow.KindMessageChunk:
		data[events.FieldContent] = ev.Content
		return events.KindMessageChunk, data, true

	case workflow.KindToolCalls:
		calls := make([]map[string]any, 0, len(ev.ToolCalls))
		for _, tc := range ev.ToolCalls {
			calls = append(calls, map[string]any{
				"id":        tc.ID,
				"name":      tc.Name,
				"arguments": tc.Arguments,
			})
		}
		data[events.FieldToolCalls] = calls
		return events.KindToolCalls, data, true

	case workflow.KindToolCallChunks:
		var chunks []map[string]any
		for _, c := range ev.ToolCallChunks {
			if !shouldSaveToolCallChunk(c.Name, c.ArgumentChunk) {
				continue
			}
			chunks = append(chunks, map[string]any{
				"id":             c.ID,
				"name":           c.Name,
				"argument_chunk": c.ArgumentChunk,
				"index":          c.Index,
			})
		}
		if len(chunks) == 0 {
			return "", nil, false
		}
		data[events.FieldChunks] = chunks
		return events.KindToolCallChunks, data, true

	case workflow.KindToolCallResult:
		data[events.FieldToolCallID] = ev.ToolCallID
		data["result"] = ev.Result
		return events.KindToolCallResult, data, true

	case workflow.KindInterrupt:
		options := ev.InterruptOptions
		if len(options) == 0 {
			options = workflow.DefaultInterruptOptions()
		}
		wireOptions := make([]map[string]string, 0, len(options))
		for _, o := range options {
			wireOptions = append(wireOptions, map[string]string{"text": o.Text, "value": o.Value})
		}
		data[events.FieldMessage] = ev.InterruptMessage
		data[events.FieldOptions] = wireOptions
		return events.KindInterrupt, data, true

	case workflow.KindResearchStart:
		return events.KindResearchStart, data, true

	case workflow.KindResearchEnd:
		return events.KindResearchEnd, data, true

	default:
		return "", nil, false
	}
}
