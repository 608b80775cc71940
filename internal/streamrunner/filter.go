package streamrunner

import "strings"

// noiseFragments are streamed tool-call argument chunks that carry no
// information a client could act on: truncated JSON scaffolding and
// lone punctuation a token boundary happens to split off on its own.
// Ported from the original workflow's should_save_tool_call_chunk
// (SPEC_FULL §3): filtering these out measurably shrinks stream
// volume without losing anything a client could render.
var noiseFragments = map[string]bool{
	"{": true, "}": true, "[": true, "]": true,
	"\"": true, ":": true, ",": true, " ": true, "":  true,
}

// shouldSaveToolCallChunk reports whether a streamed tool-call
// argument chunk is worth persisting to the event log.
func shouldSaveToolCallChunk(name, argChunk string) bool {
	if name == "" && strings.TrimSpace(argChunk) == "" {
		return false
	}
	if noiseFragments[strings.TrimSpace(argChunk)] {
		return false
	}
	return true
}
