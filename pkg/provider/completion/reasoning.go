package completion

import (
	"regexp"
	"strings"
)

// thinkPattern matches <think>...</think> blocks emitted by reasoning models
// served through OpenAI-compatible endpoints.
var thinkPattern = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripReasoning removes <think>...</think> blocks from text and trims the
// result. Reasoning traces must never reach the context window, the client,
// or the synthesizer.
func StripReasoning(text string) string {
	return strings.TrimSpace(thinkPattern.ReplaceAllString(text, ""))
}
