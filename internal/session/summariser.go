// Package session implements conversation sessions for Parley: the context
// window with background compression ([ContextManager]), the turn pipeline
// ([Session]), and the process-wide registry ([Registry]).
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/turn"
)

// defaultSummaryPrompt is the instruction sent to the summary model when no
// prompt is configured.
const defaultSummaryPrompt = `Summarise the following conversation between a user and an assistant.
Preserve: facts the user shared, decisions made, questions still open, and the
assistant's commitments. Write a compact paragraph; drop greetings and filler.`

// Summariser condenses conversation history into a compact summary.
type Summariser interface {
	// Summarise folds the given turns, optionally together with a prior
	// summary, into one condensed summary string.
	Summarise(ctx context.Context, prior string, turns []turn.Turn) (string, error)
}

// CompletionSummariser summarises via a completion client, typically the
// summary model profile.
type CompletionSummariser struct {
	client completion.Client
	prompt string
}

// NewCompletionSummariser creates a [CompletionSummariser]. An empty prompt
// selects the built-in default.
func NewCompletionSummariser(client completion.Client, prompt string) *CompletionSummariser {
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}
	return &CompletionSummariser{client: client, prompt: prompt}
}

// Summarise formats the prior summary and turns into a transcript and asks
// the model for a condensed summary.
func (s *CompletionSummariser) Summarise(ctx context.Context, prior string, turns []turn.Turn) (string, error) {
	if prior == "" && len(turns) == 0 {
		return "", nil
	}

	var sb strings.Builder
	if prior != "" {
		fmt.Fprintf(&sb, "[earlier summary]: %s\n", prior)
	}
	for _, t := range turns {
		fmt.Fprintf(&sb, "[%s]: %s\n", t.Role, t.Content)
	}

	out, err := s.client.Complete(ctx, []turn.Message{
		{Role: turn.RoleSystem, Content: s.prompt},
		{Role: turn.RoleUser, Content: sb.String()},
	})
	if err != nil {
		return "", fmt.Errorf("summarise: %w", err)
	}
	return strings.TrimSpace(out), nil
}
