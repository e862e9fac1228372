// Package store defines the narrow persistence contract the session engine
// depends on.
//
// Durable ownership of conversations lives outside the engine: the store is
// the source of truth when a session is created (recent turns and the
// compressed context summary are loaded back into memory) and a write-behind
// sink while the session runs. Conversation CRUD, search, and export are some
// other service's problem.
//
// Every implementation must be safe for concurrent use.
package store

import (
	"context"

	"github.com/parley-ai/parley/pkg/turn"
)

// Store persists turns and context summaries per conversation.
type Store interface {
	// LoadRecentTurns returns up to limit of the most recent turns for the
	// conversation, ordered oldest first. A limit of 0 applies the
	// implementation's default.
	LoadRecentTurns(ctx context.Context, conversationID string, limit int) ([]turn.Turn, error)

	// LoadContextSummary returns the stored context summary for the
	// conversation, or "" when none has been saved.
	LoadContextSummary(ctx context.Context, conversationID string) (string, error)

	// SaveTurn appends one turn to the conversation's durable log.
	SaveTurn(ctx context.Context, conversationID string, t turn.Turn) error

	// SaveContextSummary replaces the conversation's context summary and
	// removes durable turns folded into it (all turns with Seq ≤ throughSeq).
	SaveContextSummary(ctx context.Context, conversationID string, summary string, throughSeq uint64) error
}
