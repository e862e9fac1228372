// Package mock provides an in-memory test double for the store.Store
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/store"
	"github.com/parley-ai/parley/pkg/turn"
)

// Store is an in-memory implementation of store.Store. It behaves like a real
// store (turns accumulate, summaries replace folded turns) and additionally
// records calls for assertions. Error fields inject failures.
type Store struct {
	mu sync.Mutex

	turns     map[string][]turn.Turn
	summaries map[string]string

	// LoadErr, SaveErr inject failures into the respective operations.
	LoadErr error
	SaveErr error

	// SaveTurnCalls counts SaveTurn invocations.
	SaveTurnCalls int

	// SaveSummaryCalls counts SaveContextSummary invocations.
	SaveSummaryCalls int
}

// Compile-time interface check.
var _ store.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		turns:     make(map[string][]turn.Turn),
		summaries: make(map[string]string),
	}
}

// Seed pre-populates a conversation with turns and a summary.
func (s *Store) Seed(conversationID string, summary string, turns ...turn.Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[conversationID] = append(s.turns[conversationID], turns...)
	if summary != "" {
		s.summaries[conversationID] = summary
	}
}

// LoadRecentTurns implements store.Store.
func (s *Store) LoadRecentTurns(_ context.Context, conversationID string, limit int) ([]turn.Turn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	all := s.turns[conversationID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	out := make([]turn.Turn, len(all))
	copy(out, all)
	return out, nil
}

// LoadContextSummary implements store.Store.
func (s *Store) LoadContextSummary(_ context.Context, conversationID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.LoadErr != nil {
		return "", s.LoadErr
	}
	return s.summaries[conversationID], nil
}

// SaveTurn implements store.Store.
func (s *Store) SaveTurn(_ context.Context, conversationID string, t turn.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveTurnCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.turns[conversationID] = append(s.turns[conversationID], t)
	return nil
}

// SaveContextSummary implements store.Store.
func (s *Store) SaveContextSummary(_ context.Context, conversationID string, summary string, throughSeq uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SaveSummaryCalls++
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.summaries[conversationID] = summary
	kept := s.turns[conversationID][:0:0]
	for _, t := range s.turns[conversationID] {
		if t.Seq > throughSeq {
			kept = append(kept, t)
		}
	}
	s.turns[conversationID] = kept
	return nil
}

// Turns returns a copy of the stored turns for a conversation.
func (s *Store) Turns(conversationID string) []turn.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]turn.Turn, len(s.turns[conversationID]))
	copy(out, s.turns[conversationID])
	return out
}

// Summary returns the stored summary for a conversation.
func (s *Store) Summary(conversationID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaries[conversationID]
}
