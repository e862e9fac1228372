package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/parley-ai/parley/pkg/turn"
)

// charsPerToken is the heuristic ratio used for token estimation.
// English text averages roughly 4 characters per token across common
// LLM tokenizers. This avoids pulling in a tokenizer dependency.
const charsPerToken = 4

// ContextManager owns one conversation's context window: an ordered list of
// turns plus a rolling summary of everything already folded away. When the
// estimated token count crosses threshold × maxTokens, the turns older than
// the keepRecent most recent ones are folded into the summary by a summary
// model.
//
// Compression runs in the background between turns. Appends only extend the
// tail of the window, so the fold prefix selected at the start of a
// compression stays valid while the (slow) summary call runs without the
// lock; the splice afterwards removes exactly the folded turns by sequence
// number.
//
// All methods are safe for concurrent use.
type ContextManager struct {
	maxTokens  int
	threshold  float64
	keepRecent int
	summariser Summariser

	mu            sync.Mutex
	turns         []turn.Turn
	turnTokens    int
	summary       string
	summaryTokens int
	nextSeq       uint64
	dirty         bool
	folding       bool
}

// ContextManagerConfig configures a [ContextManager].
type ContextManagerConfig struct {
	// MaxTokens is the context window budget in estimated tokens.
	// Defaults to 4096 if zero or negative.
	MaxTokens int

	// Threshold is the fraction of MaxTokens at which compression triggers.
	// Defaults to 0.8 if zero or negative.
	Threshold float64

	// KeepRecent is the number of most recent turns never folded into the
	// summary. Defaults to 4 if zero or negative.
	KeepRecent int

	// Summariser folds old turns into the rolling summary. Must not be nil.
	Summariser Summariser
}

// NewContextManager creates a [ContextManager] with the given configuration.
func NewContextManager(cfg ContextManagerConfig) *ContextManager {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.8
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 4
	}
	return &ContextManager{
		maxTokens:  cfg.MaxTokens,
		threshold:  cfg.Threshold,
		keepRecent: cfg.KeepRecent,
		summariser: cfg.Summariser,
	}
}

// Hydrate seeds the window from persisted state. It replaces whatever the
// window holds and resets the sequence counter past the highest loaded turn,
// so it must be called before the session processes any turn.
func (cm *ContextManager) Hydrate(summary string, turns []turn.Turn) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.summary = summary
	cm.summaryTokens = estimateText(summary)
	cm.turns = make([]turn.Turn, len(turns))
	copy(cm.turns, turns)

	cm.turnTokens = 0
	for i := range cm.turns {
		if cm.turns[i].Tokens == 0 {
			cm.turns[i].Tokens = estimateText(cm.turns[i].Content)
		}
		cm.turnTokens += cm.turns[i].Tokens
		if cm.turns[i].Seq >= cm.nextSeq {
			cm.nextSeq = cm.turns[i].Seq + 1
		}
	}
	cm.dirty = true
}

// Append stamps t with the next sequence number, an estimated token count,
// and a creation time if missing, then appends it to the window. The stamped
// turn is returned for persistence.
func (cm *ContextManager) Append(t turn.Turn) turn.Turn {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	t.Seq = cm.nextSeq
	cm.nextSeq++
	if t.Tokens == 0 {
		t.Tokens = estimateText(t.Content)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	cm.turns = append(cm.turns, t)
	cm.turnTokens += t.Tokens
	cm.dirty = true
	return t
}

// Assemble builds the message list for a completion call: the system prompt,
// the rolling summary (as a second system message), then the live turns in
// order. The returned slice is a snapshot; later appends do not affect it.
func (cm *ContextManager) Assemble(systemPrompt string) []turn.Message {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	msgs := make([]turn.Message, 0, len(cm.turns)+2)
	if systemPrompt != "" {
		msgs = append(msgs, turn.Message{Role: turn.RoleSystem, Content: systemPrompt})
	}
	if cm.summary != "" {
		msgs = append(msgs, turn.Message{
			Role:    turn.RoleSystem,
			Content: fmt.Sprintf("[Conversation so far]: %s", cm.summary),
		})
	}
	for _, t := range cm.turns {
		msgs = append(msgs, turn.Message{Role: t.Role, Content: t.Content})
	}
	return msgs
}

// TokenEstimate returns the current estimated token count of the window,
// summary included.
func (cm *ContextManager) TokenEstimate() int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.turnTokens + cm.summaryTokens
}

// Turns returns a copy of the live (unfolded) turns.
func (cm *ContextManager) Turns() []turn.Turn {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	out := make([]turn.Turn, len(cm.turns))
	copy(out, cm.turns)
	return out
}

// Summary returns the current rolling summary.
func (cm *ContextManager) Summary() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.summary
}

// CompressionResult describes one completed fold.
type CompressionResult struct {
	// Summary is the new rolling summary after the fold.
	Summary string

	// ThroughSeq is the highest turn sequence folded into the summary.
	// Turns with Seq <= ThroughSeq are no longer in the live window.
	ThroughSeq uint64

	// Folded is the number of turns removed from the window. Zero means the
	// compression was skipped (below threshold, nothing foldable, already
	// compressed, or another fold in flight).
	Folded int
}

// MaybeCompress folds old turns into the rolling summary when the window is
// over threshold. It is a no-op when the window is under threshold, when only
// the keepRecent tail remains, when nothing changed since the last successful
// fold, or when another fold is already running.
//
// The summary model call runs without the window lock, so turns keep flowing
// while the fold is in flight. On failure the window is left untouched and
// the next call retries.
func (cm *ContextManager) MaybeCompress(ctx context.Context) (CompressionResult, error) {
	cm.mu.Lock()
	if !cm.needsCompressionLocked() || cm.folding {
		cm.mu.Unlock()
		return CompressionResult{}, nil
	}
	cm.folding = true

	// Select the fold prefix. Appends only extend the tail, so this prefix
	// is stable while the lock is released.
	fold := len(cm.turns) - cm.keepRecent
	prefix := make([]turn.Turn, fold)
	copy(prefix, cm.turns[:fold])
	prior := cm.summary
	throughSeq := prefix[fold-1].Seq
	seqAtStart := cm.nextSeq
	cm.mu.Unlock()

	summary, err := cm.summariser.Summarise(ctx, prior, prefix)
	if err == nil && estimateText(summary) > cm.maxTokens/2 {
		// The rolling summary itself grew too large; condense it again.
		summary, err = cm.summariser.Summarise(ctx, summary, nil)
	}

	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.folding = false
	if err != nil {
		return CompressionResult{}, fmt.Errorf("context compress: %w", err)
	}

	// Splice: drop exactly the folded prefix. Concurrent appends landed
	// after it, so everything with Seq > throughSeq survives.
	kept := cm.turns[:0]
	keptTokens := 0
	for _, t := range cm.turns {
		if t.Seq > throughSeq {
			kept = append(kept, t)
			keptTokens += t.Tokens
		}
	}
	cm.turns = kept
	cm.turnTokens = keptTokens
	cm.summary = summary
	cm.summaryTokens = estimateText(summary)
	// Appends that landed while the fold was in flight still count as new.
	cm.dirty = cm.nextSeq != seqAtStart

	return CompressionResult{Summary: summary, ThroughSeq: throughSeq, Folded: fold}, nil
}

// NeedsCompression reports whether a call to [ContextManager.MaybeCompress]
// would attempt a fold right now.
func (cm *ContextManager) NeedsCompression() bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.needsCompressionLocked() && !cm.folding
}

func (cm *ContextManager) needsCompressionLocked() bool {
	if !cm.dirty {
		return false
	}
	if len(cm.turns) <= cm.keepRecent {
		return false
	}
	threshold := int(float64(cm.maxTokens) * cm.threshold)
	return cm.turnTokens+cm.summaryTokens > threshold
}

// estimateText returns a rough token count for s using the
// 1-token-per-4-characters heuristic.
func estimateText(s string) int {
	if s == "" {
		return 0
	}
	tokens := len(s) / charsPerToken
	if tokens == 0 {
		tokens = 1
	}
	return tokens
}
