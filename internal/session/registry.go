package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/pkg/store"
)

// Registry holds the live sessions of the process, keyed by conversation ID.
// Acquire returns the existing session or creates one, hydrating its context
// window from the store; concurrent first requests for the same conversation
// are collapsed so hydration runs once. A periodic sweep evicts sessions
// idle past the configured timeout.
type Registry struct {
	factory     func(conversationID string) *Session
	store       store.Store
	metrics     *observe.Metrics
	idleTimeout time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	sf       singleflight.Group
}

// RegistryConfig configures a [Registry].
type RegistryConfig struct {
	// Factory builds a fully wired session for a conversation. Must not be
	// nil. The registry hydrates the session's context window afterwards.
	Factory func(conversationID string) *Session

	// Store hydrates new sessions when non-nil.
	Store store.Store

	// Metrics tracks the active session gauge. Must not be nil.
	Metrics *observe.Metrics

	// IdleTimeout is how long an untouched session survives. Defaults to 30m
	// if zero or negative.
	IdleTimeout time.Duration
}

// NewRegistry creates a [Registry] from cfg.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	return &Registry{
		factory:     cfg.Factory,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		idleTimeout: cfg.IdleTimeout,
		sessions:    make(map[string]*Session),
	}
}

// Acquire returns the session for conversationID, creating and hydrating it
// on first use. Concurrent first requests share one hydration.
func (r *Registry) Acquire(ctx context.Context, conversationID string) (*Session, error) {
	r.mu.Lock()
	if s, ok := r.sessions[conversationID]; ok {
		r.mu.Unlock()
		return s, nil
	}
	r.mu.Unlock()

	v, err, _ := r.sf.Do(conversationID, func() (any, error) {
		// A concurrent Acquire may have won the race before we got here.
		r.mu.Lock()
		if s, ok := r.sessions[conversationID]; ok {
			r.mu.Unlock()
			return s, nil
		}
		r.mu.Unlock()

		s := r.factory(conversationID)
		if r.store != nil {
			if err := r.hydrate(ctx, s); err != nil {
				return nil, err
			}
		}

		r.mu.Lock()
		r.sessions[conversationID] = s
		r.mu.Unlock()
		r.metrics.ActiveSessions.Add(ctx, 1)
		observe.Logger(ctx).Info("session created", "conversation_id", conversationID)
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Attach acquires the session for conversationID and pins it against idle
// eviction for the lifetime of a connection. The returned release func must
// be called when the connection closes; it is safe to call more than once.
// Connection handlers use Attach instead of Acquire so a long-lived quiet
// connection never ends up holding an evicted session.
func (r *Registry) Attach(ctx context.Context, conversationID string) (*Session, func(), error) {
	for {
		s, err := r.Acquire(ctx, conversationID)
		if err != nil {
			return nil, nil, err
		}
		r.mu.Lock()
		if r.sessions[conversationID] == s {
			s.retain()
			r.mu.Unlock()
			var once sync.Once
			return s, func() { once.Do(s.release) }, nil
		}
		// Evicted between Acquire and the pin; acquire a fresh one.
		r.mu.Unlock()
	}
}

// hydrate seeds the session's context window from persisted history.
func (r *Registry) hydrate(ctx context.Context, s *Session) error {
	summary, err := r.store.LoadContextSummary(ctx, s.id)
	if err != nil {
		return fmt.Errorf("registry: load summary for %q: %w", s.id, err)
	}
	turns, err := r.store.LoadRecentTurns(ctx, s.id, 0)
	if err != nil {
		return fmt.Errorf("registry: load turns for %q: %w", s.id, err)
	}
	if summary != "" || len(turns) > 0 {
		s.cm.Hydrate(summary, turns)
	}
	return nil
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// EvictIdle drops sessions idle longer than the timeout. Sessions with a
// turn in flight or an attached connection are skipped and reconsidered on
// the next sweep. Returns the number of sessions evicted.
func (r *Registry) EvictIdle(now time.Time) int {
	r.mu.Lock()
	var evicted []*Session
	for id, s := range r.sessions {
		if s.Busy() || s.pinned() || now.Sub(s.LastActive()) < r.idleTimeout {
			continue
		}
		delete(r.sessions, id)
		evicted = append(evicted, s)
	}
	r.mu.Unlock()

	for _, s := range evicted {
		// Let write-behind saves and compressions finish before the session
		// is dropped; state is in the store, so re-acquire rehydrates it.
		go func(s *Session) {
			s.Drain()
			slog := observe.Logger(context.Background())
			slog.Info("session evicted", "conversation_id", s.ID())
		}(s)
		r.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	return len(evicted)
}

// Sweep runs EvictIdle every interval until ctx is cancelled.
func (r *Registry) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := r.EvictIdle(now); n > 0 {
				observe.Logger(ctx).Debug("idle sweep", "evicted", n)
			}
		}
	}
}
