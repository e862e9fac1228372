package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/turn"
)

// GuardedClient wraps a [completion.Client] with a [CircuitBreaker]. After
// repeated failures to reach the backend, calls fail fast with
// [completion.ErrUnavailable] instead of piling up on a dead endpoint.
//
// Only the call that opens the stream counts toward the breaker; errors
// arriving mid-stream belong to an already-established connection and are
// passed through untouched.
type GuardedClient struct {
	inner completion.Client
	cb    *CircuitBreaker
}

// Compile-time assertion that GuardedClient satisfies completion.Client.
var _ completion.Client = (*GuardedClient)(nil)

// NewGuardedClient wraps inner with a circuit breaker. Zero-value config
// fields get the breaker defaults; cfg.Name appears in breaker log messages.
func NewGuardedClient(inner completion.Client, cfg CircuitBreakerConfig) *GuardedClient {
	return &GuardedClient{
		inner: inner,
		cb:    NewCircuitBreaker(cfg),
	}
}

// Stream opens a completion stream through the breaker.
func (g *GuardedClient) Stream(ctx context.Context, msgs []turn.Message) (<-chan completion.Chunk, error) {
	var ch <-chan completion.Chunk
	err := g.execute(func() error {
		var err error
		ch, err = g.inner.Stream(ctx, msgs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ch, nil
}

// Complete runs a blocking completion through the breaker.
func (g *GuardedClient) Complete(ctx context.Context, msgs []turn.Message) (string, error) {
	var out string
	err := g.execute(func() error {
		var err error
		out, err = g.inner.Complete(ctx, msgs)
		return err
	})
	return out, err
}

// execute runs fn through the breaker. Context cancellation and deadlines are
// the caller's doing, not backend failures, so they are shielded from the
// breaker's failure accounting. An open breaker surfaces as
// [completion.ErrUnavailable].
func (g *GuardedClient) execute(fn func() error) error {
	var shielded error
	err := g.cb.Execute(func() error {
		err := fn()
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			shielded = err
			return nil
		}
		return err
	})
	switch {
	case errors.Is(err, ErrCircuitOpen):
		return fmt.Errorf("resilience: backend suspended: %w", completion.ErrUnavailable)
	case err != nil:
		return err
	}
	return shielded
}

// State exposes the breaker state for health reporting.
func (g *GuardedClient) State() State {
	return g.cb.State()
}
