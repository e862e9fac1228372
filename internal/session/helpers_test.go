package session

import (
	"context"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/pkg/turn"
)

// waitFor polls cond until it holds, failing the test after two seconds.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

// testMetrics returns an isolated Metrics instance so tests do not pollute
// the global provider.
func testMetrics(t *testing.T) *observe.Metrics {
	t.Helper()
	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m
}

// stubSummariser is a configurable Summariser test double.
type stubSummariser struct {
	mu sync.Mutex

	// Fn computes the summary when set; otherwise Out / Err are returned.
	Fn  func(prior string, turns []turn.Turn) (string, error)
	Out string
	Err error

	// Hold, when non-nil, blocks Summarise until closed.
	Hold chan struct{}

	// Priors and Folded record the arguments of each call.
	Priors []string
	Folded [][]turn.Turn
}

func (s *stubSummariser) Summarise(ctx context.Context, prior string, turns []turn.Turn) (string, error) {
	s.mu.Lock()
	s.Priors = append(s.Priors, prior)
	cp := make([]turn.Turn, len(turns))
	copy(cp, turns)
	s.Folded = append(s.Folded, cp)
	fn, out, err, hold := s.Fn, s.Out, s.Err, s.Hold
	s.mu.Unlock()

	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if fn != nil {
		return fn(prior, turns)
	}
	return out, err
}

func (s *stubSummariser) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Priors)
}

// collector is a Sink that records every emitted event.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Emit(ev Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *collector) all() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// lastError returns the last ErrorEvent emitted, if any.
func (c *collector) lastError() (ErrorEvent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if ev, ok := c.events[i].(ErrorEvent); ok {
			return ev, true
		}
	}
	return ErrorEvent{}, false
}

// assistantText concatenates all AssistantChunk events.
func (c *collector) assistantText() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out string
	for _, ev := range c.events {
		if ch, ok := ev.(AssistantChunk); ok {
			out += ch.Text
		}
	}
	return out
}
