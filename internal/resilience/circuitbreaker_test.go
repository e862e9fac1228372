package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/parley-ai/parley/pkg/provider/completion"
)

// backendDown stands in for the error an unreachable completion endpoint
// produces.
var backendDown = errors.New("dial: " + completion.ErrUnavailable.Error())

func newTestBreaker(maxFailures int, reset time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "llm-main",
		MaxFailures:  maxFailures,
		ResetTimeout: reset,
		HalfOpenMax:  2,
	})
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "llm-summary"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
}

func TestBreaker_ClosedForwardsCalls(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	calls := 0
	for range 5 {
		if err := cb.Execute(func() error { calls++; return nil }); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if calls != 5 {
		t.Errorf("backend called %d times, want 5", calls)
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed", cb.State())
	}
}

func TestBreaker_OpensAfterConsecutiveBackendFailures(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	for range 3 {
		_ = cb.Execute(func() error { return backendDown })
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after 3 failures, want open", cb.State())
	}

	// The next turn fails fast without touching the backend.
	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() on open breaker = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("open breaker must not call the backend")
	}
}

func TestBreaker_SingleSuccessResetsFailureStreak(t *testing.T) {
	cb := newTestBreaker(3, time.Minute)

	// Two flaky turns, one good one, two flaky again: never enough in a row.
	_ = cb.Execute(func() error { return backendDown })
	_ = cb.Execute(func() error { return backendDown })
	_ = cb.Execute(func() error { return nil })
	_ = cb.Execute(func() error { return backendDown })
	_ = cb.Execute(func() error { return backendDown })

	if cb.State() != StateClosed {
		t.Errorf("state = %v, want closed (streak was broken)", cb.State())
	}
}

func TestBreaker_HalfOpenAfterResetTimeout(t *testing.T) {
	cb := newTestBreaker(1, 10*time.Millisecond)

	_ = cb.Execute(func() error { return backendDown })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if cb.State() != StateHalfOpen {
		t.Errorf("state after reset timeout = %v, want half-open", cb.State())
	}
}

func TestBreaker_ClosesAfterSuccessfulProbes(t *testing.T) {
	cb := newTestBreaker(1, 5*time.Millisecond)

	_ = cb.Execute(func() error { return backendDown })
	time.Sleep(10 * time.Millisecond)

	// The backend recovered; HalfOpenMax successful probes close the breaker.
	for range 2 {
		if err := cb.Execute(func() error { return nil }); err != nil {
			t.Fatalf("probe Execute() error = %v", err)
		}
	}
	if cb.State() != StateClosed {
		t.Errorf("state = %v after successful probes, want closed", cb.State())
	}
}

func TestBreaker_ReopensOnProbeFailure(t *testing.T) {
	cb := newTestBreaker(1, 50*time.Millisecond)

	_ = cb.Execute(func() error { return backendDown })
	time.Sleep(60 * time.Millisecond)

	// The first probe still fails; the breaker snaps open again.
	_ = cb.Execute(func() error { return backendDown })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v after failed probe, want open", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Execute() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreaker_ResetForcesClosed(t *testing.T) {
	cb := newTestBreaker(1, time.Hour)

	_ = cb.Execute(func() error { return backendDown })
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("state after Reset() = %v, want closed", cb.State())
	}
	if err := cb.Execute(func() error { return nil }); err != nil {
		t.Errorf("Execute() after Reset() error = %v", err)
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
