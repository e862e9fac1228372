// Package mock provides a test double for the synthesize.Synthesizer
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/synthesize"
)

// Synthesizer is a mock implementation of synthesize.Synthesizer.
type Synthesizer struct {
	mu sync.Mutex

	// Result is returned by Synthesize. A zero value yields empty audio with
	// format "wav".
	Result synthesize.Result

	// Err, if non-nil, is returned as the error from Synthesize.
	Err error

	// Calls records the text passed to each Synthesize invocation.
	Calls []string
}

// Compile-time assertion that Synthesizer satisfies synthesize.Synthesizer.
var _ synthesize.Synthesizer = (*Synthesizer)(nil)

// Synthesize records the call and returns Result / Err.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (synthesize.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, text)
	if s.Err != nil {
		return synthesize.Result{}, s.Err
	}
	if err := ctx.Err(); err != nil {
		return synthesize.Result{}, err
	}
	res := s.Result
	if res.Format == "" {
		res.Format = "wav"
	}
	return res, nil
}

// CallCount returns the number of Synthesize invocations so far.
func (s *Synthesizer) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}
