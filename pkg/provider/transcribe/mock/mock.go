// Package mock provides a test double for the transcribe.Transcriber
// interface.
package mock

import (
	"context"
	"sync"

	"github.com/parley-ai/parley/pkg/provider/transcribe"
)

// Transcriber is a mock implementation of transcribe.Transcriber.
// Zero values cause Transcribe to return "" and nil.
type Transcriber struct {
	mu sync.Mutex

	// Text is returned by Transcribe.
	Text string

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Calls records the WAV buffers passed to Transcribe.
	Calls [][]byte

	// CloseCalls counts Close invocations.
	CloseCalls int
}

// Compile-time assertion that Transcriber satisfies transcribe.Transcriber.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns Text / Err.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = append(t.Calls, wav)
	if t.Err != nil {
		return "", t.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return t.Text, nil
}

// Close records the call.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CloseCalls++
	return nil
}

// CallCount returns the number of Transcribe invocations so far.
func (t *Transcriber) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}
