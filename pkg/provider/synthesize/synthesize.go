// Package synthesize defines the Synthesizer interface for text-to-speech
// backends.
//
// Parley synthesizes the complete assistant reply after streaming has
// finished — the client hears one coherent utterance rather than per-sentence
// fragments — so Synthesizer exposes a single batch call.
//
// Implementations must be safe for concurrent use.
package synthesize

import "context"

// Result is a finished synthesis: encoded audio plus its container format.
type Result struct {
	// Audio is the encoded audio payload.
	Audio []byte

	// Format names the container/encoding (e.g., "wav").
	Format string
}

// Synthesizer converts finished text into an audio buffer.
type Synthesizer interface {
	// Synthesize renders text as speech. The call must honour ctx
	// cancellation as promptly as the underlying engine allows.
	Synthesize(ctx context.Context, text string) (Result, error)
}
