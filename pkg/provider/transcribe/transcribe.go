// Package transcribe defines the Transcriber interface for speech-to-text
// backends.
//
// Parley submits finished audio buffers, not live streams: the client records
// an utterance, ships it as one WAV payload, and the session engine needs the
// full transcript before the turn can proceed. Transcriber therefore exposes
// a single batch call rather than a streaming session.
//
// Implementations must be safe for concurrent use; multiple conversations may
// transcribe at the same time.
package transcribe

import "context"

// Transcriber converts a finished audio buffer into text.
type Transcriber interface {
	// Transcribe recognises speech in wav (a complete RIFF/WAVE buffer with
	// 16-bit PCM samples) and returns the transcript. An empty string with a
	// nil error means the audio decoded fine but contained no recognisable
	// speech; the caller decides how to report that.
	//
	// The call must honour ctx cancellation as promptly as the underlying
	// engine allows.
	Transcribe(ctx context.Context, wav []byte) (string, error)

	// Close releases the underlying model or connection. Calling Transcribe
	// after Close returns an error.
	Close() error
}
