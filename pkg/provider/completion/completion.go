// Package completion defines the Client interface for chat-completion
// backends.
//
// A completion client wraps a remote or local model endpoint (an
// OpenAI-compatible server such as LM Studio or vLLM, or any backend reachable
// through any-llm-go) and exposes a uniform streaming interface to the session
// engine. Parley runs two independently configured clients — a main profile
// for user-facing replies and a summary profile for context compression — see
// [Profiles].
//
// Implementors must be safe for concurrent use. Channels returned by Stream
// must be closed by the implementation when the stream ends or when the
// supplied context is cancelled.
package completion

import (
	"context"
	"errors"
	"fmt"

	"github.com/parley-ai/parley/pkg/turn"
)

// ErrUnavailable indicates the backend could not be reached at all
// (connection refused, DNS failure, dial timeout). The request never started.
var ErrUnavailable = errors.New("completion backend unavailable")

// ErrProtocol indicates the backend responded but its stream framing or
// response body could not be interpreted.
var ErrProtocol = errors.New("completion protocol error")

// BackendError is returned when the backend answers with a non-2xx status.
type BackendError struct {
	// Status is the HTTP status code reported by the backend.
	Status int

	// Message is the backend's error description, if any.
	Message string
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("completion backend error: status %d", e.Status)
	}
	return fmt.Sprintf("completion backend error: status %d: %s", e.Status, e.Message)
}

// Chunk is a single text delta emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk. May be empty on the
	// final chunk.
	Text string

	// FinishReason is set on the final chunk and indicates why generation
	// stopped ("stop", "length", ...). Empty for non-final chunks.
	FinishReason string

	// Err is non-nil when the stream failed after it was opened. It is always
	// the last value on the channel and is one of [ErrUnavailable],
	// [ErrProtocol], a [*BackendError], or a context error, possibly wrapped.
	Err error
}

// Client is the abstraction over one configured completion backend.
//
// Implementations must be safe for concurrent use and must propagate context
// cancellation promptly: when ctx is cancelled, Stream's channel is closed and
// the underlying connection released.
type Client interface {
	// Stream sends msgs to the model and returns a read-only channel emitting
	// Chunk values as they arrive. The sequence is lazy, finite, and
	// non-restartable; the implementation closes the channel when generation
	// finishes, fails, or ctx is cancelled. Abandoning the channel mid-stream
	// (by cancelling ctx) releases the connection.
	//
	// The error return is non-nil only for failures that prevent the stream
	// from starting. Errors after that surface as the final Chunk's Err.
	Stream(ctx context.Context, msgs []turn.Message) (<-chan Chunk, error)

	// Complete sends msgs to the model and waits for the full response text.
	Complete(ctx context.Context, msgs []turn.Message) (string, error)
}

// Profiles holds the two named completion clients Parley is configured with.
// Main answers user turns; Summary performs context compression and may point
// at a smaller, cheaper model.
type Profiles struct {
	Main    Client
	Summary Client
}
