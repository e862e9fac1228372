package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/parley-ai/parley/pkg/provider/completion"
)

// Kind classifies a turn failure for clients and metrics.
type Kind string

const (
	// KindBusy means input arrived while another turn was in flight.
	KindBusy Kind = "busy"

	// KindEmptyTranscription means speech input produced no usable text.
	KindEmptyTranscription Kind = "empty_transcription"

	// KindTranscriptionFailed means the speech-to-text engine failed.
	KindTranscriptionFailed Kind = "transcription_failed"

	// KindBackendUnavailable means the completion endpoint was unreachable.
	KindBackendUnavailable Kind = "backend_unavailable"

	// KindBackendError means the completion endpoint returned an error status.
	KindBackendError Kind = "backend_error"

	// KindProtocolError means the completion stream was malformed.
	KindProtocolError Kind = "protocol_error"

	// KindSynthesisFailed means text-to-speech failed after a successful
	// completion. The assistant text is still delivered.
	KindSynthesisFailed Kind = "synthesis_failed"

	// KindCancelled means the turn was cancelled by the client or disconnect.
	KindCancelled Kind = "cancelled"

	// KindTimeout means a pipeline stage exceeded its deadline.
	KindTimeout Kind = "timeout"

	// KindCompressionFailed means background context compression failed.
	// Never fails a turn; surfaces only in logs and metrics.
	KindCompressionFailed Kind = "compression_failed"
)

// TurnError is a classified turn failure. The Kind is stable API for clients;
// Err carries the underlying cause for logs.
type TurnError struct {
	Kind Kind
	Err  error
}

func (e *TurnError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *TurnError) Unwrap() error { return e.Err }

// ErrBusy is returned when a session rejects input because a turn is already
// in flight. There is no input queue.
var ErrBusy = &TurnError{Kind: KindBusy}

// errEmptyCompletion marks a stream that closed without producing any text.
var errEmptyCompletion = errors.New("backend produced no output")

// classifyCompletion maps a completion client error to a turn error kind.
func classifyCompletion(err error) *TurnError {
	switch {
	case errors.Is(err, context.Canceled):
		return &TurnError{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &TurnError{Kind: KindTimeout, Err: err}
	case errors.Is(err, completion.ErrUnavailable):
		return &TurnError{Kind: KindBackendUnavailable, Err: err}
	case errors.Is(err, completion.ErrProtocol):
		return &TurnError{Kind: KindProtocolError, Err: err}
	}
	var be *completion.BackendError
	if errors.As(err, &be) {
		return &TurnError{Kind: KindBackendError, Err: err}
	}
	return &TurnError{Kind: KindProtocolError, Err: err}
}

// classifyStage maps an error from a non-completion stage (transcription or
// synthesis) to a turn error, preferring cancellation and timeout over the
// stage's own kind.
func classifyStage(err error, kind Kind) *TurnError {
	switch {
	case errors.Is(err, context.Canceled):
		return &TurnError{Kind: KindCancelled, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &TurnError{Kind: KindTimeout, Err: err}
	}
	return &TurnError{Kind: kind, Err: err}
}
