package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/parley-ai/parley/pkg/provider/completion"
)

func TestClassifyCompletion(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"cancelled", context.Canceled, KindCancelled},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"wrapped cancelled", fmt.Errorf("stream: %w", context.Canceled), KindCancelled},
		{"unavailable", fmt.Errorf("dial: %w", completion.ErrUnavailable), KindBackendUnavailable},
		{"protocol", fmt.Errorf("parse: %w", completion.ErrProtocol), KindProtocolError},
		{"backend status", &completion.BackendError{Status: 500, Message: "oops"}, KindBackendError},
		{"unknown", errors.New("mystery"), KindProtocolError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyCompletion(tt.err)
			if got.Kind != tt.want {
				t.Errorf("classifyCompletion(%v).Kind = %s, want %s", tt.err, got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) && !errors.Is(got.Err, tt.err) {
				t.Errorf("classified error lost its cause")
			}
		})
	}
}

func TestClassifyStagePrefersContextErrors(t *testing.T) {
	if got := classifyStage(context.Canceled, KindSynthesisFailed); got.Kind != KindCancelled {
		t.Errorf("Kind = %s, want cancelled", got.Kind)
	}
	if got := classifyStage(context.DeadlineExceeded, KindTranscriptionFailed); got.Kind != KindTimeout {
		t.Errorf("Kind = %s, want timeout", got.Kind)
	}
	if got := classifyStage(errors.New("boom"), KindTranscriptionFailed); got.Kind != KindTranscriptionFailed {
		t.Errorf("Kind = %s, want transcription_failed", got.Kind)
	}
}

func TestTurnErrorFormatting(t *testing.T) {
	if got := ErrBusy.Error(); got != "busy" {
		t.Errorf("ErrBusy.Error() = %q", got)
	}
	e := &TurnError{Kind: KindBackendError, Err: errors.New("status 500")}
	if got := e.Error(); got != "backend_error: status 500" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(e, e.Err) {
		t.Error("Unwrap should expose the cause")
	}
}
