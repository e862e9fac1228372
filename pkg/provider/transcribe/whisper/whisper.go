// Package whisper provides an offline Transcriber backed by the whisper.cpp
// CGO bindings. The whisper.cpp static library (libwhisper.a) and headers
// (whisper.h) must be available at link time via LIBRARY_PATH and
// C_INCLUDE_PATH.
//
// The model is loaded once at construction and shared across all concurrent
// calls; each Transcribe call creates its own whisper.cpp context, which is
// the unit of thread confinement in the bindings.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/parley-ai/parley/pkg/provider/transcribe"
)

// whisperSampleRate is the sample rate whisper.cpp expects. Input at any
// other rate is resampled before inference.
const whisperSampleRate = 16000

// Transcriber implements transcribe.Transcriber using whisper.cpp.
type Transcriber struct {
	language string

	mu     sync.Mutex
	model  whisperlib.Model
	closed bool
}

// Compile-time assertion that Transcriber satisfies transcribe.Transcriber.
var _ transcribe.Transcriber = (*Transcriber)(nil)

// Option is a functional option for configuring a Transcriber.
type Option func(*Transcriber)

// WithLanguage sets the recognition language (e.g., "en", "de", "zh").
// Defaults to "auto", letting the model detect the language.
func WithLanguage(lang string) Option {
	return func(t *Transcriber) { t.language = lang }
}

// New creates a Transcriber that loads the whisper.cpp model from modelPath.
// The caller must call Close when the transcriber is no longer needed.
func New(modelPath string, opts ...Option) (*Transcriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}

	t := &Transcriber{
		model:    model,
		language: "auto",
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe implements transcribe.Transcriber. It decodes the WAV buffer,
// converts it to mono 16 kHz float samples, and runs whisper.cpp inference.
//
// whisper.cpp has no mid-inference abort hook, so cancellation is observed at
// call boundaries: a cancelled ctx is reported before inference starts and
// after it finishes, but cannot interrupt a running Process call.
func (t *Transcriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return "", errors.New("whisper: transcriber is closed")
	}
	model := t.model
	t.mu.Unlock()

	decoded, err := decodeWAV(wav)
	if err != nil {
		return "", err
	}

	samples := pcmToFloat32Mono(decoded.pcm, decoded.channels)
	samples = resampleLinear(samples, decoded.sampleRate, whisperSampleRate)
	if len(samples) == 0 {
		return "", nil
	}

	// Each inference runs in a fresh context; contexts are not thread-safe
	// but the model is shared.
	wctx, err := model.NewContext()
	if err != nil {
		return "", fmt.Errorf("whisper: create context: %w", err)
	}
	if t.language != "" {
		if err := wctx.SetLanguage(t.language); err != nil {
			return "", fmt.Errorf("whisper: set language %q: %w", t.language, err)
		}
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("whisper: process audio: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("whisper: read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}

	return strings.Join(parts, " "), nil
}

// Close releases the whisper model. Safe to call multiple times.
func (t *Transcriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return t.model.Close()
}
