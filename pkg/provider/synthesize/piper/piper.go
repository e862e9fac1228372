// Package piper provides an offline Synthesizer backed by the Piper TTS
// engine, invoked as a subprocess.
//
// Piper reads one line of text on stdin and writes a complete WAV file to the
// path given by --output_file ("-" for stdout). One process is spawned per
// Synthesize call; the voice model stays cached on disk, and process startup
// is cheap compared to synthesis itself. Cancelling the context kills the
// subprocess.
package piper

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/parley-ai/parley/pkg/provider/synthesize"
)

// Synthesizer implements synthesize.Synthesizer by shelling out to the piper
// binary. It is safe for concurrent use; each call runs its own process.
type Synthesizer struct {
	binary      string
	modelPath   string
	speakerID   int
	lengthScale float64
}

// Compile-time assertion that Synthesizer satisfies synthesize.Synthesizer.
var _ synthesize.Synthesizer = (*Synthesizer)(nil)

// Option is a functional option for configuring a Synthesizer.
type Option func(*Synthesizer)

// WithBinary overrides the piper executable path. Defaults to "piper",
// resolved via PATH.
func WithBinary(path string) Option {
	return func(s *Synthesizer) { s.binary = path }
}

// WithSpeaker selects a speaker index for multi-speaker voice models.
// Defaults to 0.
func WithSpeaker(id int) Option {
	return func(s *Synthesizer) { s.speakerID = id }
}

// WithLengthScale adjusts speaking rate; values above 1.0 slow speech down.
// Zero (the default) leaves piper's own default in place.
func WithLengthScale(scale float64) Option {
	return func(s *Synthesizer) { s.lengthScale = scale }
}

// New creates a Synthesizer for the voice model at modelPath (a piper .onnx
// file with its .onnx.json config alongside).
func New(modelPath string, opts ...Option) (*Synthesizer, error) {
	if modelPath == "" {
		return nil, errors.New("piper: modelPath must not be empty")
	}
	s := &Synthesizer{
		binary:    "piper",
		modelPath: modelPath,
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Synthesize implements synthesize.Synthesizer.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (synthesize.Result, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return synthesize.Result{}, errors.New("piper: text must not be empty")
	}
	// Piper treats each input line as a separate utterance and emits one WAV
	// per line on stdout; collapse newlines so the reply stays one file.
	text = strings.Join(strings.Fields(text), " ")

	cmd := exec.CommandContext(ctx, s.binary, s.args()...)
	cmd.Stdin = strings.NewReader(text + "\n")

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return synthesize.Result{}, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return synthesize.Result{}, fmt.Errorf("piper: %s: %w", msg, err)
		}
		return synthesize.Result{}, fmt.Errorf("piper: run: %w", err)
	}

	audio := stdout.Bytes()
	if len(audio) == 0 {
		return synthesize.Result{}, errors.New("piper: produced no audio")
	}
	return synthesize.Result{Audio: audio, Format: "wav"}, nil
}

// args builds the piper command line for this synthesizer's configuration.
func (s *Synthesizer) args() []string {
	args := []string{
		"--model", s.modelPath,
		"--output_file", "-",
	}
	if s.speakerID > 0 {
		args = append(args, "--speaker", strconv.Itoa(s.speakerID))
	}
	if s.lengthScale > 0 {
		args = append(args, "--length_scale", strconv.FormatFloat(s.lengthScale, 'f', -1, 64))
	}
	return args
}
