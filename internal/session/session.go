package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/pkg/provider/completion"
	"github.com/parley-ai/parley/pkg/provider/synthesize"
	"github.com/parley-ai/parley/pkg/provider/transcribe"
	"github.com/parley-ai/parley/pkg/store"
	"github.com/parley-ai/parley/pkg/turn"
)

// Timeouts bounds the individual pipeline stages of a turn.
type Timeouts struct {
	Transcribe time.Duration
	Complete   time.Duration
	Synthesize time.Duration
	Summarize  time.Duration
}

func (t *Timeouts) applyDefaults() {
	if t.Transcribe <= 0 {
		t.Transcribe = 30 * time.Second
	}
	if t.Complete <= 0 {
		t.Complete = 120 * time.Second
	}
	if t.Synthesize <= 0 {
		t.Synthesize = 60 * time.Second
	}
	if t.Summarize <= 0 {
		t.Summarize = 60 * time.Second
	}
}

// Config assembles the collaborators of one [Session].
type Config struct {
	// ConversationID identifies the conversation this session serves.
	ConversationID string

	// Context is the conversation's context window. Must not be nil.
	Context *ContextManager

	// Completer is the main completion profile. Must not be nil.
	Completer completion.Client

	// Transcriber enables voice input when non-nil.
	Transcriber transcribe.Transcriber

	// Synthesizer enables voice output when non-nil. Synthesis failures
	// never fail the turn; the text response is already delivered.
	Synthesizer synthesize.Synthesizer

	// Store persists turns and summaries when non-nil. Saves are
	// write-behind; failures are logged, never surfaced to the turn.
	Store store.Store

	// Metrics records pipeline telemetry. Must not be nil; use
	// [observe.DefaultMetrics] outside tests.
	Metrics *observe.Metrics

	// SystemPrompt leads every completion call. Optional.
	SystemPrompt string

	// Timeouts bounds pipeline stages. Zero fields get defaults.
	Timeouts Timeouts
}

// Session runs the turn pipeline for one conversation: transcribe (voice
// only), complete with live streaming, synthesize (voice only), then
// background context compression.
//
// A session processes at most one turn at a time. Input arriving while a
// turn is in flight is rejected with [ErrBusy]; there is no queue. All
// methods are safe for concurrent use.
type Session struct {
	id          string
	cm          *ContextManager
	completer   completion.Client
	transcriber transcribe.Transcriber
	synthesizer synthesize.Synthesizer
	store       store.Store
	metrics     *observe.Metrics
	sysPrompt   string
	timeouts    Timeouts

	mu         sync.Mutex
	busy       bool
	cancelTurn context.CancelFunc
	lastActive time.Time
	refs       int

	// background keeps eviction from racing in-flight saves and compressions.
	background sync.WaitGroup
}

// New creates a [Session] from cfg.
func New(cfg Config) *Session {
	cfg.Timeouts.applyDefaults()
	return &Session{
		id:          cfg.ConversationID,
		cm:          cfg.Context,
		completer:   cfg.Completer,
		transcriber: cfg.Transcriber,
		synthesizer: cfg.Synthesizer,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		sysPrompt:   cfg.SystemPrompt,
		timeouts:    cfg.Timeouts,
		lastActive:  time.Now(),
	}
}

// ID returns the conversation ID this session serves.
func (s *Session) ID() string { return s.id }

// Busy reports whether a turn is currently in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

// LastActive returns when the session last started or finished a turn.
func (s *Session) LastActive() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive
}

// Cancel aborts the in-flight turn, if any. The turn finishes with a
// cancelled error event; partial assistant output is discarded. Safe to call
// when no turn is running.
func (s *Session) Cancel() {
	s.mu.Lock()
	cancel := s.cancelTurn
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Drain blocks until background saves and compressions have finished.
// Called by the registry before dropping an evicted session.
func (s *Session) Drain() {
	s.background.Wait()
}

// retain pins the session against idle eviction while a connection holds it.
func (s *Session) retain() {
	s.mu.Lock()
	s.refs++
	s.mu.Unlock()
}

// release drops one pin. The idle clock restarts so a conversation whose
// connection just closed gets a full idle window before eviction.
func (s *Session) release() {
	s.mu.Lock()
	s.refs--
	s.lastActive = time.Now()
	s.mu.Unlock()
}

// pinned reports whether any connection currently holds the session.
func (s *Session) pinned() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refs > 0
}

// ProcessText runs one text turn: append the user turn, stream the
// completion to sink, append the assistant turn, optionally synthesize
// speech. Returns [ErrBusy] when a turn is already in flight.
func (s *Session) ProcessText(ctx context.Context, text string, sink Sink) error {
	ctx, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	turnID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "session.turn",
		trace.WithAttributes(observe.Attr("conversation_id", s.id), observe.Attr("kind", "text")),
	)
	defer span.End()

	return s.runTurn(ctx, turnID, "text", text, sink)
}

// ProcessVoice runs one voice turn: transcribe the WAV input, then proceed
// as a text turn with the transcript, synthesizing the reply when a
// synthesizer is configured. Returns [ErrBusy] when a turn is already in
// flight.
func (s *Session) ProcessVoice(ctx context.Context, wav []byte, sink Sink) error {
	ctx, release, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer release()

	turnID := uuid.NewString()
	ctx, span := observe.StartSpan(ctx, "session.turn",
		trace.WithAttributes(observe.Attr("conversation_id", s.id), observe.Attr("kind", "voice")),
	)
	defer span.End()

	text, terr := s.transcribeStage(ctx, turnID, wav, sink)
	if terr != nil {
		s.failTurn(ctx, turnID, "voice", terr, sink)
		return terr
	}

	return s.runTurn(ctx, turnID, "voice", text, sink)
}

// begin claims the session for one turn. The returned context is cancelled
// by [Session.Cancel]; release must be deferred.
func (s *Session) begin(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		s.metrics.BusyRejections.Add(ctx, 1)
		return nil, nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	s.busy = true
	s.cancelTurn = cancel
	s.lastActive = time.Now()
	s.mu.Unlock()

	release := func() {
		cancel()
		s.mu.Lock()
		s.busy = false
		s.cancelTurn = nil
		s.lastActive = time.Now()
		s.mu.Unlock()
	}
	return ctx, release, nil
}

// runTurn executes the shared pipeline tail: user turn append, streamed
// completion, assistant turn append, optional synthesis, and background
// compression.
func (s *Session) runTurn(ctx context.Context, turnID, kind, text string, sink Sink) error {
	start := time.Now()
	log := observe.Logger(ctx).With("conversation_id", s.id, "turn_id", turnID)

	sink.Emit(UserMessage{TurnID: turnID, Text: text})
	userTurn := s.cm.Append(turn.Turn{Role: turn.RoleUser, Content: text})
	s.persistTurn(userTurn)

	sink.Emit(StatusEvent{TurnID: turnID, Stage: StageThinking})
	reply, terr := s.completeStage(ctx, turnID, sink)
	if terr != nil {
		s.failTurn(ctx, turnID, kind, terr, sink)
		return terr
	}

	sink.Emit(AssistantComplete{TurnID: turnID, Text: reply})
	assistantTurn := s.cm.Append(turn.Turn{Role: turn.RoleAssistant, Content: reply})
	s.persistTurn(assistantTurn)

	if s.synthesizer != nil {
		s.synthesizeStage(ctx, turnID, reply, sink)
	}

	s.metrics.TurnDuration.Record(ctx, time.Since(start).Seconds())
	s.metrics.RecordTurn(ctx, kind, "ok")
	log.Info("turn completed", "duration", time.Since(start))

	s.compressInBackground()
	return nil
}

// transcribeStage converts WAV audio to text. An empty transcript is a turn
// failure of kind empty_transcription; nothing is appended to the window.
func (s *Session) transcribeStage(ctx context.Context, turnID string, wav []byte, sink Sink) (string, *TurnError) {
	sink.Emit(StatusEvent{TurnID: turnID, Stage: StageTranscribing})

	tctx, cancel := context.WithTimeout(ctx, s.timeouts.Transcribe)
	defer cancel()

	start := time.Now()
	text, err := s.transcriber.Transcribe(tctx, wav)
	s.metrics.TranscribeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		return "", classifyStage(err, KindTranscriptionFailed)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return "", &TurnError{Kind: KindEmptyTranscription}
	}
	return text, nil
}

// completeStage streams the completion, forwarding chunks to sink, and
// returns the accumulated reply with reasoning sections stripped.
func (s *Session) completeStage(ctx context.Context, turnID string, sink Sink) (string, *TurnError) {
	cctx, cancel := context.WithTimeout(ctx, s.timeouts.Complete)
	defer cancel()

	msgs := s.cm.Assemble(s.sysPrompt)
	start := time.Now()
	chunks, err := s.completer.Stream(cctx, msgs)
	if err != nil {
		return "", classifyCompletion(err)
	}

	var sb strings.Builder
	for ch := range chunks {
		if ch.Err != nil {
			// Partial output is discarded; the client sees the error event
			// and the window keeps only the user turn.
			return "", classifyCompletion(ch.Err)
		}
		if ch.Text != "" {
			sb.WriteString(ch.Text)
			sink.Emit(AssistantChunk{TurnID: turnID, Text: ch.Text})
		}
	}
	// A stream can close quietly when its context ends; treat that as the
	// context's failure, not a complete response.
	if err := cctx.Err(); err != nil {
		return "", classifyCompletion(err)
	}
	s.metrics.CompleteDuration.Record(ctx, time.Since(start).Seconds())

	reply := strings.TrimSpace(completion.StripReasoning(sb.String()))
	if reply == "" {
		return "", &TurnError{Kind: KindProtocolError, Err: errEmptyCompletion}
	}
	return reply, nil
}

// synthesizeStage produces speech for the reply. Failures emit a
// synthesis_failed error event but never fail the turn; the text response
// has already been delivered.
func (s *Session) synthesizeStage(ctx context.Context, turnID, reply string, sink Sink) {
	sink.Emit(StatusEvent{TurnID: turnID, Stage: StageSynthesizing})

	sctx, cancel := context.WithTimeout(ctx, s.timeouts.Synthesize)
	defer cancel()

	start := time.Now()
	res, err := s.synthesizer.Synthesize(sctx, reply)
	s.metrics.SynthesizeDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		terr := classifyStage(err, KindSynthesisFailed)
		observe.Logger(ctx).Warn("synthesis failed",
			"conversation_id", s.id, "turn_id", turnID, "error", err)
		sink.Emit(ErrorEvent{TurnID: turnID, Kind: terr.Kind, Message: terr.Error()})
		return
	}

	sink.Emit(AssistantAudio{TurnID: turnID, Audio: res.Audio, Format: res.Format})
}

// failTurn emits the error event and records failure telemetry.
func (s *Session) failTurn(ctx context.Context, turnID, kind string, terr *TurnError, sink Sink) {
	sink.Emit(ErrorEvent{TurnID: turnID, Kind: terr.Kind, Message: terr.Error()})
	s.metrics.RecordTurn(ctx, kind, string(terr.Kind))
	if terr.Kind == KindBackendUnavailable || terr.Kind == KindBackendError || terr.Kind == KindProtocolError {
		s.metrics.RecordBackendError(ctx, "main", string(terr.Kind))
	}
	observe.Logger(ctx).Warn("turn failed",
		"conversation_id", s.id, "turn_id", turnID, "kind", terr.Kind, "error", terr.Err)
}

// persistTurn saves t write-behind. Store failures are logged and the
// session carries on; the in-memory window stays authoritative.
func (s *Session) persistTurn(t turn.Turn) {
	if s.store == nil {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.store.SaveTurn(ctx, s.id, t); err != nil {
			observe.Logger(ctx).Error("turn save failed",
				"conversation_id", s.id, "seq", t.Seq, "error", err)
		}
	}()
}

// compressInBackground folds the context window if it crossed the threshold.
// Runs detached from the turn so the next input is never blocked; failures
// are logged and retried after the next turn.
func (s *Session) compressInBackground() {
	if !s.cm.NeedsCompression() {
		return
	}
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.timeouts.Summarize)
		defer cancel()

		start := time.Now()
		res, err := s.cm.MaybeCompress(ctx)
		if err != nil {
			s.metrics.RecordCompression(ctx, "error")
			observe.Logger(ctx).Error("context compression failed",
				"conversation_id", s.id, "error", err)
			return
		}
		if res.Folded == 0 {
			s.metrics.RecordCompression(ctx, "skipped")
			return
		}
		s.metrics.SummarizeDuration.Record(ctx, time.Since(start).Seconds())
		s.metrics.RecordCompression(ctx, "ok")
		observe.Logger(ctx).Info("context compressed",
			"conversation_id", s.id, "folded", res.Folded, "through_seq", res.ThroughSeq)

		if s.store != nil {
			if err := s.store.SaveContextSummary(ctx, s.id, res.Summary, res.ThroughSeq); err != nil {
				observe.Logger(ctx).Error("summary save failed",
					"conversation_id", s.id, "error", err)
			}
		}
	}()
}
