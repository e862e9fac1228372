package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/session"
	"github.com/parley-ai/parley/pkg/provider/completion"
	completionmock "github.com/parley-ai/parley/pkg/provider/completion/mock"
	"github.com/parley-ai/parley/pkg/provider/synthesize"
	synthmock "github.com/parley-ai/parley/pkg/provider/synthesize/mock"
	transcribemock "github.com/parley-ai/parley/pkg/provider/transcribe/mock"
	"github.com/parley-ai/parley/pkg/turn"
)

type serverFixture struct {
	url         string
	completer   *completionmock.Client
	transcriber *transcribemock.Transcriber
	synthesizer *synthmock.Synthesizer
}

// noopSummariser satisfies session.Summariser for tests that never compress.
type noopSummariser struct{}

func (noopSummariser) Summarise(context.Context, string, []turn.Turn) (string, error) {
	return "", nil
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()

	mp := sdkmetric.NewMeterProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := &serverFixture{
		completer:   &completionmock.Client{StreamChunks: []completion.Chunk{{Text: "Hello "}, {Text: "world"}}},
		transcriber: &transcribemock.Transcriber{Text: "spoken words"},
		synthesizer: &synthmock.Synthesizer{Result: synthesize.Result{Audio: []byte{1, 2}, Format: "wav"}},
	}

	registry := session.NewRegistry(session.RegistryConfig{
		Factory: func(conversationID string) *session.Session {
			return session.New(session.Config{
				ConversationID: conversationID,
				Context: session.NewContextManager(session.ContextManagerConfig{
					Summariser: noopSummariser{},
				}),
				Completer:   f.completer,
				Transcriber: f.transcriber,
				Synthesizer: f.synthesizer,
				Metrics:     metrics,
			})
		},
		Metrics: metrics,
	})

	mux := http.NewServeMux()
	NewServer(registry).Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	f.url = "ws" + strings.TrimPrefix(srv.URL, "http")
	return f
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readFrame(t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f outboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

// readUntil reads frames until one of the given type arrives, returning every
// frame read along the way.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) []outboundFrame {
	t.Helper()
	var frames []outboundFrame
	for range 50 {
		f := readFrame(t, conn)
		frames = append(frames, f)
		if f.Type == typ {
			return frames
		}
	}
	t.Fatalf("no %q frame among %d frames", typ, len(frames))
	return nil
}

func TestChatTurnOverWebSocket(t *testing.T) {
	f := newServerFixture(t)
	conn := dial(t, f.url+"/ws/chat/conv-1")

	send(t, conn, map[string]string{"type": "message", "text": "hi there"})
	frames := readUntil(t, conn, outAssistantComplete)

	if frames[0].Type != outUserMessage || frames[0].Text != "hi there" {
		t.Errorf("frames[0] = %+v, want the echoed user message", frames[0])
	}
	if frames[1].Type != outStatus || frames[1].Stage != "thinking" {
		t.Errorf("frames[1] = %+v, want thinking status", frames[1])
	}

	var streamed string
	for _, fr := range frames {
		if fr.Type == outAssistantChunk {
			streamed += fr.Text
		}
	}
	if streamed != "Hello world" {
		t.Errorf("streamed = %q, want %q", streamed, "Hello world")
	}
	final := frames[len(frames)-1]
	if final.Text != "Hello world" {
		t.Errorf("final text = %q, want %q", final.Text, "Hello world")
	}
	if final.TurnID == "" || final.TurnID != frames[0].TurnID {
		t.Error("frames of one turn must share a turn ID")
	}
}

func TestChatRejectsAudioFrames(t *testing.T) {
	f := newServerFixture(t)
	conn := dial(t, f.url+"/ws/chat/conv-1")

	send(t, conn, map[string]string{"type": "audio", "audio": "UklGRg=="})
	fr := readFrame(t, conn)
	if fr.Type != outError || fr.Kind != string(session.KindProtocolError) {
		t.Errorf("frame = %+v, want protocol_error", fr)
	}
	if f.transcriber.CallCount() != 0 {
		t.Error("transcriber must not run for chat connections")
	}
}

func TestChatBusyRejection(t *testing.T) {
	f := newServerFixture(t)
	hold := make(chan struct{})
	f.completer.Hold = hold
	conn := dial(t, f.url+"/ws/chat/conv-1")

	send(t, conn, map[string]string{"type": "message", "text": "one"})
	readUntil(t, conn, outStatus) // first turn is in flight

	send(t, conn, map[string]string{"type": "message", "text": "two"})
	frames := readUntil(t, conn, outError)
	if got := frames[len(frames)-1].Kind; got != string(session.KindBusy) {
		t.Errorf("error kind = %q, want busy", got)
	}

	close(hold)
	readUntil(t, conn, outAssistantComplete)
	if f.completer.StreamCallCount() != 1 {
		t.Errorf("backend called %d times, want 1", f.completer.StreamCallCount())
	}
}

func TestChatCancelFrame(t *testing.T) {
	f := newServerFixture(t)
	hold := make(chan struct{})
	defer close(hold)
	f.completer.Hold = hold
	conn := dial(t, f.url+"/ws/chat/conv-1")

	send(t, conn, map[string]string{"type": "message", "text": "take your time"})
	readUntil(t, conn, outAssistantChunk)

	send(t, conn, map[string]string{"type": "cancel"})
	frames := readUntil(t, conn, outError)
	if got := frames[len(frames)-1].Kind; got != string(session.KindCancelled) {
		t.Errorf("error kind = %q, want cancelled", got)
	}
}

func TestVoiceTurnWithBinaryAudio(t *testing.T) {
	f := newServerFixture(t)
	conn := dial(t, f.url+"/ws/voice/conv-1")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageBinary, []byte("RIFF....WAVE")); err != nil {
		t.Fatalf("write: %v", err)
	}

	frames := readUntil(t, conn, outAssistantAudio)
	if frames[0].Type != outStatus || frames[0].Stage != "transcribing" {
		t.Errorf("frames[0] = %+v, want transcribing status", frames[0])
	}

	var sawTranscript bool
	for _, fr := range frames {
		if fr.Type == outUserMessage && fr.Text == "spoken words" {
			sawTranscript = true
		}
	}
	if !sawTranscript {
		t.Error("transcript user_message not delivered")
	}
	final := frames[len(frames)-1]
	if final.Format != "wav" || final.Audio == "" {
		t.Errorf("audio frame = %+v", final)
	}
}

func TestVoiceTurnWithBase64Audio(t *testing.T) {
	f := newServerFixture(t)
	conn := dial(t, f.url+"/ws/voice/conv-1")

	send(t, conn, map[string]string{"type": "audio", "audio": "UklGRg=="})
	readUntil(t, conn, outAssistantComplete)
	if f.transcriber.CallCount() != 1 {
		t.Errorf("transcriber called %d times, want 1", f.transcriber.CallCount())
	}
}

func TestUnknownFrameType(t *testing.T) {
	f := newServerFixture(t)
	conn := dial(t, f.url+"/ws/chat/conv-1")

	send(t, conn, map[string]string{"type": "telepathy"})
	fr := readFrame(t, conn)
	if fr.Type != outError || fr.Kind != string(session.KindProtocolError) {
		t.Errorf("frame = %+v, want protocol_error", fr)
	}
}
