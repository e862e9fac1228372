package ws

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/parley-ai/parley/internal/observe"
	"github.com/parley-ai/parley/internal/session"
)

// Server serves conversations over WebSocket. The chat endpoint accepts text
// input only; the voice endpoint additionally accepts audio frames and
// returns synthesized speech when the pipeline has a synthesizer.
type Server struct {
	registry *session.Registry
}

// NewServer creates a [Server] on top of the given registry.
func NewServer(registry *session.Registry) *Server {
	return &Server{registry: registry}
}

// Routes registers the WebSocket endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/chat/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handle(w, r, false)
	})
	mux.HandleFunc("GET /ws/voice/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handle(w, r, true)
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request, voice bool) {
	conversationID := r.PathValue("id")
	log := observe.Logger(r.Context()).With("conversation_id", conversationID)

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Warn("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusInternalError, "connection closed")

	sess, release, err := s.registry.Attach(r.Context(), conversationID)
	if err != nil {
		log.Error("session acquire failed", "error", err)
		conn.Close(websocket.StatusInternalError, "session unavailable")
		return
	}
	defer release()

	s.serve(r.Context(), conn, sess, voice)
	conn.Close(websocket.StatusNormalClosure, "")
}

// serve runs the read loop for one connection. Turns execute in their own
// goroutine so the loop stays responsive to cancel frames; the session's busy
// gate rejects overlapping input. Disconnect cancels the in-flight turn.
func (s *Server) serve(ctx context.Context, conn *websocket.Conn, sess *session.Session, voice bool) {
	sink := &connSink{ctx: ctx, conn: conn}
	log := observe.Logger(ctx).With("conversation_id", sess.ID())

	var turns sync.WaitGroup
	defer turns.Wait()
	defer sess.Cancel()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				log.Debug("connection closed", "error", err)
			}
			return
		}

		// Binary frames are raw WAV audio, a convenience for voice clients.
		if typ == websocket.MessageBinary {
			if !voice {
				sink.Emit(session.ErrorEvent{Kind: session.KindProtocolError, Message: "binary frames are not accepted on the chat endpoint"})
				continue
			}
			s.startTurn(&turns, sink, func() error {
				return sess.ProcessVoice(ctx, data, sink)
			})
			continue
		}

		frame, err := decodeInbound(data)
		if err != nil {
			sink.Emit(session.ErrorEvent{Kind: session.KindProtocolError, Message: err.Error()})
			continue
		}

		switch frame.Type {
		case inMessage:
			s.startTurn(&turns, sink, func() error {
				return sess.ProcessText(ctx, frame.Text, sink)
			})
		case inAudio:
			if !voice {
				sink.Emit(session.ErrorEvent{Kind: session.KindProtocolError, Message: "audio frames are not accepted on the chat endpoint"})
				continue
			}
			wav, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				sink.Emit(session.ErrorEvent{Kind: session.KindProtocolError, Message: "audio is not valid base64"})
				continue
			}
			s.startTurn(&turns, sink, func() error {
				return sess.ProcessVoice(ctx, wav, sink)
			})
		case inCancel:
			sess.Cancel()
		}
	}
}

// startTurn runs one turn in the background. A busy rejection is the only
// error surfaced here; the session emits events for everything else before
// returning.
func (s *Server) startTurn(turns *sync.WaitGroup, sink *connSink, run func() error) {
	turns.Add(1)
	go func() {
		defer turns.Done()
		if err := run(); errors.Is(err, session.ErrBusy) {
			sink.Emit(session.ErrorEvent{Kind: session.KindBusy, Message: "a turn is already in progress"})
		}
	}()
}

// connSink forwards turn events to the WebSocket connection. A mutex
// serialises writes; events from one turn and busy rejections from the read
// loop can interleave.
type connSink struct {
	ctx  context.Context
	conn *websocket.Conn
	mu   sync.Mutex
}

// Emit implements session.Sink.
func (c *connSink) Emit(ev session.Event) {
	data, err := encodeEvent(ev)
	if err != nil {
		observe.Logger(c.ctx).Error("event encode failed", "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		// The reader notices the broken connection and cancels the turn.
		observe.Logger(c.ctx).Debug("event write failed", "error", err)
	}
}
