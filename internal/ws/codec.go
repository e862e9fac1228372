// Package ws exposes conversations over WebSocket. Each connection is bound
// to one conversation; inbound frames carry user input and cancellation,
// outbound frames carry the live turn events.
package ws

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/parley-ai/parley/internal/session"
)

// Inbound frame types.
const (
	inMessage = "message"
	inAudio   = "audio"
	inCancel  = "cancel"
)

// Outbound frame types.
const (
	outUserMessage       = "user_message"
	outAssistantChunk    = "assistant_chunk"
	outAssistantComplete = "assistant_complete"
	outStatus            = "status"
	outAssistantAudio    = "assistant_audio"
	outError             = "error"
)

// inboundFrame is a client request. Type discriminates which fields are set.
type inboundFrame struct {
	Type string `json:"type"`

	// Text is the user message for type "message".
	Text string `json:"text,omitempty"`

	// Audio is base64-encoded WAV for type "audio". Clients may send raw WAV
	// as a binary frame instead.
	Audio string `json:"audio,omitempty"`
}

// outboundFrame is the wire form of a turn event.
type outboundFrame struct {
	Type    string `json:"type"`
	TurnID  string `json:"turn_id,omitempty"`
	Text    string `json:"text,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Audio   string `json:"audio,omitempty"` // base64
	Format  string `json:"format,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// decodeInbound parses and validates one client frame.
func decodeInbound(data []byte) (inboundFrame, error) {
	var f inboundFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return inboundFrame{}, fmt.Errorf("ws: decode frame: %w", err)
	}
	switch f.Type {
	case inMessage:
		if f.Text == "" {
			return inboundFrame{}, fmt.Errorf("ws: message frame without text")
		}
	case inAudio:
		if f.Audio == "" {
			return inboundFrame{}, fmt.Errorf("ws: audio frame without audio")
		}
	case inCancel:
	default:
		return inboundFrame{}, fmt.Errorf("ws: unknown frame type %q", f.Type)
	}
	return f, nil
}

// encodeEvent converts a turn event to its wire form. The switch is
// exhaustive over the event set; a new event type fails loudly here.
func encodeEvent(ev session.Event) ([]byte, error) {
	var f outboundFrame
	switch e := ev.(type) {
	case session.UserMessage:
		f = outboundFrame{Type: outUserMessage, TurnID: e.TurnID, Text: e.Text}
	case session.AssistantChunk:
		f = outboundFrame{Type: outAssistantChunk, TurnID: e.TurnID, Text: e.Text}
	case session.AssistantComplete:
		f = outboundFrame{Type: outAssistantComplete, TurnID: e.TurnID, Text: e.Text}
	case session.StatusEvent:
		f = outboundFrame{Type: outStatus, TurnID: e.TurnID, Stage: string(e.Stage)}
	case session.AssistantAudio:
		f = outboundFrame{
			Type:   outAssistantAudio,
			TurnID: e.TurnID,
			Audio:  base64.StdEncoding.EncodeToString(e.Audio),
			Format: e.Format,
		}
	case session.ErrorEvent:
		f = outboundFrame{Type: outError, TurnID: e.TurnID, Kind: string(e.Kind), Message: e.Message}
	default:
		return nil, fmt.Errorf("ws: unknown event type %T", ev)
	}
	return json.Marshal(f)
}
