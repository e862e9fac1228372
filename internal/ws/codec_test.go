package ws

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"

	"github.com/parley-ai/parley/internal/session"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    inboundFrame
		wantErr string
	}{
		{
			name: "message",
			data: `{"type":"message","text":"hello"}`,
			want: inboundFrame{Type: "message", Text: "hello"},
		},
		{
			name: "audio",
			data: `{"type":"audio","audio":"UklGRg=="}`,
			want: inboundFrame{Type: "audio", Audio: "UklGRg=="},
		},
		{
			name: "cancel",
			data: `{"type":"cancel"}`,
			want: inboundFrame{Type: "cancel"},
		},
		{
			name:    "message without text",
			data:    `{"type":"message"}`,
			wantErr: "without text",
		},
		{
			name:    "audio without payload",
			data:    `{"type":"audio"}`,
			wantErr: "without audio",
		},
		{
			name:    "unknown type",
			data:    `{"type":"telepathy"}`,
			wantErr: "unknown frame type",
		},
		{
			name:    "malformed json",
			data:    `{"type":`,
			wantErr: "decode frame",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeInbound([]byte(tt.data))
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("decodeInbound() error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeInbound() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("decodeInbound() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEncodeEvent(t *testing.T) {
	audio := []byte{0x52, 0x49, 0x46, 0x46}
	tests := []struct {
		name string
		ev   session.Event
		want map[string]any
	}{
		{
			name: "user message",
			ev:   session.UserMessage{TurnID: "t1", Text: "hi"},
			want: map[string]any{"type": "user_message", "turn_id": "t1", "text": "hi"},
		},
		{
			name: "assistant chunk",
			ev:   session.AssistantChunk{TurnID: "t1", Text: "Hel"},
			want: map[string]any{"type": "assistant_chunk", "turn_id": "t1", "text": "Hel"},
		},
		{
			name: "assistant complete",
			ev:   session.AssistantComplete{TurnID: "t1", Text: "Hello"},
			want: map[string]any{"type": "assistant_complete", "turn_id": "t1", "text": "Hello"},
		},
		{
			name: "status",
			ev:   session.StatusEvent{TurnID: "t1", Stage: session.StageThinking},
			want: map[string]any{"type": "status", "turn_id": "t1", "stage": "thinking"},
		},
		{
			name: "assistant audio",
			ev:   session.AssistantAudio{TurnID: "t1", Audio: audio, Format: "wav"},
			want: map[string]any{
				"type": "assistant_audio", "turn_id": "t1",
				"audio": base64.StdEncoding.EncodeToString(audio), "format": "wav",
			},
		},
		{
			name: "error",
			ev:   session.ErrorEvent{TurnID: "t1", Kind: session.KindBusy, Message: "a turn is already in progress"},
			want: map[string]any{"type": "error", "turn_id": "t1", "kind": "busy", "message": "a turn is already in progress"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := encodeEvent(tt.ev)
			if err != nil {
				t.Fatalf("encodeEvent() error = %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("invalid JSON: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Errorf("frame has %d fields, want %d: %s", len(got), len(tt.want), data)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Errorf("frame[%q] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestEncodeEventOmitsEmptyFields(t *testing.T) {
	data, err := encodeEvent(session.StatusEvent{TurnID: "t1", Stage: session.StageTranscribing})
	if err != nil {
		t.Fatalf("encodeEvent() error = %v", err)
	}
	if strings.Contains(string(data), "\"text\"") {
		t.Errorf("status frame should not carry a text field: %s", data)
	}
}
