// Package turn defines the shared conversation types used across all Parley
// packages.
//
// A Turn is one role-tagged contribution to a conversation; a Message is the
// reduced {role, content} form sent to a completion backend. These types are
// the lingua franca between the session engine, the completion providers, and
// the persistent store, and live here to avoid circular imports.
package turn

import "time"

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one user or assistant contribution within a conversation.
// Turns are immutable once created; the session's context window owns the
// in-memory copy and the external store owns the durable one.
type Turn struct {
	// Role tags who produced the turn.
	Role Role

	// Content is the text of the turn. For audio-submitted user turns this is
	// the recognized transcript, never the raw audio.
	Content string

	// Tokens is the estimated token count of the turn. Zero means not yet
	// estimated; the context manager fills it in on append.
	Tokens int

	// AudioRef optionally references stored audio associated with this turn
	// (e.g., the synthesized reply). Empty for text-only turns.
	AudioRef string

	// Seq is the monotonic creation order of the turn within its
	// conversation. Assigned by the context manager.
	Seq uint64

	// CreatedAt is when the turn was created.
	CreatedAt time.Time
}

// Message is the {role, content} pair understood by completion backends.
type Message struct {
	Role    Role
	Content string
}

// Messages converts a slice of turns into completion messages, preserving
// order.
func Messages(turns []Turn) []Message {
	msgs := make([]Message, len(turns))
	for i, t := range turns {
		msgs[i] = Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}
