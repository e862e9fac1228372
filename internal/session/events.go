package session

// Stage names the pipeline phase a session is currently in. Emitted as
// status events so clients can show live progress.
type Stage string

const (
	StageTranscribing Stage = "transcribing"
	StageThinking     Stage = "thinking"
	StageSynthesizing Stage = "synthesizing"
)

// Event is a live update emitted while a turn is processed. The concrete
// types form a closed set; transports switch over them exhaustively.
type Event interface {
	isEvent()
}

// UserMessage echoes the user input that started the turn. For voice turns
// this carries the transcription, which the client has not seen yet.
type UserMessage struct {
	// TurnID identifies the turn this event belongs to.
	TurnID string

	Text string
}

// AssistantChunk is one increment of streamed assistant text.
type AssistantChunk struct {
	TurnID string
	Text   string
}

// AssistantComplete marks the end of the assistant's text with the full
// accumulated response.
type AssistantComplete struct {
	TurnID string
	Text   string
}

// StatusEvent reports the pipeline stage the turn just entered.
type StatusEvent struct {
	TurnID string
	Stage  Stage
}

// AssistantAudio carries synthesized speech for the completed response.
// Sent after [AssistantComplete] on voice-capable sessions.
type AssistantAudio struct {
	TurnID string
	Audio  []byte
	Format string
}

// ErrorEvent reports a turn failure. Kind is the stable classification;
// Message is human-readable.
type ErrorEvent struct {
	TurnID  string
	Kind    Kind
	Message string
}

func (UserMessage) isEvent()       {}
func (AssistantChunk) isEvent()    {}
func (AssistantComplete) isEvent() {}
func (StatusEvent) isEvent()       {}
func (AssistantAudio) isEvent()    {}
func (ErrorEvent) isEvent()        {}

// Sink receives events as a turn progresses. Implementations must not block
// for long; a slow sink stalls the pipeline. Emit is called from a single
// goroutine per session.
type Sink interface {
	Emit(ev Event)
}

// SinkFunc adapts a function to the [Sink] interface.
type SinkFunc func(ev Event)

// Emit calls f(ev).
func (f SinkFunc) Emit(ev Event) { f(ev) }
