package realtime

import (
	"context"
	"fmt"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

// EventType identifies what a realtime model produced
type EventType string

const (
	EventAudio               EventType = "audio"
	EventInputTranscription  EventType = "input_transcription"
	EventOutputTranscription EventType = "output_transcription"
	EventTurnComplete        EventType = "turn_complete"
	EventInterrupted         EventType = "interrupted"
	EventUsage               EventType = "usage"
	EventGoAway              EventType = "go_away"
	EventError               EventType = "error"
)

// Usage is the token accounting reported by the model
type Usage struct {
	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	InputAudioTokens  int
	OutputAudioTokens int
	InputTextTokens   int
	OutputTextTokens  int
}

// Event is one item decoded from the model stream
type Event struct {
	Type  EventType
	Audio audio.Frame
	Text  string
	Usage Usage
	Err   error
}

// SessionOptions are per-connection overrides
type SessionOptions struct {
	// Instructions replaces the model's configured system instruction when non-empty
	Instructions string
}

// Model is a speech-to-speech model that can open streaming sessions
type Model interface {
	// Label names the model in metrics
	Label() string
	// Instructions returns the system instruction configured on the model
	Instructions() string
	// InputSampleRate is the rate SendAudio expects
	InputSampleRate() int
	Connect(ctx context.Context, opts SessionOptions) (Stream, error)
}

// Stream is a live bidirectional session with a model
type Stream interface {
	SendAudio(ctx context.Context, frame audio.Frame) error
	SendText(ctx context.Context, text string) error
	// Events is closed when the stream ends
	Events() <-chan Event
	Close() error
}

// String implements fmt.Stringer for log output
func (t EventType) String() string { return string(t) }

func (e Event) String() string {
	switch e.Type {
	case EventAudio:
		return fmt.Sprintf("%s(%d samples @%dHz)", e.Type, len(e.Audio.Samples), e.Audio.SampleRate)
	case EventError:
		return fmt.Sprintf("%s(%v)", e.Type, e.Err)
	default:
		return e.Type.String()
	}
}
