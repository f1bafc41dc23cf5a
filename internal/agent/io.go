package agent

import (
	"context"

	"github.com/skypro1111/avatar-agent/internal/audio"
	"github.com/skypro1111/avatar-agent/internal/room"
)

// AudioSink receives the agent's synthesized speech
type AudioSink interface {
	WriteAudio(ctx context.Context, frame audio.Frame) error
	// Clear drops audio that has been queued but not yet played
	Clear()
}

// LocalIO is the microphone and speaker pair used when no room transport is attached
type LocalIO struct {
	Input  <-chan audio.Frame
	Output AudioSink
}

type localIOKey struct{}

// WithLocalIO carries local audio I/O in ctx so a session started without a
// room can find it
func WithLocalIO(ctx context.Context, io *LocalIO) context.Context {
	return context.WithValue(ctx, localIOKey{}, io)
}

// LocalIOFromContext returns the local I/O stored by WithLocalIO
func LocalIOFromContext(ctx context.Context) (*LocalIO, bool) {
	io, ok := ctx.Value(localIOKey{}).(*LocalIO)
	return io, ok && io != nil
}

// roomSink publishes agent audio on the room's audio track
type roomSink struct {
	room room.Room
}

func (s roomSink) WriteAudio(_ context.Context, frame audio.Frame) error {
	return s.room.PublishAudio(frame)
}

func (s roomSink) Clear() {
	if c, ok := s.room.(interface{ ClearAudio() }); ok {
		c.ClearAudio()
	}
}

// SinkFunc adapts a function to AudioSink; Clear is a no-op
type SinkFunc func(ctx context.Context, frame audio.Frame) error

func (f SinkFunc) WriteAudio(ctx context.Context, frame audio.Frame) error { return f(ctx, frame) }
func (f SinkFunc) Clear()                                                  {}
