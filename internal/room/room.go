package room

import (
	"context"
	"errors"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

// MockRoomName is the sentinel room name used by console mode
const MockRoomName = "mock_room"

// Attribute keys published on the agent participant
const (
	AttributeAgentState      = "lk.agent.state"
	AttributePublishOnBehalf = "lk.publish_on_behalf"
)

var (
	// ErrNotConnected is returned by transport calls made before Connect
	ErrNotConnected = errors.New("room not connected")
	// ErrAlreadyConnected is returned when Connect is called twice
	ErrAlreadyConnected = errors.New("room already connected")
)

// AudioHandler receives decoded audio from a remote participant
type AudioHandler func(participant string, frame audio.Frame)

// Room is the transport a job runs against
type Room interface {
	Name() string
	LocalIdentity() string
	Connected() bool

	Connect(ctx context.Context) error
	Disconnect()

	OnConnected(fn func())
	OnDisconnected(fn func())
	OnAudioFrame(fn AudioHandler)

	PublishAudio(frame audio.Frame) error
	SendData(ctx context.Context, topic string, payload []byte, destinations ...string) error
	SetAttributes(attrs map[string]string)
}

// Credentials is implemented by rooms that can admit additional participants
type Credentials interface {
	URL() string
	MintToken(identity string, opts TokenOptions) (string, error)
}

// handlers holds registered callbacks; callers guard it with their own lock
type handlers struct {
	connected    []func()
	disconnected []func()
	audio        []AudioHandler
}

func (h *handlers) snapshotConnected() []func() {
	return append([]func(){}, h.connected...)
}

func (h *handlers) snapshotDisconnected() []func() {
	return append([]func(){}, h.disconnected...)
}

func (h *handlers) snapshotAudio() []AudioHandler {
	return append([]AudioHandler{}, h.audio...)
}

var (
	_ Room        = (*Mock)(nil)
	_ Room        = (*LiveKit)(nil)
	_ Credentials = (*LiveKit)(nil)
)
