package room

import (
	"context"
	"sync"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

// DataMessage is a data packet captured by the mock room
type DataMessage struct {
	Topic        string
	Payload      []byte
	Destinations []string
}

// Mock is the console room. Transport calls succeed without touching the
// network; published audio and data are kept for inspection.
type Mock struct {
	name     string
	identity string

	mu         sync.Mutex
	connected  bool
	handlers   handlers
	published  []audio.Frame
	data       []DataMessage
	attributes map[string]string
}

// NewMock creates a mock room with the given name
func NewMock(name string) *Mock {
	return &Mock{
		name:       name,
		identity:   "console-agent",
		attributes: make(map[string]string),
	}
}

// NewConsole creates the mock room used in console mode
func NewConsole() *Mock {
	return NewMock(MockRoomName)
}

func (m *Mock) Name() string          { return m.name }
func (m *Mock) LocalIdentity() string { return m.identity }

func (m *Mock) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

// Connect marks the room connected and fires OnConnected handlers
func (m *Mock) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if m.connected {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.connected = true
	fns := m.handlers.snapshotConnected()
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return nil
}

// Disconnect marks the room disconnected and fires OnDisconnected handlers
func (m *Mock) Disconnect() {
	m.mu.Lock()
	if !m.connected {
		m.mu.Unlock()
		return
	}
	m.connected = false
	fns := m.handlers.snapshotDisconnected()
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

func (m *Mock) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers.connected = append(m.handlers.connected, fn)
}

func (m *Mock) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers.disconnected = append(m.handlers.disconnected, fn)
}

func (m *Mock) OnAudioFrame(fn AudioHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers.audio = append(m.handlers.audio, fn)
}

// PublishAudio records the frame
func (m *Mock) PublishAudio(frame audio.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, frame)
	return nil
}

// SendData records the packet
func (m *Mock) SendData(ctx context.Context, topic string, payload []byte, destinations ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = append(m.data, DataMessage{
		Topic:        topic,
		Payload:      append([]byte(nil), payload...),
		Destinations: append([]string(nil), destinations...),
	})
	return nil
}

func (m *Mock) SetAttributes(attrs map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range attrs {
		m.attributes[k] = v
	}
}

// InjectAudio delivers a frame to the registered audio handlers as if it came
// from a remote participant
func (m *Mock) InjectAudio(participant string, frame audio.Frame) {
	m.mu.Lock()
	fns := m.handlers.snapshotAudio()
	m.mu.Unlock()

	for _, fn := range fns {
		fn(participant, frame)
	}
}

// PublishedAudio returns the frames passed to PublishAudio
func (m *Mock) PublishedAudio() []audio.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audio.Frame(nil), m.published...)
}

// SentData returns the packets passed to SendData
func (m *Mock) SentData() []DataMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DataMessage(nil), m.data...)
}

// Attribute returns a participant attribute set through SetAttributes
func (m *Mock) Attribute(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attributes[key]
}
