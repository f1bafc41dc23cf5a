package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/skypro1111/avatar-agent/internal/audio"
	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/realtime"
	"github.com/skypro1111/avatar-agent/internal/room"
	"github.com/skypro1111/avatar-agent/internal/vad"
)

const (
	inputQueueSize     = 100
	vadMetricsInterval = 5 * time.Second
	transcriptionTopic = "lk.transcription"
)

// SessionOptions configures an AgentSession
type SessionOptions struct {
	LLM realtime.Model
	// VAD is optional; the realtime model performs its own turn detection
	VAD vad.Detector
	// MinSpeechDuration and MinSilenceDuration tune VAD segmentation
	MinSpeechDuration  time.Duration
	MinSilenceDuration time.Duration
	Logger             *slog.Logger
}

// RoomInputOptions configures how room audio reaches the model
type RoomInputOptions struct {
	NoiseCancellation audio.Filter
}

// RoomOutputOptions configures what the session publishes to the room
type RoomOutputOptions struct {
	AudioDisabled        bool
	TranscriptionEnabled bool
}

// StartOptions are passed to Session.Start
type StartOptions struct {
	Agent      *Agent
	Room       room.Room
	RoomInput  RoomInputOptions
	RoomOutput RoomOutputOptions
}

// Session connects an agent to a realtime model and to audio I/O
type Session struct {
	opts   SessionOptions
	logger *slog.Logger

	mu       sync.Mutex
	handlers map[string][]Handler
	output   AudioSink
	started  bool
	closed   bool
	state    State
	room     room.Room
	stream   realtime.Stream

	dispatchMu  sync.Mutex
	dispatching atomic.Bool

	input      chan audio.Frame
	vadMetrics chan metrics.VADMetrics
	ctx        context.Context
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewSession creates a session; nothing connects until Start
func NewSession(opts SessionOptions) *Session {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MinSilenceDuration <= 0 {
		opts.MinSilenceDuration = 550 * time.Millisecond
	}
	return &Session{
		opts:       opts,
		logger:     opts.Logger,
		handlers:   make(map[string][]Handler),
		state:      StateInitializing,
		input:      make(chan audio.Frame, inputQueueSize),
		vadMetrics: make(chan metrics.VADMetrics, 4),
	}
}

// On registers a handler for an event name. Handlers run one at a time in
// emission order, on the goroutine that emitted the event, so they must not
// block. A handler may call Close; the session then shuts down after the
// handler returns.
func (s *Session) On(name string, fn Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[name] = append(s.handlers[name], fn)
}

// Emit delivers an event to the handlers registered for ev.Name
func (s *Session) Emit(ev Event) {
	s.mu.Lock()
	fns := append([]Handler(nil), s.handlers[ev.Name]...)
	s.mu.Unlock()

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	s.dispatching.Store(true)
	defer s.dispatching.Store(false)
	for _, fn := range fns {
		fn(ev)
	}
}

// SetAudioOutput replaces where agent audio goes. It takes precedence over
// room and local outputs.
func (s *Session) SetAudioOutput(sink AudioSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.output = sink
}

// AudioOutput returns the sink agent audio is written to
func (s *Session) AudioOutput() AudioSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.output
}

// State returns the current agent state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start connects the realtime model and wires audio in both directions
func (s *Session) Start(ctx context.Context, opts StartOptions) error {
	if opts.Agent == nil {
		return ErrNoAgent
	}
	if s.opts.LLM == nil {
		return ErrNoModel
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	local, hasLocal := LocalIOFromContext(ctx)

	stream, err := s.opts.LLM.Connect(ctx, realtime.SessionOptions{
		Instructions: opts.Agent.Instructions(),
	})
	if err != nil {
		s.mu.Lock()
		s.started = false
		s.mu.Unlock()
		return fmt.Errorf("failed to connect realtime model: %w", err)
	}

	s.mu.Lock()
	s.stream = stream
	s.room = opts.Room
	s.ctx, s.cancel = context.WithCancel(ctx)
	if s.output == nil {
		switch {
		case hasLocal && opts.Room == nil && local.Output != nil:
			s.output = local.Output
		case opts.Room != nil && !opts.RoomOutput.AudioDisabled:
			s.output = roomSink{room: opts.Room}
		}
	}
	s.mu.Unlock()

	var filter audio.Filter
	if opts.Room != nil {
		filter = opts.RoomInput.NoiseCancellation
		opts.Room.OnAudioFrame(func(_ string, frame audio.Frame) {
			s.enqueue(frame)
		})
		opts.Room.OnDisconnected(func() {
			go s.Close()
		})
	} else if hasLocal && local.Input != nil {
		s.wg.Add(1)
		go s.forwardLocal(local.Input)
	}

	var vadStream *vad.Stream
	if s.opts.VAD != nil {
		vadStream = vad.NewStream(s.opts.VAD, s.opts.MinSpeechDuration, s.opts.MinSilenceDuration)
	}

	s.wg.Add(2)
	go s.inputPump(filter, vadStream)
	go s.eventPump(opts.RoomOutput.TranscriptionEnabled)

	mode := "local"
	if opts.Room != nil {
		mode = "room:" + opts.Room.Name()
	}
	s.logger.Info("Agent session started",
		slog.String("model", s.opts.LLM.Label()),
		slog.String("io", mode),
		slog.Bool("noise_cancellation", filter != nil),
		slog.Bool("vad", vadStream != nil))

	s.setState(StateListening)
	return nil
}

// Close stops the pumps, closes the model stream and emits close. Called
// while a handler runs, it returns at once and shutdown continues in the
// background once the handler is done.
func (s *Session) Close() error {
	if s.dispatching.Load() {
		go func() {
			if err := s.shutdown(); err != nil {
				s.logger.Warn("Failed to close realtime stream", slog.String("error", err.Error()))
			}
		}()
		return nil
	}
	return s.shutdown()
}

func (s *Session) shutdown() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		stream := s.stream
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if stream != nil {
			err = stream.Close()
		}
		s.wg.Wait()

		s.logger.Info("Agent session closed")
		s.Emit(Event{Name: EventClose})
	})
	return err
}

func (s *Session) enqueue(frame audio.Frame) {
	select {
	case s.input <- frame:
	default:
		s.logger.Debug("Input queue full, dropping frame")
	}
}

func (s *Session) forwardLocal(in <-chan audio.Frame) {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case frame, ok := <-in:
			if !ok {
				return
			}
			s.enqueue(frame)
		}
	}
}

// inputPump filters input audio, runs optional VAD and streams it to the model
func (s *Session) inputPump(filter audio.Filter, vadStream *vad.Stream) {
	defer s.wg.Done()

	lastReport := time.Now()
	lastSpeech := time.Now()

	for {
		select {
		case <-s.ctx.Done():
			return
		case frame := <-s.input:
			if filter != nil {
				frame = filter.Process(frame)
			}

			if vadStream != nil {
				events, err := vadStream.Push(frame)
				if err != nil {
					s.logger.Warn("VAD failed", slog.String("error", err.Error()))
				}
				for _, ev := range events {
					s.logger.Debug("VAD event",
						slog.String("type", ev.Type.String()),
						slog.Duration("position", ev.Position))
					lastSpeech = time.Now()
					if ev.Type == vad.EventSpeechEnd && s.State() == StateListening {
						s.setState(StateThinking)
					}
				}
				if vadStream.Speaking() {
					lastSpeech = time.Now()
				}

				if time.Since(lastReport) >= vadMetricsInterval {
					st := vadStream.TakeStats()
					lastReport = time.Now()
					select {
					case s.vadMetrics <- metrics.VADMetrics{
						Label:                  "vad",
						Timestamp:              lastReport,
						IdleTime:               time.Since(lastSpeech),
						InferenceCount:         st.Inferences,
						InferenceDurationTotal: st.InferenceTime,
					}:
					default:
					}
				}
			}

			if err := s.stream.SendAudio(s.ctx, frame); err != nil {
				if s.ctx.Err() != nil {
					return
				}
				s.logger.Warn("Failed to send audio to model", slog.String("error", err.Error()))
			}
		}
	}
}

// turn tracks one model generation
type turn struct {
	id           string
	started      time.Time
	firstAudio   time.Time
	userText     strings.Builder
	agentText    strings.Builder
	usage        realtime.Usage
	interrupted  bool
	hasResponse  bool
	lastUserTime time.Time
}

// eventPump consumes model events and turns them into session events
func (s *Session) eventPump(publishTranscripts bool) {
	defer s.wg.Done()

	t := &turn{}
	events := s.stream.Events()

	for {
		select {
		case <-s.ctx.Done():
			return

		case vm := <-s.vadMetrics:
			s.Emit(Event{Name: EventMetricsCollected, Metrics: vm})

		case ev, ok := <-events:
			if !ok {
				if s.ctx.Err() == nil {
					s.logger.Warn("Realtime stream ended")
					go s.Close()
				}
				return
			}
			t = s.handleModelEvent(t, ev, publishTranscripts)
		}
	}
}

func (s *Session) handleModelEvent(t *turn, ev realtime.Event, publishTranscripts bool) *turn {
	switch ev.Type {
	case realtime.EventInputTranscription:
		t.userText.WriteString(ev.Text)
		t.lastUserTime = time.Now()
		s.Emit(Event{Name: EventUserInputTranscribed, Transcript: ev.Text, IsFinal: false})

	case realtime.EventAudio:
		if !t.hasResponse {
			t.hasResponse = true
			t.started = time.Now()
			t.firstAudio = t.started
			t.id = uuid.New().String()
			s.setState(StateSpeaking)
		}
		if sink := s.AudioOutput(); sink != nil {
			if err := sink.WriteAudio(s.ctx, ev.Audio); err != nil && s.ctx.Err() == nil {
				s.logger.Debug("Failed to write agent audio", slog.String("error", err.Error()))
			}
		}

	case realtime.EventOutputTranscription:
		t.agentText.WriteString(ev.Text)
		if publishTranscripts && s.room != nil {
			if err := s.room.SendData(s.ctx, transcriptionTopic, []byte(ev.Text)); err != nil {
				s.logger.Debug("Failed to publish transcription", slog.String("error", err.Error()))
			}
		}

	case realtime.EventUsage:
		t.usage = ev.Usage

	case realtime.EventInterrupted:
		t.interrupted = true
		if sink := s.AudioOutput(); sink != nil {
			sink.Clear()
		}
		s.setState(StateListening)

	case realtime.EventTurnComplete:
		s.finishTurn(t)
		return &turn{}

	case realtime.EventGoAway:
		s.logger.Warn("Realtime model requested disconnect", slog.String("time_left", ev.Text))

	case realtime.EventError:
		s.logger.Error("Realtime model error", slog.String("error", fmt.Sprint(ev.Err)))
		s.Emit(Event{Name: EventError, Err: ev.Err})
	}
	return t
}

func (s *Session) finishTurn(t *turn) {
	now := time.Now()

	if user := strings.TrimSpace(t.userText.String()); user != "" {
		s.Emit(Event{Name: EventUserInputTranscribed, Transcript: user, IsFinal: true})
		s.Emit(Event{Name: EventConversationItemAdded, Item: ConversationItem{Role: RoleUser, Text: user}})
	}
	if reply := strings.TrimSpace(t.agentText.String()); reply != "" {
		s.Emit(Event{Name: EventConversationItemAdded, Item: ConversationItem{
			Role:        RoleAssistant,
			Text:        reply,
			Interrupted: t.interrupted,
		}})
	}

	m := metrics.RealtimeModelMetrics{
		Label:             s.opts.LLM.Label(),
		RequestID:         t.id,
		Timestamp:         now,
		TTFT:              -1,
		Cancelled:         t.interrupted,
		InputTokens:       t.usage.InputTokens,
		OutputTokens:      t.usage.OutputTokens,
		TotalTokens:       t.usage.TotalTokens,
		InputAudioTokens:  t.usage.InputAudioTokens,
		OutputAudioTokens: t.usage.OutputAudioTokens,
		InputTextTokens:   t.usage.InputTextTokens,
		OutputTextTokens:  t.usage.OutputTextTokens,
	}
	if m.RequestID == "" {
		m.RequestID = uuid.New().String()
	}
	if t.hasResponse {
		m.Duration = now.Sub(t.started)
		if !t.lastUserTime.IsZero() && t.lastUserTime.Before(t.firstAudio) {
			m.TTFT = t.firstAudio.Sub(t.lastUserTime)
		} else {
			m.TTFT = 0
		}
	}
	s.Emit(Event{Name: EventMetricsCollected, Metrics: m})

	s.setState(StateListening)
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	old := s.state
	if old == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	r := s.room
	s.mu.Unlock()

	if r != nil {
		r.SetAttributes(map[string]string{room.AttributeAgentState: string(state)})
	}
	s.Emit(Event{Name: EventAgentStateChanged, OldState: old, NewState: state})
}
