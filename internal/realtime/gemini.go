package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

// DefaultGeminiEndpoint is the Gemini Live bidirectional streaming endpoint
const DefaultGeminiEndpoint = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

const (
	geminiInputMimeType = "audio/pcm;rate=16000"
	eventBufferSize     = 256
	setupTimeout        = 15 * time.Second
	writeTimeout        = 10 * time.Second
)

// GeminiOptions configures the Gemini Live model
type GeminiOptions struct {
	Model        string
	Voice        string
	Temperature  float64
	Instructions string
	APIKey       string
	Endpoint     string
	Logger       *slog.Logger
	Dialer       *websocket.Dialer
}

// Gemini is a Model backed by the Gemini Live API
type Gemini struct {
	opts GeminiOptions
}

// NewGemini creates a Gemini Live model. Nothing is dialed until Connect.
func NewGemini(opts GeminiOptions) *Gemini {
	if opts.Endpoint == "" {
		opts.Endpoint = DefaultGeminiEndpoint
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Gemini{opts: opts}
}

// Options returns the model configuration
func (g *Gemini) Options() GeminiOptions { return g.opts }

func (g *Gemini) Label() string        { return "gemini." + g.opts.Model }
func (g *Gemini) Instructions() string { return g.opts.Instructions }
func (g *Gemini) InputSampleRate() int { return audio.SampleRate16k }

// Connect dials the endpoint, sends the setup message and waits for setupComplete
func (g *Gemini) Connect(ctx context.Context, opts SessionOptions) (Stream, error) {
	u, err := url.Parse(g.opts.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse gemini endpoint")
	}
	q := u.Query()
	if g.opts.APIKey != "" {
		q.Set("key", g.opts.APIKey)
	}
	u.RawQuery = q.Encode()

	headers := http.Header{
		"User-Agent": {"avatar-agent"},
	}

	conn, resp, err := g.opts.Dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, errors.Wrapf(err, "failed to dial gemini (status %d)", resp.StatusCode)
		}
		return nil, errors.Wrap(err, "failed to dial gemini")
	}

	instructions := opts.Instructions
	if instructions == "" {
		instructions = g.opts.Instructions
	}

	s := &geminiStream{
		conn:   conn,
		events: make(chan Event, eventBufferSize),
		done:   make(chan struct{}),
		logger: g.opts.Logger.With(slog.String("model", g.opts.Model)),
	}

	if err := s.writeJSON(g.setupMessage(instructions)); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to send setup")
	}

	if err := s.awaitSetup(ctx); err != nil {
		conn.Close()
		return nil, err
	}

	go s.readLoop()

	s.logger.Info("Realtime session established", slog.String("voice", g.opts.Voice))
	return s, nil
}

func (g *Gemini) setupMessage(instructions string) clientMessage {
	model := g.opts.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}

	temperature := g.opts.Temperature
	setup := &setupMessage{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			Temperature:        &temperature,
		},
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	if g.opts.Voice != "" {
		setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: g.opts.Voice},
			},
		}
	}
	if instructions != "" {
		setup.SystemInstruction = &content{Parts: []part{{Text: instructions}}}
	}
	return clientMessage{Setup: setup}
}

// Wire types for the BidiGenerateContent protocol

type clientMessage struct {
	Setup         *setupMessage  `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
	ClientContent *clientContent `json:"clientContent,omitempty"`
}

type setupMessage struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	Temperature        *float64      `json:"temperature,omitempty"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInput struct {
	Audio *blob `json:"audio,omitempty"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

type serverMessage struct {
	SetupComplete *struct{}      `json:"setupComplete,omitempty"`
	ServerContent *serverContent `json:"serverContent,omitempty"`
	UsageMetadata *usageMetadata `json:"usageMetadata,omitempty"`
	GoAway        *goAway        `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type usageMetadata struct {
	PromptTokenCount      int                  `json:"promptTokenCount"`
	ResponseTokenCount    int                  `json:"responseTokenCount"`
	TotalTokenCount       int                  `json:"totalTokenCount"`
	PromptTokensDetails   []modalityTokenCount `json:"promptTokensDetails,omitempty"`
	ResponseTokensDetails []modalityTokenCount `json:"responseTokensDetails,omitempty"`
}

type modalityTokenCount struct {
	Modality   string `json:"modality"`
	TokenCount int    `json:"tokenCount"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft"`
}

// geminiStream is one live connection
type geminiStream struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
	events  chan Event
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

func (s *geminiStream) Events() <-chan Event { return s.events }

func (s *geminiStream) SendAudio(ctx context.Context, frame audio.Frame) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame = audio.Resample(frame, audio.SampleRate16k)
	if len(frame.Samples) == 0 {
		return nil
	}

	return s.writeJSON(clientMessage{
		RealtimeInput: &realtimeInput{
			Audio: &blob{
				MimeType: geminiInputMimeType,
				Data:     base64.StdEncoding.EncodeToString(frame.Bytes()),
			},
		},
	})
}

func (s *geminiStream) SendText(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.writeJSON(clientMessage{
		ClientContent: &clientContent{
			Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
			TurnComplete: true,
		},
	})
}

func (s *geminiStream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		s.writeMu.Unlock()
		err = s.conn.Close()
	})
	return err
}

func (s *geminiStream) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *geminiStream) writeJSON(msg clientMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if s.closed() {
		return errors.New("realtime stream closed")
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return errors.Wrap(err, "failed to set write deadline")
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (s *geminiStream) awaitSetup(ctx context.Context) error {
	deadline := time.Now().Add(setupTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return errors.Wrap(err, "failed to set read deadline")
	}
	defer s.conn.SetReadDeadline(time.Time{})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "failed waiting for setupComplete")
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return errors.Wrap(err, "failed to decode setup response")
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

func (s *geminiStream) readLoop() {
	defer close(s.events)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if !s.closed() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				s.emit(Event{Type: EventError, Err: errors.Wrap(err, "realtime read failed")})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("Dropping undecodable message", slog.String("error", err.Error()))
			continue
		}

		for _, ev := range decodeServerMessage(msg) {
			if !s.emit(ev) {
				return
			}
		}
	}
}

func (s *geminiStream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// decodeServerMessage flattens one server message into events. Usage is
// emitted before turn completion so consumers can attach it to the turn.
func decodeServerMessage(msg serverMessage) []Event {
	var events []Event

	if sc := msg.ServerContent; sc != nil {
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, Event{Type: EventInputTranscription, Text: sc.InputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || !strings.HasPrefix(p.InlineData.MimeType, "audio/pcm") {
					continue
				}
				raw, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
				if err != nil {
					events = append(events, Event{Type: EventError, Err: errors.Wrap(err, "invalid audio payload")})
					continue
				}
				events = append(events, Event{
					Type: EventAudio,
					Audio: audio.Frame{
						Samples:    audio.BytesToPCM16(raw),
						SampleRate: parseRate(p.InlineData.MimeType, audio.SampleRate24k),
						Channels:   1,
					},
				})
			}
		}
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, Event{Type: EventOutputTranscription, Text: sc.OutputTranscription.Text})
		}
	}

	if u := msg.UsageMetadata; u != nil {
		events = append(events, Event{Type: EventUsage, Usage: u.toUsage()})
	}

	if sc := msg.ServerContent; sc != nil {
		if sc.Interrupted {
			events = append(events, Event{Type: EventInterrupted})
		}
		if sc.TurnComplete {
			events = append(events, Event{Type: EventTurnComplete})
		}
	}

	if msg.GoAway != nil {
		events = append(events, Event{Type: EventGoAway, Text: msg.GoAway.TimeLeft})
	}

	return events
}

func (u usageMetadata) toUsage() Usage {
	usage := Usage{
		InputTokens:  u.PromptTokenCount,
		OutputTokens: u.ResponseTokenCount,
		TotalTokens:  u.TotalTokenCount,
	}
	for _, d := range u.PromptTokensDetails {
		switch d.Modality {
		case "AUDIO":
			usage.InputAudioTokens += d.TokenCount
		case "TEXT":
			usage.InputTextTokens += d.TokenCount
		}
	}
	for _, d := range u.ResponseTokensDetails {
		switch d.Modality {
		case "AUDIO":
			usage.OutputAudioTokens += d.TokenCount
		case "TEXT":
			usage.OutputTextTokens += d.TokenCount
		}
	}
	return usage
}

// parseRate extracts rate=N from a mime type such as audio/pcm;rate=24000
func parseRate(mimeType string, fallback int) int {
	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if v, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(v); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return fallback
}

var _ Model = (*Gemini)(nil)
