package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

type fakeGemini struct {
	srv     *httptest.Server
	setup   chan map[string]any
	inputs  chan map[string]any
	query   chan string
	replies []map[string]any
	noSetup bool
}

func newFakeGemini(t *testing.T, replies ...map[string]any) *fakeGemini {
	t.Helper()
	return startFakeGemini(t, false, replies)
}

// newSilentGemini accepts the setup message but never completes it
func newSilentGemini(t *testing.T) *fakeGemini {
	t.Helper()
	return startFakeGemini(t, true, nil)
}

func startFakeGemini(t *testing.T, noSetup bool, replies []map[string]any) *fakeGemini {
	f := &fakeGemini{
		setup:   make(chan map[string]any, 1),
		inputs:  make(chan map[string]any, 16),
		query:   make(chan string, 1),
		replies: replies,
		noSetup: noSetup,
	}

	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.query <- r.URL.RawQuery

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		var setup map[string]any
		if err := conn.ReadJSON(&setup); err != nil {
			return
		}
		f.setup <- setup

		if f.noSetup {
			time.Sleep(500 * time.Millisecond)
			return
		}
		_ = conn.WriteJSON(map[string]any{"setupComplete": map[string]any{}})

		// one client message triggers the scripted replies
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		f.inputs <- msg

		for _, reply := range f.replies {
			_ = conn.WriteJSON(reply)
		}

		for {
			var next map[string]any
			if err := conn.ReadJSON(&next); err != nil {
				return
			}
			f.inputs <- next
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeGemini) endpoint() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/BidiGenerateContent"
}

func testModel(endpoint string) *Gemini {
	return NewGemini(GeminiOptions{
		Model:        "gemini-live-2.5-flash-preview",
		Voice:        "Aoede",
		Temperature:  0.6,
		Instructions: "model instructions",
		APIKey:       "test-key",
		Endpoint:     endpoint,
	})
}

func nextEvent(t *testing.T, events <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for event")
	}
	return Event{}
}

func TestGeminiSetupMessage(t *testing.T) {
	f := newFakeGemini(t)
	model := testModel(f.endpoint())

	stream, err := model.Connect(context.Background(), SessionOptions{Instructions: "agent instructions"})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	if q := <-f.query; !strings.Contains(q, "key=test-key") {
		t.Errorf("Expected api key in query, got %q", q)
	}

	msg := <-f.setup
	raw, _ := json.Marshal(msg)

	var parsed struct {
		Setup struct {
			Model            string `json:"model"`
			GenerationConfig struct {
				ResponseModalities []string `json:"responseModalities"`
				Temperature        float64  `json:"temperature"`
				SpeechConfig       struct {
					VoiceConfig struct {
						PrebuiltVoiceConfig struct {
							VoiceName string `json:"voiceName"`
						} `json:"prebuiltVoiceConfig"`
					} `json:"voiceConfig"`
				} `json:"speechConfig"`
			} `json:"generationConfig"`
			SystemInstruction struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"systemInstruction"`
			InputAudioTranscription  *struct{} `json:"inputAudioTranscription"`
			OutputAudioTranscription *struct{} `json:"outputAudioTranscription"`
		} `json:"setup"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("Failed to parse setup: %v", err)
	}

	setup := parsed.Setup
	if setup.Model != "models/gemini-live-2.5-flash-preview" {
		t.Errorf("Unexpected model %q", setup.Model)
	}
	if len(setup.GenerationConfig.ResponseModalities) != 1 || setup.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Errorf("Expected AUDIO modality, got %v", setup.GenerationConfig.ResponseModalities)
	}
	if setup.GenerationConfig.Temperature != 0.6 {
		t.Errorf("Expected temperature 0.6, got %f", setup.GenerationConfig.Temperature)
	}
	if v := setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; v != "Aoede" {
		t.Errorf("Expected voice Aoede, got %q", v)
	}
	if len(setup.SystemInstruction.Parts) != 1 || setup.SystemInstruction.Parts[0].Text != "agent instructions" {
		t.Errorf("Expected session instructions to override model instructions, got %+v", setup.SystemInstruction)
	}
	if setup.InputAudioTranscription == nil || setup.OutputAudioTranscription == nil {
		t.Errorf("Expected input and output transcription to be enabled")
	}
}

func TestGeminiFallsBackToModelInstructions(t *testing.T) {
	f := newFakeGemini(t)
	model := testModel(f.endpoint())

	stream, err := model.Connect(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	msg := <-f.setup
	raw, _ := json.Marshal(msg)
	if !strings.Contains(string(raw), "model instructions") {
		t.Errorf("Expected model instructions in setup, got %s", raw)
	}
}

func TestGeminiStreamsAudioAndDecodesReplies(t *testing.T) {
	pcm := audio.PCM16ToBytes([]int16{100, -100, 200, -200})
	f := newFakeGemini(t,
		map[string]any{
			"serverContent": map[string]any{
				"inputTranscription": map[string]any{"text": "hello"},
			},
		},
		map[string]any{
			"serverContent": map[string]any{
				"modelTurn": map[string]any{
					"parts": []any{
						map[string]any{"inlineData": map[string]any{
							"mimeType": "audio/pcm;rate=24000",
							"data":     base64.StdEncoding.EncodeToString(pcm),
						}},
					},
				},
				"outputTranscription": map[string]any{"text": "hi there"},
			},
		},
		map[string]any{
			"serverContent": map[string]any{"turnComplete": true},
			"usageMetadata": map[string]any{
				"promptTokenCount":   40,
				"responseTokenCount": 60,
				"totalTokenCount":    100,
				"promptTokensDetails": []any{
					map[string]any{"modality": "AUDIO", "tokenCount": 30},
					map[string]any{"modality": "TEXT", "tokenCount": 10},
				},
				"responseTokensDetails": []any{
					map[string]any{"modality": "AUDIO", "tokenCount": 60},
				},
			},
		},
	)
	model := testModel(f.endpoint())

	stream, err := model.Connect(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	// 48kHz input is resampled to 16kHz before sending
	frame := audio.Frame{Samples: make([]int16, 960), SampleRate: audio.SampleRate48k, Channels: 1}
	if err := stream.SendAudio(context.Background(), frame); err != nil {
		t.Fatalf("SendAudio failed: %v", err)
	}

	select {
	case msg := <-f.inputs:
		input, ok := msg["realtimeInput"].(map[string]any)
		if !ok {
			t.Fatalf("Expected realtimeInput message, got %v", msg)
		}
		blob := input["audio"].(map[string]any)
		if blob["mimeType"] != "audio/pcm;rate=16000" {
			t.Errorf("Unexpected mime type %v", blob["mimeType"])
		}
		data, err := base64.StdEncoding.DecodeString(blob["data"].(string))
		if err != nil {
			t.Fatalf("Invalid base64 audio: %v", err)
		}
		if len(data) != 320*2 {
			t.Errorf("Expected 320 resampled samples, got %d bytes", len(data))
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for realtime input")
	}

	events := stream.Events()

	ev := nextEvent(t, events)
	if ev.Type != EventInputTranscription || ev.Text != "hello" {
		t.Errorf("Expected input transcription, got %v", ev)
	}

	ev = nextEvent(t, events)
	if ev.Type != EventAudio {
		t.Fatalf("Expected audio event, got %v", ev)
	}
	if ev.Audio.SampleRate != audio.SampleRate24k || len(ev.Audio.Samples) != 4 || ev.Audio.Samples[1] != -100 {
		t.Errorf("Unexpected audio frame %+v", ev.Audio)
	}

	ev = nextEvent(t, events)
	if ev.Type != EventOutputTranscription || ev.Text != "hi there" {
		t.Errorf("Expected output transcription, got %v", ev)
	}

	ev = nextEvent(t, events)
	if ev.Type != EventUsage {
		t.Fatalf("Expected usage before turn completion, got %v", ev)
	}
	want := Usage{
		InputTokens: 40, OutputTokens: 60, TotalTokens: 100,
		InputAudioTokens: 30, InputTextTokens: 10, OutputAudioTokens: 60,
	}
	if ev.Usage != want {
		t.Errorf("Usage = %+v, want %+v", ev.Usage, want)
	}

	ev = nextEvent(t, events)
	if ev.Type != EventTurnComplete {
		t.Errorf("Expected turn complete, got %v", ev)
	}
}

func TestGeminiSendText(t *testing.T) {
	f := newFakeGemini(t)
	stream, err := testModel(f.endpoint()).Connect(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer stream.Close()

	if err := stream.SendText(context.Background(), "say hello"); err != nil {
		t.Fatalf("SendText failed: %v", err)
	}

	msg := <-f.inputs
	raw, _ := json.Marshal(msg)
	if !strings.Contains(string(raw), `"turnComplete":true`) || !strings.Contains(string(raw), "say hello") {
		t.Errorf("Unexpected client content %s", raw)
	}
}

func TestGeminiSetupTimeout(t *testing.T) {
	f := newSilentGemini(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err := testModel(f.endpoint()).Connect(ctx, SessionOptions{})
	if err == nil {
		t.Fatal("Expected error when setupComplete never arrives")
	}
	if !strings.Contains(err.Error(), "setupComplete") {
		t.Errorf("Expected setupComplete error, got %v", err)
	}
}

func TestGeminiDialFailure(t *testing.T) {
	_, err := testModel("ws://127.0.0.1:1/unreachable").Connect(context.Background(), SessionOptions{})
	if err == nil {
		t.Fatal("Expected dial error")
	}
	if !strings.Contains(err.Error(), "failed to dial gemini") {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestGeminiCloseEndsEvents(t *testing.T) {
	f := newFakeGemini(t)
	stream, err := testModel(f.endpoint()).Connect(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if err := stream.Close(); err != nil {
		t.Errorf("Close returned error: %v", err)
	}
	_ = stream.Close()

	select {
	case _, ok := <-stream.Events():
		if ok {
			// drain anything already queued
			for range stream.Events() {
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("events channel not closed after Close")
	}

	if err := stream.SendText(context.Background(), "late"); err == nil {
		t.Errorf("Expected error sending on closed stream")
	}
}

func TestParseRate(t *testing.T) {
	tests := []struct {
		mime string
		want int
	}{
		{"audio/pcm;rate=24000", 24000},
		{"audio/pcm; rate=16000", 16000},
		{"audio/pcm", 24000},
		{"audio/pcm;rate=abc", 24000},
	}

	for _, tt := range tests {
		if got := parseRate(tt.mime, 24000); got != tt.want {
			t.Errorf("parseRate(%q) = %d, want %d", tt.mime, got, tt.want)
		}
	}
}

func TestDecodeInterruptedBeforeTurnComplete(t *testing.T) {
	events := decodeServerMessage(serverMessage{
		ServerContent: &serverContent{Interrupted: true, TurnComplete: true},
	})
	if len(events) != 2 || events[0].Type != EventInterrupted || events[1].Type != EventTurnComplete {
		t.Errorf("Unexpected events %v", events)
	}
}
