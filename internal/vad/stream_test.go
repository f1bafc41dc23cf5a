package vad

import (
	"testing"
	"time"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

func voicedFrame(windows int, value int16) audio.Frame {
	samples := make([]int16, windows*512)
	for i := range samples {
		samples[i] = value
	}
	return audio.Frame{Samples: samples, SampleRate: 16000, Channels: 1}
}

func TestStreamEmitsStartAndEnd(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}

	// 32ms windows: start needs 2 voiced windows, end needs 3 silent windows
	stream := NewStream(processor, 64*time.Millisecond, 96*time.Millisecond)

	events, err := stream.Push(voicedFrame(1, 8000))
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(events) != 0 || stream.Speaking() {
		t.Fatalf("Expected no start after one voiced window, got %v", events)
	}

	events, _ = stream.Push(voicedFrame(3, 8000))
	if len(events) != 1 || events[0].Type != EventSpeechStart {
		t.Fatalf("Expected a single start event, got %v", events)
	}
	if events[0].Position != 0 {
		t.Errorf("Expected speech to start at 0, got %v", events[0].Position)
	}
	if !stream.Speaking() {
		t.Error("Expected stream to be speaking")
	}

	// two silent windows are not enough to end the utterance
	events, _ = stream.Push(voicedFrame(2, 0))
	if len(events) != 0 {
		t.Fatalf("Expected no end event yet, got %v", events)
	}

	events, _ = stream.Push(voicedFrame(1, 0))
	if len(events) != 1 || events[0].Type != EventSpeechEnd {
		t.Fatalf("Expected a single end event, got %v", events)
	}
	if events[0].SpeechDuration != 128*time.Millisecond {
		t.Errorf("Expected 128ms of speech, got %v", events[0].SpeechDuration)
	}
	if stream.Speaking() {
		t.Error("Expected stream to stop speaking")
	}

	stats := stream.TakeStats()
	if stats.Inferences != 7 {
		t.Errorf("Expected 7 inferences, got %d", stats.Inferences)
	}
	if again := stream.TakeStats(); again.Inferences != 0 {
		t.Errorf("Expected stats to reset, got %d", again.Inferences)
	}
}

func TestStreamBuffersPartialWindows(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}
	stream := NewStream(processor, 0, 0)

	half := audio.Frame{Samples: make([]int16, 256), SampleRate: 16000, Channels: 1}
	stream.Push(half)
	if got := stream.TakeStats().Inferences; got != 0 {
		t.Fatalf("Expected no inference for half a window, got %d", got)
	}
	stream.Push(half)
	if got := stream.TakeStats().Inferences; got != 1 {
		t.Errorf("Expected one inference after a full window, got %d", got)
	}
}

func TestStreamResamplesInput(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}
	stream := NewStream(processor, 0, time.Second)

	// 48kHz frame of 1536 samples becomes one 512-sample window at 16kHz
	frame := audio.Frame{Samples: make([]int16, 1536), SampleRate: 48000, Channels: 1}
	for i := range frame.Samples {
		frame.Samples[i] = 8000
	}
	events, err := stream.Push(frame)
	if err != nil {
		t.Fatalf("Push failed: %v", err)
	}
	if len(events) != 1 || events[0].Type != EventSpeechStart {
		t.Errorf("Expected start event, got %v", events)
	}
}

func TestEventTypeString(t *testing.T) {
	if EventSpeechStart.String() != "start_of_speech" {
		t.Errorf("Unexpected string %q", EventSpeechStart.String())
	}
	if EventSpeechEnd.String() != "end_of_speech" {
		t.Errorf("Unexpected string %q", EventSpeechEnd.String())
	}
}
