package console

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/skypro1111/avatar-agent/internal/audio"
)

func TestSpeakerFillDrainsQueue(t *testing.T) {
	s := NewSpeaker(audio.SampleRate24k)
	frame := audio.Frame{Samples: []int16{1, 2, 3, 4, 5}, SampleRate: audio.SampleRate24k, Channels: 1}
	if err := s.WriteAudio(context.Background(), frame); err != nil {
		t.Fatalf("WriteAudio failed: %v", err)
	}

	out := make([]int16, 3)
	s.fill(out)
	if out[0] != 1 || out[1] != 2 || out[2] != 3 {
		t.Errorf("Expected [1 2 3], got %v", out)
	}
	if s.Pending() != 2 {
		t.Errorf("Expected 2 pending samples, got %d", s.Pending())
	}

	out = []int16{9, 9, 9, 9}
	s.fill(out)
	want := []int16{4, 5, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("Expected %v padded with silence, got %v", want, out)
		}
	}
	if s.Pending() != 0 {
		t.Errorf("Expected empty queue, got %d", s.Pending())
	}
}

func TestSpeakerResamplesToOutputRate(t *testing.T) {
	s := NewSpeaker(audio.SampleRate24k)
	frame := audio.Frame{Samples: make([]int16, 160), SampleRate: audio.SampleRate16k, Channels: 1}
	if err := s.WriteAudio(context.Background(), frame); err != nil {
		t.Fatalf("WriteAudio failed: %v", err)
	}
	if s.Pending() != 240 {
		t.Errorf("Expected 240 samples at 24kHz, got %d", s.Pending())
	}
}

func TestSpeakerClear(t *testing.T) {
	s := NewSpeaker(audio.SampleRate24k)
	s.WriteAudio(context.Background(), audio.Frame{Samples: make([]int16, 480), SampleRate: audio.SampleRate24k, Channels: 1})
	s.Clear()
	if s.Pending() != 0 {
		t.Errorf("Expected empty queue after Clear, got %d", s.Pending())
	}
}

func TestSpeakerRecordsSpeech(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.wav")
	rec, err := audio.CreateRecorder(path, audio.SampleRate24k)
	if err != nil {
		t.Fatalf("CreateRecorder failed: %v", err)
	}

	s := NewSpeaker(audio.SampleRate24k)
	s.recorder = rec
	frame := audio.Frame{Samples: make([]int16, 480), SampleRate: audio.SampleRate24k, Channels: 1}
	if err := s.WriteAudio(context.Background(), frame); err != nil {
		t.Fatalf("WriteAudio failed: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer f.Close()

	got, err := audio.ReadWAV(f)
	if err != nil {
		t.Fatalf("ReadWAV failed: %v", err)
	}
	if len(got.Samples) != 480 || got.SampleRate != audio.SampleRate24k {
		t.Errorf("Expected 480 samples at 24kHz, got %d at %d", len(got.Samples), got.SampleRate)
	}
}

func TestSamplesPerFrame(t *testing.T) {
	tests := []struct {
		rate  int
		frame time.Duration
		want  int
	}{
		{16000, 20 * time.Millisecond, 320},
		{24000, 20 * time.Millisecond, 480},
		{48000, 10 * time.Millisecond, 480},
	}
	for _, tt := range tests {
		if got := samplesPerFrame(tt.rate, tt.frame); got != tt.want {
			t.Errorf("samplesPerFrame(%d, %v) = %d, want %d", tt.rate, tt.frame, got, tt.want)
		}
	}
}
