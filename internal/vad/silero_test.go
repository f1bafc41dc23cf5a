//go:build silero

package vad

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestIsSileroSpeechEnd(t *testing.T) {
	if !isSileroSpeechEnd(errors.New("unexpected speech end")) {
		t.Error("Expected speech end error to be recognized")
	}
	if isSileroSpeechEnd(fmt.Errorf("infer failed: %w", errors.New("ort error"))) {
		t.Error("Expected inference errors not to be treated as speech end")
	}
}

func TestSileroScorerRunsInference(t *testing.T) {
	modelPath := os.Getenv("SILERO_MODEL_PATH")
	if modelPath == "" {
		t.Skip("SILERO_MODEL_PATH not set")
	}

	s, err := newSileroScorer(modelPath, 16000, 0.5)
	if err != nil {
		t.Fatalf("Failed to load model: %v", err)
	}
	defer s.close()

	for i := 0; i < 50; i++ {
		got, err := s.score(make([]int16, 512))
		if err != nil {
			t.Fatalf("window %d: score failed: %v", i, err)
		}
		if got != 0 {
			t.Errorf("window %d: expected silence, got %v", i, got)
		}
	}

	if ws, ok := s.(*windowedScorer); !ok || len(ws.pending) != 0 {
		t.Errorf("Expected every full window to be consumed, got %T", s)
	}
}
