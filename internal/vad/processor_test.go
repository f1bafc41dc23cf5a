package vad

import (
	"testing"
)

func testConfig() Config {
	return Config{
		ModelPath:  "./models/silero_vad.onnx",
		Threshold:  0.5,
		WindowSize: 512,
		SampleRate: 16000,
	}
}

func constantWindow(value int16) []int16 {
	samples := make([]int16, 512)
	for i := range samples {
		samples[i] = value
	}
	return samples
}

func TestNewProcessor(t *testing.T) {
	cfg := testConfig()

	processor, err := NewProcessor(cfg)
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if processor.modelPath != cfg.ModelPath {
		t.Errorf("Expected model path %s, got %s", cfg.ModelPath, processor.modelPath)
	}

	if processor.backend != BackendEnergy {
		t.Errorf("Expected default backend %s, got %s", BackendEnergy, processor.backend)
	}

	if processor.GetWindowSize() != 512 {
		t.Errorf("Expected window size 512, got %d", processor.GetWindowSize())
	}

	if processor.GetSampleRate() != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", processor.GetSampleRate())
	}

	if processor.GetStats().IsInitialized {
		t.Error("Expected processor to not be initialized initially")
	}
}

func TestNewProcessorValidation(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{"valid parameters", func(c *Config) {}, false},
		{"threshold too low", func(c *Config) { c.Threshold = -0.1 }, true},
		{"threshold too high", func(c *Config) { c.Threshold = 1.1 }, true},
		{"zero window size", func(c *Config) { c.WindowSize = 0 }, true},
		{"negative sample rate", func(c *Config) { c.SampleRate = -1 }, true},
		{"unknown backend", func(c *Config) { c.Backend = "webrtc" }, true},
		{"explicit silero backend", func(c *Config) { c.Backend = BackendSilero }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewProcessor(cfg)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestLoadInitializes(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	defer processor.Close()

	stats := processor.GetStats()
	if !stats.IsInitialized {
		t.Error("Expected stats to show processor as initialized")
	}
	if stats.Backend != BackendEnergy {
		t.Errorf("Expected backend %s in stats, got %s", BackendEnergy, stats.Backend)
	}
}

func TestProcessWithoutInitialization(t *testing.T) {
	processor, err := NewProcessor(testConfig())
	if err != nil {
		t.Fatalf("Failed to create processor: %v", err)
	}

	if _, err := processor.Process(make([]int16, 512)); err == nil {
		t.Error("Expected error when processing without initialization")
	}
}

func TestProcessWrongSampleCount(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}

	if _, err := processor.Process(make([]int16, 256)); err == nil {
		t.Error("Expected error for wrong sample count")
	}
}

func TestVoiceActivityDetection(t *testing.T) {
	tests := []struct {
		name        string
		samples     []int16
		expectVoice bool
	}{
		{"silence", make([]int16, 512), false},
		{"high energy", constantWindow(8000), true},
		{"low energy", constantWindow(100), false},
		{
			name: "alternating pattern",
			samples: func() []int16 {
				samples := make([]int16, 512)
				for i := range samples {
					if i%2 == 0 {
						samples[i] = 5000
					} else {
						samples[i] = -5000
					}
				}
				return samples
			}(),
			expectVoice: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// fresh processor per case so smoothing state does not leak
			processor, err := Load(testConfig())
			if err != nil {
				t.Fatalf("Failed to load processor: %v", err)
			}

			result, err := processor.Process(tt.samples)
			if err != nil {
				t.Fatalf("Failed to process: %v", err)
			}

			if result.HasVoice != tt.expectVoice {
				t.Errorf("Expected hasVoice=%v, got %v (probability=%.3f)",
					tt.expectVoice, result.HasVoice, result.Probability)
			}

			if result.Confidence < 0 || result.Confidence > 1 {
				t.Errorf("Invalid confidence: %f", result.Confidence)
			}

			if result.Timestamp.IsZero() {
				t.Error("Expected non-zero timestamp")
			}
		})
	}
}

func TestProcessSmoothing(t *testing.T) {
	cfg := testConfig()
	cfg.Smoothing = 0.5
	processor, err := Load(cfg)
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}

	first, _ := processor.Process(constantWindow(8000))
	if first.Probability != 1 {
		t.Fatalf("Expected first window probability 1, got %f", first.Probability)
	}

	second, _ := processor.Process(make([]int16, 512))
	if second.Probability != 0.5 {
		t.Errorf("Expected smoothed probability 0.5, got %f", second.Probability)
	}
	if second.WindowIndex != 1 {
		t.Errorf("Expected window index 1, got %d", second.WindowIndex)
	}
}

func TestProcessorStats(t *testing.T) {
	cfg := testConfig()
	cfg.Threshold = 0.6
	processor, err := Load(cfg)
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}

	for i := 0; i < 10; i++ {
		if i%2 == 0 {
			processor.Process(constantWindow(8000))
		} else {
			processor.Process(make([]int16, 512))
		}
	}

	stats := processor.GetStats()

	if stats.TotalWindows != 10 {
		t.Errorf("Expected 10 total windows, got %d", stats.TotalWindows)
	}

	if stats.VoiceWindows != 5 {
		t.Errorf("Expected 5 voice windows, got %d", stats.VoiceWindows)
	}

	if stats.VoicePercentage != 50 {
		t.Errorf("Expected 50%% voice, got %f", stats.VoicePercentage)
	}

	if stats.Threshold != 0.6 {
		t.Errorf("Expected threshold 0.6, got %f", stats.Threshold)
	}

	if stats.LastProcessed.IsZero() {
		t.Error("Expected non-zero last processed time")
	}
}

func TestCloseDeinitializes(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}
	if err := processor.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if processor.GetStats().IsInitialized {
		t.Error("Expected processor to be uninitialized after Close")
	}
	if err := processor.Close(); err != nil {
		t.Errorf("Expected second Close to be a no-op, got %v", err)
	}
}

func TestConcurrentProcessing(t *testing.T) {
	processor, err := Load(testConfig())
	if err != nil {
		t.Fatalf("Failed to load processor: %v", err)
	}

	done := make(chan bool)
	numGoroutines := 5
	numProcessPerGoroutine := 20

	for i := 0; i < numGoroutines; i++ {
		go func(id int) {
			defer func() { done <- true }()

			samples := constantWindow(int16(id * 1000))
			for j := 0; j < numProcessPerGoroutine; j++ {
				result, err := processor.Process(samples)
				if err != nil {
					t.Errorf("Goroutine %d failed to process: %v", id, err)
					return
				}
				if result == nil {
					t.Errorf("Goroutine %d got nil result", id)
					return
				}
			}
		}(i)
	}

	for i := 0; i < numGoroutines; i++ {
		<-done
	}

	stats := processor.GetStats()
	expectedWindows := uint64(numGoroutines * numProcessPerGoroutine)
	if stats.TotalWindows != expectedWindows {
		t.Errorf("Expected %d total windows, got %d", expectedWindows, stats.TotalWindows)
	}
}
