package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Supported detector backends
const (
	BackendEnergy = "energy"
	BackendSilero = "silero"
)

// Detector scores fixed-size windows of mono PCM for voice activity
type Detector interface {
	Process(samples []int16) (*VADResult, error)
	GetStats() ProcessorStats
	GetWindowSize() int
	GetSampleRate() int
	Close() error
}

// scorer returns the raw voice probability for a window of samples
type scorer interface {
	score(samples []int16) (float32, error)
	close() error
}

// Config holds the detector configuration
type Config struct {
	Backend    string
	ModelPath  string
	Threshold  float32
	WindowSize int     // samples per window (512 = 32ms at 16kHz)
	SampleRate int     // input sample rate
	Smoothing  float32 // weight of the newest window, 1 disables smoothing
}

// Processor provides Voice Activity Detection over fixed windows
type Processor struct {
	backend    string
	modelPath  string
	threshold  float32
	windowSize int
	sampleRate int

	// VAD state
	scorer        scorer
	isInitialized bool
	lastResult    float32
	smoothing     float32

	// Statistics
	totalWindows   uint64
	voiceWindows   uint64
	processingTime time.Duration
	lastProcessed  time.Time

	mu sync.RWMutex
}

// VADResult represents the result of voice activity detection
type VADResult struct {
	Probability    float32       `json:"probability"`     // Voice probability (0.0 - 1.0)
	HasVoice       bool          `json:"has_voice"`       // Whether voice was detected
	Confidence     float32       `json:"confidence"`      // Confidence in the result
	WindowIndex    int           `json:"window_index"`    // Window index processed
	ProcessingTime time.Duration `json:"processing_time"` // Time taken to process
	Timestamp      time.Time     `json:"timestamp"`       // When processing occurred
}

// ProcessorStats represents VAD processor statistics
type ProcessorStats struct {
	Backend         string        `json:"backend"`
	ModelPath       string        `json:"model_path"`
	IsInitialized   bool          `json:"is_initialized"`
	TotalWindows    uint64        `json:"total_windows"`
	VoiceWindows    uint64        `json:"voice_windows"`
	VoicePercentage float64       `json:"voice_percentage"`
	ProcessingTime  time.Duration `json:"processing_time"`
	LastProcessed   time.Time     `json:"last_processed"`
	Threshold       float32       `json:"threshold"`
}

// NewProcessor creates a new VAD processor instance
func NewProcessor(cfg Config) (*Processor, error) {
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", cfg.Threshold)
	}

	if cfg.WindowSize <= 0 {
		return nil, fmt.Errorf("window size must be positive, got %d", cfg.WindowSize)
	}

	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}

	backend := cfg.Backend
	if backend == "" {
		backend = BackendEnergy
	}
	if backend != BackendEnergy && backend != BackendSilero {
		return nil, fmt.Errorf("unknown VAD backend %q", backend)
	}

	smoothing := cfg.Smoothing
	if smoothing <= 0 || smoothing > 1 {
		smoothing = 1
	}

	return &Processor{
		backend:    backend,
		modelPath:  cfg.ModelPath,
		threshold:  cfg.Threshold,
		windowSize: cfg.WindowSize,
		sampleRate: cfg.SampleRate,
		smoothing:  smoothing,
	}, nil
}

// Load creates and initializes a processor in one step
func Load(cfg Config) (*Processor, error) {
	p, err := NewProcessor(cfg)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(); err != nil {
		return nil, err
	}
	return p, nil
}

// Initialize loads the detector backend
func (p *Processor) Initialize() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.isInitialized {
		return nil
	}

	switch p.backend {
	case BackendSilero:
		s, err := newSileroScorer(p.modelPath, p.sampleRate, p.threshold)
		if err != nil {
			return fmt.Errorf("failed to load silero model %s: %w", p.modelPath, err)
		}
		p.scorer = s
	default:
		p.scorer = energyScorer{}
	}

	p.isInitialized = true
	p.lastProcessed = time.Now()

	return nil
}

// Process processes a window of audio samples and returns voice activity probability
func (p *Processor) Process(samples []int16) (*VADResult, error) {
	startTime := time.Now()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isInitialized {
		return nil, fmt.Errorf("processor not initialized")
	}

	if len(samples) != p.windowSize {
		return nil, fmt.Errorf("expected %d samples, got %d", p.windowSize, len(samples))
	}

	probability, err := p.scorer.score(samples)
	if err != nil {
		return nil, fmt.Errorf("failed to score window: %w", err)
	}

	if p.totalWindows > 0 {
		probability = p.smoothing*probability + (1-p.smoothing)*p.lastResult
	}
	p.lastResult = probability

	hasVoice := probability >= p.threshold

	p.totalWindows++
	if hasVoice {
		p.voiceWindows++
	}
	p.lastProcessed = time.Now()

	// Confidence grows with the distance from the threshold
	confidence := float32(math.Abs(float64(probability - p.threshold)))
	if confidence > 0.5 {
		confidence = 0.5
	}
	confidence = confidence * 2

	elapsed := time.Since(startTime)
	p.processingTime += elapsed

	return &VADResult{
		Probability:    probability,
		HasVoice:       hasVoice,
		Confidence:     confidence,
		WindowIndex:    int(p.totalWindows - 1),
		ProcessingTime: elapsed,
		Timestamp:      p.lastProcessed,
	}, nil
}

// GetStats returns current processor statistics
func (p *Processor) GetStats() ProcessorStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	voicePercentage := float64(0)
	if p.totalWindows > 0 {
		voicePercentage = float64(p.voiceWindows) / float64(p.totalWindows) * 100
	}

	return ProcessorStats{
		Backend:         p.backend,
		ModelPath:       p.modelPath,
		IsInitialized:   p.isInitialized,
		TotalWindows:    p.totalWindows,
		VoiceWindows:    p.voiceWindows,
		VoicePercentage: voicePercentage,
		ProcessingTime:  p.processingTime,
		LastProcessed:   p.lastProcessed,
		Threshold:       p.threshold,
	}
}

// Close releases the backend; the processor must be re-initialized before reuse
func (p *Processor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.isInitialized {
		return nil
	}
	p.isInitialized = false
	return p.scorer.close()
}

// GetWindowSize returns the window size in samples
func (p *Processor) GetWindowSize() int {
	return p.windowSize
}

// GetSampleRate returns the expected input sample rate
func (p *Processor) GetSampleRate() int {
	return p.sampleRate
}

// energyReference is the RMS level (about -20 dBFS) treated as certain speech
const energyReference = 0.1

// energyScorer maps window RMS energy linearly onto a probability
type energyScorer struct{}

func (energyScorer) score(samples []int16) (float32, error) {
	var energy float64
	for _, s := range samples {
		v := float64(s) / math.MaxInt16
		energy += v * v
	}
	rms := math.Sqrt(energy / float64(len(samples)))

	probability := rms / energyReference
	if probability > 1 {
		probability = 1
	}
	return float32(probability), nil
}

func (energyScorer) close() error { return nil }
