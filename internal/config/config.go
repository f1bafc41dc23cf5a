package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables overlaid on top of the configuration file
const (
	EnvLiveKitURL       = "LIVEKIT_URL"
	EnvLiveKitAPIKey    = "LIVEKIT_API_KEY"
	EnvLiveKitAPISecret = "LIVEKIT_API_SECRET"
	EnvGoogleAPIKey     = "GOOGLE_API_KEY"
)

// Config represents the complete worker configuration
type Config struct {
	Worker            WorkerConfig            `yaml:"worker"`
	LiveKit           LiveKitConfig           `yaml:"livekit"`
	Model             ModelConfig             `yaml:"model"`
	Avatar            AvatarConfig            `yaml:"avatar"`
	VAD               VADConfig               `yaml:"vad"`
	NoiseCancellation NoiseCancellationConfig `yaml:"noise_cancellation"`
	HTTP              HTTPConfig              `yaml:"http"`
	Logging           LoggingConfig           `yaml:"logging"`
}

// WorkerConfig contains job scheduling parameters
type WorkerConfig struct {
	AgentName         string `yaml:"agent_name"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	JobTimeout        int    `yaml:"job_timeout"`   // seconds, 0 disables the timeout
	JobRetention      int    `yaml:"job_retention"` // seconds finished jobs stay visible
}

// LiveKitConfig contains the room server connection parameters
type LiveKitConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// ModelConfig contains realtime model parameters
type ModelConfig struct {
	Name        string  `yaml:"name"`
	Voice       string  `yaml:"voice"`
	Temperature float64 `yaml:"temperature"`
	APIKey      string  `yaml:"api_key"`
	Endpoint    string  `yaml:"endpoint"`
}

// AvatarConfig contains avatar provider parameters. Credentials are not part of
// the file; they are read from the environment when a room job starts.
type AvatarConfig struct {
	APIURL     string `yaml:"api_url"`
	Identity   string `yaml:"identity"`
	MaxRetries int    `yaml:"max_retries"`
	Timeout    int    `yaml:"timeout"` // seconds
}

// VADConfig contains Voice Activity Detection configuration
type VADConfig struct {
	Backend            string  `yaml:"backend"`
	ModelPath          string  `yaml:"model_path"`
	ModelURL           string  `yaml:"model_url"`
	Threshold          float32 `yaml:"threshold"`
	WindowSize         int     `yaml:"window_size"` // samples
	SampleRate         int     `yaml:"sample_rate"`
	Smoothing          float32 `yaml:"smoothing"`
	MinSpeechDuration  float64 `yaml:"min_speech_duration"`  // seconds
	MinSilenceDuration float64 `yaml:"min_silence_duration"` // seconds
}

// NoiseCancellationConfig contains the room input filter parameters
type NoiseCancellationConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Ratio     float64 `yaml:"ratio"`      // frames below floor*ratio are gated
	Reduction float64 `yaml:"reduction"`  // gain applied to gated frames, 0-1
	FloorRise float64 `yaml:"floor_rise"` // per-frame adaptation rate of the noise floor
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Worker: WorkerConfig{
			AgentName:         "avatar-agent",
			MaxConcurrentJobs: 4,
			JobTimeout:        0,
			JobRetention:      300,
		},
		LiveKit: LiveKitConfig{
			URL: "ws://localhost:7880",
		},
		Model: ModelConfig{
			Name:        "gemini-live-2.5-flash-preview",
			Voice:       "Aoede",
			Temperature: 0.6,
			Endpoint:    "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent",
		},
		Avatar: AvatarConfig{
			APIURL:     "https://api.simli.ai",
			Identity:   "simli-avatar-agent",
			MaxRetries: 3,
			Timeout:    10,
		},
		VAD: VADConfig{
			Backend:            "energy",
			ModelPath:          "./models/silero_vad.onnx",
			ModelURL:           "https://raw.githubusercontent.com/snakers4/silero-vad/master/src/silero_vad/data/silero_vad.onnx",
			Threshold:          0.5,
			WindowSize:         512,
			SampleRate:         16000,
			Smoothing:          0.6,
			MinSpeechDuration:  0.05,
			MinSilenceDuration: 0.55,
		},
		NoiseCancellation: NoiseCancellationConfig{
			Enabled:   true,
			Ratio:     2.0,
			Reduction: 0.1,
			FloorRise: 0.01,
		},
		HTTP: HTTPConfig{
			Port:    8081,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file on top of the defaults,
// applies the environment overlay and validates the result
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides secrets and endpoints with environment values when set
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLiveKitURL); ok && v != "" {
		c.LiveKit.URL = v
	}
	if v, ok := lookup(EnvLiveKitAPIKey); ok && v != "" {
		c.LiveKit.APIKey = v
	}
	if v, ok := lookup(EnvLiveKitAPISecret); ok && v != "" {
		c.LiveKit.APISecret = v
	}
	if v, ok := lookup(EnvGoogleAPIKey); ok && v != "" {
		c.Model.APIKey = v
	}
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker config: %w", err)
	}

	if err := c.LiveKit.Validate(); err != nil {
		return fmt.Errorf("livekit config: %w", err)
	}

	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model config: %w", err)
	}

	if err := c.Avatar.Validate(); err != nil {
		return fmt.Errorf("avatar config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.NoiseCancellation.Validate(); err != nil {
		return fmt.Errorf("noise_cancellation config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates worker configuration
func (w *WorkerConfig) Validate() error {
	if w.AgentName == "" {
		return fmt.Errorf("agent_name cannot be empty")
	}

	if w.MaxConcurrentJobs < 1 {
		return fmt.Errorf("max_concurrent_jobs must be at least 1, got %d", w.MaxConcurrentJobs)
	}

	if w.JobTimeout < 0 {
		return fmt.Errorf("job_timeout cannot be negative, got %d", w.JobTimeout)
	}

	if w.JobRetention < 0 {
		return fmt.Errorf("job_retention cannot be negative, got %d", w.JobRetention)
	}

	return nil
}

// Validate validates the server URL. Credentials are checked separately because
// console mode runs without them.
func (l *LiveKitConfig) Validate() error {
	if l.URL == "" {
		return fmt.Errorf("url cannot be empty")
	}

	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", l.URL, err)
	}

	switch u.Scheme {
	case "ws", "wss", "http", "https":
	default:
		return fmt.Errorf("url scheme must be ws, wss, http or https, got %q", u.Scheme)
	}

	return nil
}

// ValidateCredentials checks the API key pair needed to join real rooms
func (l *LiveKitConfig) ValidateCredentials() error {
	if l.APIKey == "" {
		return fmt.Errorf("api_key cannot be empty (set %s)", EnvLiveKitAPIKey)
	}

	if l.APISecret == "" {
		return fmt.Errorf("api_secret cannot be empty (set %s)", EnvLiveKitAPISecret)
	}

	return nil
}

// Validate validates realtime model configuration
func (m *ModelConfig) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	if m.Voice == "" {
		return fmt.Errorf("voice cannot be empty")
	}

	if m.Temperature < 0 || m.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", m.Temperature)
	}

	if m.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	return nil
}

// Validate validates avatar configuration
func (a *AvatarConfig) Validate() error {
	if a.APIURL == "" {
		return fmt.Errorf("api_url cannot be empty")
	}

	if a.Identity == "" {
		return fmt.Errorf("identity cannot be empty")
	}

	if a.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
	}

	if a.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	validBackends := map[string]bool{"energy": true, "silero": true}
	if !validBackends[v.Backend] {
		return fmt.Errorf("backend must be 'energy' or 'silero', got '%s'", v.Backend)
	}

	if v.Backend == "silero" && v.ModelPath == "" {
		return fmt.Errorf("model_path cannot be empty for the silero backend")
	}

	if v.Threshold < 0 || v.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", v.Threshold)
	}

	if v.WindowSize < 256 || v.WindowSize > 2048 {
		return fmt.Errorf("window_size must be between 256 and 2048 samples, got %d", v.WindowSize)
	}

	if v.SampleRate != 8000 && v.SampleRate != 16000 {
		return fmt.Errorf("sample_rate must be 8000 or 16000 Hz, got %d", v.SampleRate)
	}

	if v.Smoothing < 0 || v.Smoothing > 1 {
		return fmt.Errorf("smoothing must be between 0 and 1, got %f", v.Smoothing)
	}

	if v.MinSpeechDuration < 0 {
		return fmt.Errorf("min_speech_duration cannot be negative, got %f", v.MinSpeechDuration)
	}

	if v.MinSilenceDuration <= 0 {
		return fmt.Errorf("min_silence_duration must be positive, got %f", v.MinSilenceDuration)
	}

	return nil
}

// Validate validates noise cancellation configuration
func (n *NoiseCancellationConfig) Validate() error {
	if !n.Enabled {
		return nil
	}

	if n.Ratio < 1 {
		return fmt.Errorf("ratio must be at least 1, got %f", n.Ratio)
	}

	if n.Reduction < 0 || n.Reduction > 1 {
		return fmt.Errorf("reduction must be between 0 and 1, got %f", n.Reduction)
	}

	if n.FloorRise <= 0 || n.FloorRise >= 1 {
		return fmt.Errorf("floor_rise must be between 0 and 1 (exclusive), got %f", n.FloorRise)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// any other output value is treated as a file path
	return nil
}

// GetJobTimeoutDuration returns the job timeout; zero means no timeout
func (w *WorkerConfig) GetJobTimeoutDuration() time.Duration {
	return time.Duration(w.JobTimeout) * time.Second
}

// GetJobRetentionDuration returns how long finished jobs are kept
func (w *WorkerConfig) GetJobRetentionDuration() time.Duration {
	return time.Duration(w.JobRetention) * time.Second
}

// GetTimeoutDuration returns the avatar API timeout
func (a *AvatarConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration
func (v *VADConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(v.MinSpeechDuration * float64(time.Second))
}

// GetMinSilenceDuration returns the minimum silence duration as a time.Duration
func (v *VADConfig) GetMinSilenceDuration() time.Duration {
	return time.Duration(v.MinSilenceDuration * float64(time.Second))
}
