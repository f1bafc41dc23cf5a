package metrics

import "time"

// AgentMetrics is implemented by every metrics payload a session emits
type AgentMetrics interface {
	Kind() string
}

// RealtimeModelMetrics describes one realtime model generation
type RealtimeModelMetrics struct {
	Label     string
	RequestID string
	Timestamp time.Time

	// TTFT is the time to the first audio chunk; -1 when nothing was generated
	TTFT      time.Duration
	Duration  time.Duration
	Cancelled bool

	InputTokens       int
	OutputTokens      int
	TotalTokens       int
	InputAudioTokens  int
	OutputAudioTokens int
	InputTextTokens   int
	OutputTextTokens  int
}

// Kind implements AgentMetrics
func (RealtimeModelMetrics) Kind() string { return "realtime_model_metrics" }

// VADMetrics summarizes voice activity detection work over a reporting interval
type VADMetrics struct {
	Label                  string
	Timestamp              time.Time
	IdleTime               time.Duration
	InferenceCount         int
	InferenceDurationTotal time.Duration
}

// Kind implements AgentMetrics
func (VADMetrics) Kind() string { return "vad_metrics" }
