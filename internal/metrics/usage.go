package metrics

import (
	"log/slog"
	"sync"
)

// UsageSummary holds running usage totals for a session
type UsageSummary struct {
	LLMRequests         int `json:"llm_requests"`
	LLMPromptTokens     int `json:"llm_prompt_tokens"`
	LLMCompletionTokens int `json:"llm_completion_tokens"`
	InputAudioTokens    int `json:"input_audio_tokens"`
	OutputAudioTokens   int `json:"output_audio_tokens"`
	VADInferences       int `json:"vad_inferences"`
}

// UsageCollector accumulates AgentMetrics into a UsageSummary and, when
// configured, into Prometheus collectors
type UsageCollector struct {
	mu      sync.Mutex
	summary UsageSummary
	prom    *Metrics
}

// NewUsageCollector creates a collector; m may be nil
func NewUsageCollector(m *Metrics) *UsageCollector {
	return &UsageCollector{prom: m}
}

// Collect adds a metrics payload to the running totals
func (c *UsageCollector) Collect(m AgentMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v := m.(type) {
	case RealtimeModelMetrics:
		c.summary.LLMRequests++
		c.summary.LLMPromptTokens += v.InputTokens
		c.summary.LLMCompletionTokens += v.OutputTokens
		c.summary.InputAudioTokens += v.InputAudioTokens
		c.summary.OutputAudioTokens += v.OutputAudioTokens
		if c.prom != nil {
			c.prom.RecordRealtime(v)
		}
	case VADMetrics:
		c.summary.VADInferences += v.InferenceCount
		if c.prom != nil {
			c.prom.RecordVAD(v)
		}
	}
}

// Summary returns a copy of the running totals
func (c *UsageCollector) Summary() UsageSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.summary
}

// LogMetrics writes a metrics payload as a structured log line
func LogMetrics(logger *slog.Logger, m AgentMetrics) {
	switch v := m.(type) {
	case RealtimeModelMetrics:
		logger.Info("Realtime model metrics",
			slog.String("request_id", v.RequestID),
			slog.Duration("ttft", v.TTFT),
			slog.Duration("duration", v.Duration),
			slog.Int("input_tokens", v.InputTokens),
			slog.Int("output_tokens", v.OutputTokens),
			slog.Int("total_tokens", v.TotalTokens),
			slog.Bool("cancelled", v.Cancelled),
		)
	case VADMetrics:
		logger.Debug("VAD metrics",
			slog.Int("inference_count", v.InferenceCount),
			slog.Duration("inference_duration", v.InferenceDurationTotal),
			slog.Duration("idle_time", v.IdleTime),
		)
	default:
		logger.Info("Metrics collected", slog.String("kind", m.Kind()))
	}
}

// LogUsage writes a usage summary, typically at session shutdown
func LogUsage(logger *slog.Logger, s UsageSummary) {
	logger.Info("Usage summary",
		slog.Int("llm_requests", s.LLMRequests),
		slog.Int("llm_prompt_tokens", s.LLMPromptTokens),
		slog.Int("llm_completion_tokens", s.LLMCompletionTokens),
		slog.Int("input_audio_tokens", s.InputAudioTokens),
		slog.Int("output_audio_tokens", s.OutputAudioTokens),
		slog.Int("vad_inferences", s.VADInferences),
	)
}
