package avatar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/skypro1111/avatar-agent/internal/agent"
	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/room"
)

// Defaults used when Config leaves a field empty
const (
	DefaultAPIURL   = "https://api.simli.ai"
	DefaultIdentity = "simli-avatar-agent"
	DefaultName     = "Simli Avatar"
)

// Config contains avatar provider configuration. Nothing is validated here;
// missing credentials surface as provider errors from Start.
type Config struct {
	APIKey           string
	FaceID           string
	APIURL           string
	Identity         string
	MaxRetries       int
	RetryInterval    time.Duration
	Timeout          time.Duration
	MaxSessionLength int // seconds
	MaxIdleTime      int // seconds

	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	HTTPClient *http.Client
}

// AudioOutputSetter is the part of an agent session the avatar takes over
type AudioOutputSetter interface {
	SetAudioOutput(sink agent.AudioSink)
}

// Session is a Simli avatar bound to one room
type Session struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	totalRequests   uint64
	failedRequests  uint64
	totalRetries    uint64
	avgResponseTime time.Duration

	mu sync.RWMutex
}

// SessionStats represents avatar API statistics
type SessionStats struct {
	TotalRequests   uint64        `json:"total_requests"`
	FailedRequests  uint64        `json:"failed_requests"`
	TotalRetries    uint64        `json:"total_retries"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
}

// StatusError is returned when the provider answers with a non-2xx status
type StatusError struct {
	Endpoint string
	Code     int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP error %d: %s", e.Endpoint, e.Code, e.Body)
}

// NewSession creates an avatar session from config
func NewSession(config Config) *Session {
	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}
	if config.Identity == "" {
		config.Identity = DefaultIdentity
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxSessionLength <= 0 {
		config.MaxSessionLength = 600
	}
	if config.MaxIdleTime <= 0 {
		config.MaxIdleTime = 30
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}

	return &Session{
		config:     config,
		httpClient: httpClient,
		logger:     config.Logger.With(slog.String("component", "avatar")),
	}
}

// Config returns the session configuration after defaults were applied
func (s *Session) Config() Config { return s.config }

// Identity is the participant identity the avatar joins with
func (s *Session) Identity() string { return s.config.Identity }

// Start asks Simli to join the room and redirects the agent's audio to it
func (s *Session) Start(ctx context.Context, session AudioOutputSetter, r room.Room) (err error) {
	defer func() {
		if s.config.Metrics != nil {
			s.config.Metrics.RecordAvatarStart(err)
		}
	}()

	creds, ok := r.(room.Credentials)
	if !ok {
		return fmt.Errorf("room %s cannot admit an avatar participant", r.Name())
	}

	livekitToken, err := creds.MintToken(s.config.Identity, room.TokenOptions{
		Name:  DefaultName,
		Agent: true,
		Attributes: map[string]string{
			room.AttributePublishOnBehalf: r.LocalIdentity(),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to mint avatar token: %w", err)
	}

	var started startSessionResponse
	err = s.post(ctx, "/startAudioToVideoSession", startSessionRequest{
		FaceID:           s.config.FaceID,
		APIKey:           s.config.APIKey,
		SyncAudio:        true,
		HandleSilence:    true,
		MaxSessionLength: s.config.MaxSessionLength,
		MaxIdleTime:      s.config.MaxIdleTime,
	}, &started)
	if err != nil {
		return fmt.Errorf("failed to start avatar session: %w", err)
	}
	if started.SessionToken == "" {
		return fmt.Errorf("avatar provider returned no session token")
	}

	err = s.post(ctx, "/StartLivekitAgentsSession", joinRoomRequest{
		SessionToken: started.SessionToken,
		LiveKitToken: livekitToken,
		LiveKitURL:   creds.URL(),
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to join avatar to room: %w", err)
	}

	session.SetAudioOutput(NewDataStreamSink(r, s.config.Identity, s.logger))

	s.logger.Info("Avatar started",
		slog.String("room", r.Name()),
		slog.String("identity", s.config.Identity),
		slog.String("face_id", s.config.FaceID))
	return nil
}

type startSessionRequest struct {
	FaceID           string `json:"faceId"`
	APIKey           string `json:"apiKey"`
	SyncAudio        bool   `json:"syncAudio"`
	HandleSilence    bool   `json:"handleSilence"`
	MaxSessionLength int    `json:"maxSessionLength"`
	MaxIdleTime      int    `json:"maxIdleTime"`
}

type startSessionResponse struct {
	SessionToken string `json:"session_token"`
}

type joinRoomRequest struct {
	SessionToken string `json:"session_token"`
	LiveKitToken string `json:"livekit_token"`
	LiveKitURL   string `json:"livekit_url"`
}

// post sends a JSON request with retries and exponential backoff
func (s *Session) post(ctx context.Context, endpoint string, body, out any) error {
	startTime := time.Now()
	s.incrementTotalRequests()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		if attempt > 0 {
			s.incrementTotalRetries()

			backoffTime := time.Duration(math.Pow(2, float64(attempt-1))) * s.config.RetryInterval
			if backoffTime > 30*time.Second {
				backoffTime = 30 * time.Second
			}

			s.logger.Warn("Retrying avatar request",
				slog.String("endpoint", endpoint),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", backoffTime),
				slog.String("error", lastErr.Error()))

			select {
			case <-time.After(backoffTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err := s.doRequest(ctx, endpoint, payload, out)
		if err == nil {
			s.updateAvgResponseTime(time.Since(startTime))
			return nil
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
	}

	s.incrementFailedRequests()
	return lastErr
}

func (s *Session) doRequest(ctx context.Context, endpoint string, payload []byte, out any) error {
	url := strings.TrimRight(s.config.APIURL, "/") + endpoint

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", "avatar-agent/1.0")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Endpoint: endpoint, Code: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response JSON: %w", err)
	}
	return nil
}

// isRetryableError reports whether a failed request may succeed on retry:
// server errors, rate limiting and transport failures
func isRetryableError(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code >= 500 || statusErr.Code == http.StatusTooManyRequests
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// Statistics methods
func (s *Session) incrementTotalRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

func (s *Session) incrementFailedRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failedRequests++
}

func (s *Session) incrementTotalRetries() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRetries++
}

func (s *Session) updateAvgResponseTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	succeeded := s.totalRequests - s.failedRequests
	if succeeded <= 1 {
		s.avgResponseTime = d
		return
	}
	s.avgResponseTime = time.Duration((int64(s.avgResponseTime)*int64(succeeded-1) + int64(d)) / int64(succeeded))
}

// Stats returns request statistics
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionStats{
		TotalRequests:   s.totalRequests,
		FailedRequests:  s.failedRequests,
		TotalRetries:    s.totalRetries,
		AvgResponseTime: s.avgResponseTime,
	}
}
