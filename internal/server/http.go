package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/skypro1111/avatar-agent/internal/config"
	"github.com/skypro1111/avatar-agent/internal/entrypoint"
	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/vad"
	"github.com/skypro1111/avatar-agent/internal/worker"
)

const (
	serviceName    = "avatar-agent"
	serviceVersion = "1.0.0"
)

// Jobs is the part of the worker the HTTP API drives
type Jobs interface {
	Submit(ctx context.Context, room string) (worker.JobInfo, error)
	Job(id string) (worker.JobInfo, bool)
	Jobs() []worker.JobInfo
	Stats() worker.Stats
	Proc() *worker.JobProcess
}

// HTTPServer provides HTTP API endpoints for monitoring and job dispatch
type HTTPServer struct {
	server   *http.Server
	handler  http.Handler
	logger   *slog.Logger
	config   *config.Config
	jobs     Jobs
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. gatherer serves /metrics and
// must be the registry m was registered with.
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger, appConfig *config.Config,
	jobs Jobs, m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		jobs:      jobs,
		metrics:   m,
		gatherer:  gatherer,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)
	h.handler = mux

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the route multiplexer
func (h *HTTPServer) Handler() http.Handler { return h.handler }

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/jobs", h.withMetrics("/jobs", h.handleJobs))
	mux.HandleFunc("/jobs/", h.withMetrics("/jobs/{id}", h.handleJobDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics == nil {
			return
		}

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)
		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := h.jobs.Stats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": map[string]interface{}{
			"worker": map[string]interface{}{
				"status":      "running",
				"agent_name":  h.config.Worker.AgentName,
				"active_jobs": stats.ActiveJobs,
				"prewarmed":   stats.Prewarmed,
			},
		},
	}

	writeJSON(w, http.StatusOK, health)
}

type submitRequest struct {
	Room string `json:"room"`
}

// handleJobs implements GET and POST on /jobs
func (h *HTTPServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs := h.jobs.Jobs()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"total_jobs": len(jobs),
			"timestamp":  time.Now().UTC(),
			"jobs":       jobs,
		})

	case http.MethodPost:
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.Room = strings.TrimSpace(req.Room)
		if req.Room == "" {
			writeError(w, http.StatusBadRequest, "room is required")
			return
		}

		info, err := h.jobs.Submit(r.Context(), req.Room)
		if err != nil {
			writeError(w, submitStatus(err), err.Error())
			return
		}

		h.logger.Info("Job dispatched via HTTP",
			slog.String("job_id", info.ID),
			slog.String("room", info.Room),
		)
		writeJSON(w, http.StatusAccepted, info)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func submitStatus(err error) int {
	switch {
	case errors.Is(err, worker.ErrRoomBusy):
		return http.StatusConflict
	case errors.Is(err, worker.ErrAtCapacity),
		errors.Is(err, worker.ErrWorkerNotStarted),
		errors.Is(err, worker.ErrWorkerStopped),
		errors.Is(err, worker.ErrRoomUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleJobDetail implements the /jobs/{id} endpoint
func (h *HTTPServer) handleJobDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/jobs/")
	if id == "" {
		http.Error(w, "Job ID required", http.StatusBadRequest)
		return
	}

	info, ok := h.jobs.Job(id)
	if !ok {
		http.Error(w, "Job not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, info)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// credentials are omitted
	sanitizedConfig := map[string]interface{}{
		"worker": map[string]interface{}{
			"agent_name":          h.config.Worker.AgentName,
			"max_concurrent_jobs": h.config.Worker.MaxConcurrentJobs,
			"job_timeout":         h.config.Worker.JobTimeout,
			"job_retention":       h.config.Worker.JobRetention,
		},
		"livekit": map[string]interface{}{
			"url": h.config.LiveKit.URL,
		},
		"model": map[string]interface{}{
			"name":        h.config.Model.Name,
			"voice":       h.config.Model.Voice,
			"temperature": h.config.Model.Temperature,
		},
		"avatar": map[string]interface{}{
			"api_url":     h.config.Avatar.APIURL,
			"identity":    h.config.Avatar.Identity,
			"max_retries": h.config.Avatar.MaxRetries,
			"timeout":     h.config.Avatar.Timeout,
		},
		"vad": map[string]interface{}{
			"backend":              h.config.VAD.Backend,
			"model_path":           h.config.VAD.ModelPath,
			"threshold":            h.config.VAD.Threshold,
			"window_size":          h.config.VAD.WindowSize,
			"min_speech_duration":  h.config.VAD.MinSpeechDuration,
			"min_silence_duration": h.config.VAD.MinSilenceDuration,
		},
		"noise_cancellation": map[string]interface{}{
			"enabled":   h.config.NoiseCancellation.Enabled,
			"ratio":     h.config.NoiseCancellation.Ratio,
			"reduction": h.config.NoiseCancellation.Reduction,
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"worker":    h.jobs.Stats(),
	}

	// prewarmed detector shared by all jobs
	if proc := h.jobs.Proc(); proc != nil {
		if detector, ok := proc.Userdata[entrypoint.UserdataVAD].(vad.Detector); ok {
			stats["vad"] = detector.GetStats()
		}
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Avatar Voice Agent Worker",
		"version": serviceVersion,
		"endpoints": map[string]interface{}{
			"GET /":          "API documentation",
			"GET /health":    "Service health check",
			"GET /jobs":      "List jobs",
			"POST /jobs":     "Dispatch a job to a room: {\"room\": \"name\"}",
			"GET /jobs/{id}": "Get a single job",
			"GET /config":    "Get service configuration",
			"GET /stats":     "Get worker statistics",
			"GET /metrics":   "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}
