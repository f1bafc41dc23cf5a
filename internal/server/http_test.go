package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/skypro1111/avatar-agent/internal/config"
	"github.com/skypro1111/avatar-agent/internal/entrypoint"
	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/room"
	"github.com/skypro1111/avatar-agent/internal/vad"
	"github.com/skypro1111/avatar-agent/internal/worker"
)

func newTestServer(t *testing.T) (*httptest.Server, *worker.Worker, *metrics.Metrics) {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	w, err := worker.New(worker.Options{
		Entrypoint: func(job *worker.JobContext) error {
			return job.Connect(job.Context())
		},
		Prewarm: func(proc *worker.JobProcess) error {
			detector, err := vad.Load(vad.Config{Threshold: 0.5, WindowSize: 512, SampleRate: 16000})
			if err != nil {
				return err
			}
			proc.Userdata[entrypoint.UserdataVAD] = detector
			return nil
		},
		RoomFactory: func(name string) (room.Room, error) {
			return room.NewMock(name), nil
		},
		MaxConcurrentJobs: 1,
		Logger:            logger,
		Metrics:           m,
	})
	if err != nil {
		t.Fatalf("worker.New failed: %v", err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("worker Start failed: %v", err)
	}
	t.Cleanup(w.Stop)

	cfg := config.Default()
	h := NewHTTPServer(cfg.HTTP, logger, cfg, w, m, reg)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return srv, w, m
}

func postJob(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url+"/jobs", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST /jobs failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy status, got %v", body["status"])
	}
}

func TestSubmitAndListJobs(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp := postJob(t, srv.URL, `{"room": "studio-42"}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}
	var info worker.JobInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatalf("Failed to decode job: %v", err)
	}
	if info.ID == "" || info.Room != "studio-42" {
		t.Errorf("Unexpected job info: %+v", info)
	}

	list, err := http.Get(srv.URL + "/jobs")
	if err != nil {
		t.Fatalf("GET /jobs failed: %v", err)
	}
	defer list.Body.Close()

	var body struct {
		TotalJobs int              `json:"total_jobs"`
		Jobs      []worker.JobInfo `json:"jobs"`
	}
	if err := json.NewDecoder(list.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode list: %v", err)
	}
	if body.TotalJobs != 1 || len(body.Jobs) != 1 || body.Jobs[0].ID != info.ID {
		t.Errorf("Expected the submitted job in the list, got %+v", body)
	}

	detail, err := http.Get(srv.URL + "/jobs/" + info.ID)
	if err != nil {
		t.Fatalf("GET /jobs/{id} failed: %v", err)
	}
	defer detail.Body.Close()
	if detail.StatusCode != http.StatusOK {
		t.Errorf("Expected 200 for job detail, got %d", detail.StatusCode)
	}
}

func TestSubmitErrors(t *testing.T) {
	srv, _, _ := newTestServer(t)

	if resp := postJob(t, srv.URL, `{"room": "a"}`); resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"invalid json", `{`, http.StatusBadRequest},
		{"missing room", `{}`, http.StatusBadRequest},
		{"blank room", `{"room": "  "}`, http.StatusBadRequest},
		{"duplicate room", `{"room": "a"}`, http.StatusConflict},
		{"at capacity", `{"room": "b"}`, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJob(t, srv.URL, tt.body)
			if resp.StatusCode != tt.status {
				body, _ := io.ReadAll(resp.Body)
				t.Errorf("Expected %d, got %d: %s", tt.status, resp.StatusCode, body)
			}
		})
	}
}

func TestJobDetailNotFound(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/jobs/job_missing")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/health", "/stats", "/config"} {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader("{}"))
		if err != nil {
			t.Fatalf("POST %s failed: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusMethodNotAllowed {
			t.Errorf("POST %s: expected 405, got %d", path, resp.StatusCode)
		}
	}
}

func TestConfigOmitsCredentials(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/config")
	if err != nil {
		t.Fatalf("GET /config failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	for _, secret := range []string{"api_key", "api_secret"} {
		if strings.Contains(string(body), secret) {
			t.Errorf("Config response leaks %s: %s", secret, body)
		}
	}
}

func TestMetricsEndpointAndRecording(t *testing.T) {
	srv, _, m := newTestServer(t)

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats failed: %v", err)
	}
	resp.Body.Close()

	if got := testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/stats", "200")); got != 1 {
		t.Errorf("Expected 1 recorded /stats request, got %v", got)
	}

	metricsResp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics failed: %v", err)
	}
	defer metricsResp.Body.Close()

	body, _ := io.ReadAll(metricsResp.Body)
	if !strings.Contains(string(body), "agent_http_requests_total") {
		t.Errorf("Expected agent metrics in /metrics output")
	}
}

func TestUnknownPath(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/nope")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestStatsIncludesDetector(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/stats")
	if err != nil {
		t.Fatalf("GET /stats failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Worker worker.Stats       `json:"worker"`
		VAD    vad.ProcessorStats `json:"vad"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode stats: %v", err)
	}
	if !body.Worker.Prewarmed {
		t.Error("Expected prewarmed worker")
	}
	if body.VAD.Backend != vad.BackendEnergy || !body.VAD.IsInitialized {
		t.Errorf("Expected prewarmed energy detector in stats, got %+v", body.VAD)
	}
}

func TestSubmitStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"busy", worker.ErrRoomBusy, http.StatusConflict},
		{"capacity", worker.ErrAtCapacity, http.StatusServiceUnavailable},
		{"not started", worker.ErrWorkerNotStarted, http.StatusServiceUnavailable},
		{"stopped", worker.ErrWorkerStopped, http.StatusServiceUnavailable},
		{"room unavailable", fmt.Errorf("failed to create room x: %w: %w", worker.ErrRoomUnavailable, errors.New("no credentials")), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := submitStatus(tt.err); got != tt.status {
				t.Errorf("Expected %d, got %d", tt.status, got)
			}
		})
	}
}
