package entrypoint

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/skypro1111/avatar-agent/internal/agent"
	"github.com/skypro1111/avatar-agent/internal/audio"
	"github.com/skypro1111/avatar-agent/internal/avatar"
	"github.com/skypro1111/avatar-agent/internal/config"
	"github.com/skypro1111/avatar-agent/internal/metrics"
	"github.com/skypro1111/avatar-agent/internal/noise"
	"github.com/skypro1111/avatar-agent/internal/realtime"
	"github.com/skypro1111/avatar-agent/internal/room"
	"github.com/skypro1111/avatar-agent/internal/vad"
	"github.com/skypro1111/avatar-agent/internal/worker"
)

// Environment variables read by the entrypoint
const (
	EnvAgentMode     = "LK_AGENT_MODE"
	EnvSimliAPIKey   = "simli_API_KEY"
	EnvSimliAvatarID = "simli_AVATAR_ID"
)

// ConsoleMode is the LK_AGENT_MODE value that forces console mode
const ConsoleMode = "console"

// UserdataVAD is the process userdata key the prewarmed detector is stored under
const UserdataVAD = "vad"

const (
	ModelInstructions = "You are a helpful, friendly AI assistant. Always speak, listen, and respond only in English. " +
		"Do not switch to any other language, even if the user speaks another one."
	AgentInstructions = "You are a helpful AI assistant. Always speak and respond in English only. " +
		"Keep responses concise, natural, and friendly."
)

// IsConsole reports whether a job runs without room transport: the room is
// the mock sentinel or the mode variable asks for console
func IsConsole(roomName, mode string) bool {
	return roomName == room.MockRoomName || mode == ConsoleMode
}

// AvatarStarter attaches an avatar to a session and room
type AvatarStarter interface {
	Start(ctx context.Context, session avatar.AudioOutputSetter, r room.Room) error
}

// Runner holds what the entrypoint needs across jobs. The factory fields
// default to the production implementations.
type Runner struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	NewModel          func(opts realtime.GeminiOptions) realtime.Model
	NewAvatar         func(cfg avatar.Config) AvatarStarter
	NoiseCancellation func(cfg config.NoiseCancellationConfig) audio.Filter
	LoadVAD           func(cfg vad.Config) (vad.Detector, error)
	Getenv            func(key string) string
}

// NewRunner creates a runner with production factories
func NewRunner(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Config:  cfg,
		Logger:  logger,
		Metrics: m,
		NewModel: func(opts realtime.GeminiOptions) realtime.Model {
			return realtime.NewGemini(opts)
		},
		NewAvatar: func(cfg avatar.Config) AvatarStarter {
			return avatar.NewSession(cfg)
		},
		NoiseCancellation: func(cfg config.NoiseCancellationConfig) audio.Filter {
			return noise.NewGate(noise.Options{
				Ratio:     cfg.Ratio,
				Reduction: cfg.Reduction,
				FloorRise: cfg.FloorRise,
			})
		},
		LoadVAD: func(cfg vad.Config) (vad.Detector, error) {
			p, err := vad.Load(cfg)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		Getenv: os.Getenv,
	}
}

// WorkerOptions returns worker options bound to this runner
func (r *Runner) WorkerOptions(factory worker.RoomFactory) worker.Options {
	return worker.Options{
		Entrypoint:        r.Entrypoint,
		Prewarm:           r.Prewarm,
		RoomFactory:       factory,
		MaxConcurrentJobs: r.Config.Worker.MaxConcurrentJobs,
		JobTimeout:        r.Config.Worker.GetJobTimeoutDuration(),
		JobRetention:      r.Config.Worker.GetJobRetentionDuration(),
		Logger:            r.Logger,
		Metrics:           r.Metrics,
	}
}

// Prewarm loads the voice activity detector into process userdata
func (r *Runner) Prewarm(proc *worker.JobProcess) error {
	cfg := r.Config.VAD
	detector, err := r.LoadVAD(vad.Config{
		Backend:    cfg.Backend,
		ModelPath:  cfg.ModelPath,
		Threshold:  cfg.Threshold,
		WindowSize: cfg.WindowSize,
		SampleRate: cfg.SampleRate,
		Smoothing:  cfg.Smoothing,
	})
	if err != nil {
		return fmt.Errorf("failed to load VAD: %w", err)
	}
	proc.Userdata[UserdataVAD] = detector

	r.Logger.Info("VAD loaded",
		slog.String("backend", cfg.Backend),
		slog.Float64("threshold", float64(cfg.Threshold)))
	return nil
}

// Entrypoint configures and starts the agent session for one job
func (r *Runner) Entrypoint(job *worker.JobContext) error {
	ctx := job.Context()
	jobRoom := job.Room()

	if jobRoom.Name() != "" {
		job.SetLogFields(slog.String("room", jobRoom.Name()))
	}
	logger := job.Logger()

	usage := metrics.NewUsageCollector(r.Metrics)

	session := agent.NewSession(agent.SessionOptions{
		LLM: r.NewModel(realtime.GeminiOptions{
			Model:        r.Config.Model.Name,
			Voice:        r.Config.Model.Voice,
			Temperature:  r.Config.Model.Temperature,
			Instructions: ModelInstructions,
			APIKey:       r.Config.Model.APIKey,
			Endpoint:     r.Config.Model.Endpoint,
			Logger:       logger,
		}),
		MinSpeechDuration:  r.Config.VAD.GetMinSpeechDuration(),
		MinSilenceDuration: r.Config.VAD.GetMinSilenceDuration(),
		Logger:             logger,
	})
	session.On(agent.EventMetricsCollected, MetricsForwarder(logger, usage))

	job.AddShutdownCallback(func() {
		session.Close()
		metrics.LogUsage(logger, usage.Summary())
	})

	if err := r.startSession(ctx, session, jobRoom, logger); err != nil {
		return err
	}

	return job.Connect(ctx)
}

func (r *Runner) startSession(ctx context.Context, session *agent.Session, jobRoom room.Room, logger *slog.Logger) error {
	assistant := agent.NewAgent(AgentInstructions)

	if IsConsole(jobRoom.Name(), r.Getenv(EnvAgentMode)) {
		logger.Info("Running in CONSOLE mode: disabling avatar & room I/O")
		if err := session.Start(ctx, agent.StartOptions{Agent: assistant}); err != nil {
			return fmt.Errorf("failed to start session: %w", err)
		}
		return nil
	}

	logger.Info("Running in ROOM mode: enabling avatar & room I/O")

	av := r.NewAvatar(avatar.Config{
		APIKey:     r.Getenv(EnvSimliAPIKey),
		FaceID:     r.Getenv(EnvSimliAvatarID),
		APIURL:     r.Config.Avatar.APIURL,
		Identity:   r.Config.Avatar.Identity,
		MaxRetries: r.Config.Avatar.MaxRetries,
		Timeout:    r.Config.Avatar.GetTimeoutDuration(),
		Logger:     logger,
		Metrics:    r.Metrics,
	})
	if err := av.Start(ctx, session, jobRoom); err != nil {
		return fmt.Errorf("failed to start avatar: %w", err)
	}

	var nc audio.Filter
	if r.Config.NoiseCancellation.Enabled {
		nc = r.NoiseCancellation(r.Config.NoiseCancellation)
	}
	err := session.Start(ctx, agent.StartOptions{
		Agent: assistant,
		Room:  jobRoom,
		RoomInput: agent.RoomInputOptions{
			NoiseCancellation: nc,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	return nil
}

// MetricsForwarder logs each metrics_collected payload and adds it to usage
func MetricsForwarder(logger *slog.Logger, usage *metrics.UsageCollector) agent.Handler {
	return func(ev agent.Event) {
		if ev.Metrics == nil {
			return
		}
		metrics.LogMetrics(logger, ev.Metrics)
		usage.Collect(ev.Metrics)
	}
}
