package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/avatar-agent/internal/agent"
	"github.com/skypro1111/avatar-agent/internal/config"
	"github.com/skypro1111/avatar-agent/internal/console"
	"github.com/skypro1111/avatar-agent/internal/entrypoint"
	"github.com/skypro1111/avatar-agent/internal/room"
	"github.com/skypro1111/avatar-agent/internal/server"
	"github.com/skypro1111/avatar-agent/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the worker in production mode",
		Long: `Run the worker with JSON logs and the HTTP API enabled.
Jobs are dispatched to rooms with POST /jobs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("start", func(cfg *config.Config) {
				cfg.Logging.Format = "json"
			})
			if err != nil {
				return err
			}
			return a.serve()
		},
	}
}

func newDevCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dev",
		Short: "Run the worker in development mode",
		Long:  `Run the worker with human readable debug logs and the HTTP API enabled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("dev", func(cfg *config.Config) {
				cfg.Logging.Format = "text"
				cfg.Logging.Level = "debug"
			})
			if err != nil {
				return err
			}
			return a.serve()
		},
	}
}

func newConsoleCmd() *cobra.Command {
	var recordPath string

	cmd := &cobra.Command{
		Use:   "console",
		Short: "Talk to the agent through the local microphone and speaker",
		Long: `Run a single job against the console mock room. The avatar and room
I/O are disabled; audio goes through the default PortAudio devices.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("console", nil)
			if err != nil {
				return err
			}

			dev, err := console.Open(console.Options{
				RecordPath: recordPath,
				Logger:     a.logger,
			})
			if err != nil {
				return err
			}
			defer dev.Close()

			ctx := agent.WithLocalIO(context.Background(), dev.LocalIO())
			return a.runSingle(ctx, room.MockRoomName)
		},
	}
	cmd.Flags().StringVar(&recordPath, "record", "", "Write the agent's speech to a WAV file")
	return cmd
}

func newConnectCmd() *cobra.Command {
	var roomName string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Join a single LiveKit room directly",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("connect", nil)
			if err != nil {
				return err
			}
			if err := a.cfg.LiveKit.ValidateCredentials(); err != nil {
				return fmt.Errorf("invalid livekit configuration: %w", err)
			}
			return a.runSingle(context.Background(), roomName)
		},
	}
	cmd.Flags().StringVar(&roomName, "room", "", "Room to join")
	cmd.MarkFlagRequired("room")
	return cmd
}

func newDownloadFilesCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "download-files",
		Short: "Download the Silero VAD model",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp("download-files", nil)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			n, err := downloadFile(ctx, nil, a.cfg.VAD.ModelURL, a.cfg.VAD.ModelPath, force)
			if err != nil {
				return err
			}
			if n == 0 {
				a.logger.Info("Model already present", slog.String("path", a.cfg.VAD.ModelPath))
				return nil
			}
			a.logger.Info("Model downloaded",
				slog.String("url", a.cfg.VAD.ModelURL),
				slog.String("path", a.cfg.VAD.ModelPath),
				slog.Int64("bytes", n))
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Download even if the file exists")
	return cmd
}

// roomFactory maps a job's room name to a Room. Console jobs get a mock room
// that never touches the network.
func (a *app) roomFactory(name string) (room.Room, error) {
	if entrypoint.IsConsole(name, os.Getenv(entrypoint.EnvAgentMode)) {
		return room.NewMock(name), nil
	}
	if err := a.cfg.LiveKit.ValidateCredentials(); err != nil {
		return nil, fmt.Errorf("invalid livekit configuration: %w", err)
	}
	return room.NewLiveKit(room.LiveKitOptions{
		URL:       a.cfg.LiveKit.URL,
		APIKey:    a.cfg.LiveKit.APIKey,
		APISecret: a.cfg.LiveKit.APISecret,
		RoomName:  name,
		Identity:  a.cfg.Worker.AgentName,
		Name:      a.cfg.Worker.AgentName,
		Logger:    a.logger,
	}), nil
}

func (a *app) startWorker() (*worker.Worker, error) {
	w, err := worker.New(a.runner.WorkerOptions(a.roomFactory))
	if err != nil {
		return nil, fmt.Errorf("failed to create worker: %w", err)
	}
	if err := w.Start(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	return w, nil
}

// serve runs the worker behind the HTTP API until a shutdown signal arrives
func (a *app) serve() error {
	logger := a.logger

	if err := a.cfg.LiveKit.ValidateCredentials(); err != nil {
		logger.Warn("LiveKit credentials missing, only console jobs can run",
			slog.String("error", err.Error()))
	}

	w, err := a.startWorker()
	if err != nil {
		logger.Error("Failed to start worker", slog.String("error", err.Error()))
		return err
	}

	var httpServer *server.HTTPServer
	if a.cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(a.cfg.HTTP, logger, a.cfg, w, a.metrics, a.registry)
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			w.Stop()
			return err
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("agent_name", a.cfg.Worker.AgentName),
		slog.Bool("http_enabled", a.cfg.HTTP.Enabled))

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	logger.Info("Starting graceful shutdown...")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	w.Stop()

	stats := w.Stats()
	logger.Info("Service stopped",
		slog.Uint64("total_jobs", stats.TotalJobs),
		slog.Uint64("succeeded_jobs", stats.SucceededJobs),
		slog.Uint64("failed_jobs", stats.FailedJobs))
	return nil
}

// runSingle runs one job in roomName and returns when it ends or a signal arrives
func (a *app) runSingle(ctx context.Context, roomName string) error {
	logger := a.logger

	w, err := a.startWorker()
	if err != nil {
		return err
	}
	defer w.Stop()

	info, err := w.Submit(ctx, roomName)
	if err != nil {
		return fmt.Errorf("failed to start job: %w", err)
	}

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	final, err := w.Wait(sigCtx, info.ID)
	if err != nil {
		logger.Info("Interrupted, stopping job", slog.String("job_id", info.ID))
		return nil
	}

	if final.State == worker.JobFailed {
		return fmt.Errorf("job %s failed: %s", final.ID, final.Error)
	}
	logger.Info("Job finished", slog.String("job_id", final.ID), slog.String("state", string(final.State)))
	return nil
}
