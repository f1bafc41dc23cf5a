package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/skypro1111/avatar-agent/internal/config"
	"github.com/skypro1111/avatar-agent/internal/entrypoint"
	"github.com/skypro1111/avatar-agent/internal/metrics"
)

const (
	defaultConfigPath = "configs/config.yaml"
	envFile           = ".env.local"
	serviceName       = "avatar-agent"
	serviceVersion    = "1.0.0"
)

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Voice agent worker with a Gemini realtime model and a Simli avatar",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// .env.local never overrides variables already set in the process
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				fmt.Fprintf(os.Stderr, "Failed to load %s: %v\n", envFile, err)
			}
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "Path to configuration file")

	root.AddCommand(
		newStartCmd(),
		newDevCmd(),
		newConsoleCmd(),
		newConnectCmd(),
		newDownloadFilesCmd(),
	)
	return root
}

// app bundles what every command builds from configuration
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	runner   *entrypoint.Runner
}

// newApp loads configuration, applies per-command overrides and builds the
// logger, metrics and entrypoint runner
func newApp(cmdName string, override func(*config.Config)) (*app, error) {
	path := configPath
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if override != nil {
		override(cfg)
	}

	logger := initLogger(cfg.Logging)
	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("command", cmdName),
		slog.String("config_path", path),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.String("agent_name", cfg.Worker.AgentName),
		slog.Int("max_concurrent_jobs", cfg.Worker.MaxConcurrentJobs),
		slog.String("livekit_url", cfg.LiveKit.URL),
		slog.String("model", cfg.Model.Name),
		slog.String("voice", cfg.Model.Voice),
		slog.String("avatar_api_url", cfg.Avatar.APIURL),
		slog.String("vad_backend", cfg.VAD.Backend),
		slog.Bool("noise_cancellation", cfg.NoiseCancellation.Enabled),
		slog.String("log_level", cfg.Logging.Level),
	)
	if cfg.Model.APIKey == "" {
		logger.Warn("No Gemini API key configured", slog.String("env", config.EnvGoogleAPIKey))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	return &app{
		cfg:      cfg,
		logger:   logger,
		registry: reg,
		metrics:  m,
		runner:   entrypoint.NewRunner(cfg, logger, m),
	}, nil
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
