// Command voxagent runs a realtime voice session against a remote speech
// agent, using the local microphone and speakers, and serves an HTTP control
// surface for starting and stopping it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/voxagent/internal/app"
	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/pkg/audio/malgo"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
	"github.com/MrWong99/voxagent/pkg/provider/s2s/gemini"
	"github.com/MrWong99/voxagent/pkg/provider/s2s/openai"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (defaults are used when empty)")
	envFile := flag.String("env", ".env", "dotenv file to load before reading the config")
	watch := flag.Bool("watch", true, "reload language and instructions when the config file changes")
	flag.Parse()

	if err := config.LoadEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "voxagent: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxagent: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxagent: %v\n", err)
		}
		return 1
	}
	config.ApplyEnv(cfg)

	// ── Logger ────────────────────────────────────────────────────────────────
	var level slog.LevelVar
	level.Set(app.LevelFor(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("voxagent starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"provider", cfg.Provider.Name,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
		AgentProvider:  cfg.Provider.Name,
		Language:       cfg.Session.Language,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}

	// ── Audio devices ─────────────────────────────────────────────────────────
	backend, err := malgo.New(malgo.WithLogger(logger))
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}

	// ── Remote agent ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{
		app.WithBackend(backend),
		app.WithLogger(logger),
		app.WithLevel(&level),
		app.WithCloser(backend.Close),
		app.WithCloser(func() error { return otelShutdown(context.Background()) }),
	}
	provider, err := reg.CreateS2S(cfg.Provider)
	switch {
	case errors.Is(err, config.ErrMissingAPIKey):
		// Keep serving so clients can see why sessions are unavailable.
		slog.Warn("no API key configured", "env", config.APIKeyEnv)
		opts = append(opts, app.WithUnavailable("API_KEY environment variable not set."))
	case err != nil:
		slog.Error("failed to create provider", "name", cfg.Provider.Name, "err", err)
		return 1
	default:
		slog.Info("provider created", "name", provider.Name(), "model", cfg.Provider.Model)
		opts = append(opts, app.WithProvider(provider))
	}

	application, err := app.New(cfg, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *watch && *configPath != "" {
		w, err := config.NewWatcher(*configPath, application.ApplyConfig, config.WithWatcherLogger(logger))
		if err != nil {
			slog.Error("failed to watch config", "err", err)
			return 1
		}
		defer w.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx, nil); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// loadConfig reads path, or returns the defaults when path is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := &config.Config{}
		config.ApplyDefaults(cfg)
		return cfg, config.Validate(cfg)
	}
	return config.Load(path)
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the remote agent factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterS2S("gemini", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			return nil, config.ErrMissingAPIKey
		}
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		if ka := entry.Option("keepalive"); ka != "" {
			d, err := time.ParseDuration(ka)
			if err != nil {
				return nil, fmt.Errorf("provider.options.keepalive: %w", err)
			}
			opts = append(opts, gemini.WithKeepalive(d))
		}
		return gemini.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai", func(entry config.ProviderEntry) (s2s.Provider, error) {
		if entry.APIKey == "" {
			return nil, config.ErrMissingAPIKey
		}
		var opts []openai.Option
		if entry.Model != "" {
			opts = append(opts, openai.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(entry.BaseURL))
		}
		if tm := entry.Option("transcription_model"); tm != "" {
			opts = append(opts, openai.WithTranscriptionModel(tm))
		}
		return openai.New(entry.APIKey, opts...), nil
	})

	for _, name := range reg.Names() {
		slog.Debug("registered provider", "name", name)
	}
}
