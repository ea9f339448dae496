// Package app wires the voxagent subsystems into a running server.
//
// The App struct owns the full lifecycle: New builds the session controller
// and the HTTP control surface from the config, Run serves until the context
// is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithBackend, WithProvider). When an option is not provided, New leaves the
// slot empty and the controller reports itself as not configured.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/internal/health"
	"github.com/MrWong99/voxagent/internal/httpapi"
	"github.com/MrWong99/voxagent/internal/observe"
	"github.com/MrWong99/voxagent/internal/session"
	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/provider/s2s"
)

// shutdownGrace bounds the HTTP server drain in Run.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	backend  audio.Backend
	provider s2s.Provider
	// unavailable explains why no provider could be built; empty when ready.
	unavailable string

	log     *slog.Logger
	level   *slog.LevelVar
	metrics *observe.Metrics

	ctrl    *session.Controller
	handler http.Handler

	// closers are called in order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithBackend sets the local audio backend.
func WithBackend(b audio.Backend) Option {
	return func(a *App) { a.backend = b }
}

// WithProvider sets the remote agent provider.
func WithProvider(p s2s.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithUnavailable marks the agent as not configured, with a user-facing reason.
func WithUnavailable(reason string) Option {
	return func(a *App) { a.unavailable = reason }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// WithLevel lets config reloads change the log level at runtime.
func WithLevel(v *slog.LevelVar) Option {
	return func(a *App) { a.level = v }
}

// WithMetrics sets the metrics instruments. The default is
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithCloser registers fn to run during Shutdown, after the controller has
// been closed.
func WithCloser(fn func() error) Option {
	return func(a *App) { a.closers = append(a.closers, fn) }
}

// New builds the session controller and the HTTP handler from cfg.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, log: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	if a.backend == nil {
		return nil, errors.New("app: no audio backend")
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.provider == nil && a.unavailable == "" {
		a.unavailable = "no agent provider configured."
	}

	ctrlOpts := []session.Option{
		session.WithLanguage(cfg.Session.Language),
		session.WithInstructions(cfg.Session.Instructions),
		session.WithVoice(cfg.Provider.Option("voice")),
		session.WithFrameSize(cfg.Audio.FrameSize),
		session.WithMetrics(a.metrics),
		session.WithLogger(a.log),
	}
	if len(cfg.Session.Languages) > 0 {
		langs := make([]session.Language, len(cfg.Session.Languages))
		for i, l := range cfg.Session.Languages {
			langs[i] = session.Language{Code: l.Code, Name: l.Name}
		}
		ctrlOpts = append(ctrlOpts, session.WithLanguages(langs))
	}
	if a.unavailable != "" {
		ctrlOpts = append(ctrlOpts, session.WithUnavailable(a.unavailable))
	}
	a.ctrl = session.New(a.backend, a.provider, ctrlOpts...)

	checks := health.New(
		health.Func("agent", func() error {
			if a.unavailable != "" {
				return errors.New(a.unavailable)
			}
			return nil
		}),
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	httpapi.New(a.ctrl, httpapi.WithLogger(a.log)).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())
	a.handler = observe.Middleware(a.metrics)(mux)

	return a, nil
}

// Controller returns the session controller.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Handler returns the HTTP handler serving the control surface.
func (a *App) Handler() http.Handler { return a.handler }

// ApplyConfig applies the hot-reloadable parts of a config change. It is
// meant as a [config.Watcher] callback.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged && a.level != nil {
		a.level.Set(LevelFor(d.NewLogLevel))
		a.log.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LanguageChanged {
		if err := a.ctrl.SetLanguage(d.NewLanguage); err != nil {
			a.log.Warn("config reload: language not applied", "language", d.NewLanguage, "err", err)
		}
	}
	if d.InstructionsChanged {
		a.ctrl.SetInstructions(d.NewInstructions)
		a.log.Info("config reload: instructions updated")
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("config reload: some changes need a restart", "settings", d.RestartRequired)
	}
}

// Run serves the control surface on ln (or on the configured listen address
// when ln is nil) and blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context, ln net.Listener) error {
	if ln == nil {
		var err error
		ln, err = net.Listen("tcp", a.cfg.Server.ListenAddr)
		if err != nil {
			return fmt.Errorf("app: listen %q: %w", a.cfg.Server.ListenAddr, err)
		}
	}
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", ln.Addr().String())
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = srv.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
		defer cancel()
		// Event streams never finish on their own.
		_ = a.ctrl.Close(shutdownCtx)
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Shutdown stops the session and runs the registered closers in order. It
// respects the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		if err := a.ctrl.Close(ctx); err != nil {
			a.log.Warn("session close error", "err", err)
		}
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}
		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// LevelFor maps a config log level to a slog level. Unknown levels map to
// info.
func LevelFor(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
