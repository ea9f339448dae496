package app_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/MrWong99/voxagent/internal/app"
	"github.com/MrWong99/voxagent/internal/config"
	"github.com/MrWong99/voxagent/internal/session"
	audiomock "github.com/MrWong99/voxagent/pkg/audio/mock"
	s2smock "github.com/MrWong99/voxagent/pkg/provider/s2s/mock"
)

var discard = slog.New(slog.DiscardHandler)

// testConfig returns a defaulted config selecting Spanish.
func testConfig() *config.Config {
	cfg := &config.Config{
		Server:  config.ServerConfig{ListenAddr: "127.0.0.1:0"},
		Session: config.SessionConfig{Language: "es-ES"},
	}
	config.ApplyDefaults(cfg)
	return cfg
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	all := append([]app.Option{app.WithBackend(&audiomock.Backend{}), app.WithLogger(discard)}, opts...)
	a, err := app.New(cfg, all...)
	if err != nil {
		t.Fatalf("New() returned error: %v", err)
	}
	t.Cleanup(func() { _ = a.Shutdown(context.Background()) })
	return a
}

func TestNew_RequiresBackend(t *testing.T) {
	t.Parallel()

	if _, err := app.New(testConfig(), app.WithLogger(discard)); err == nil {
		t.Fatal("expected error without an audio backend")
	}
}

func TestNew_AppliesSessionConfig(t *testing.T) {
	t.Parallel()

	p := &s2smock.Provider{}
	cfg := testConfig()
	cfg.Provider.Options = map[string]any{"voice": "Kore"}
	cfg.Session.Instructions = "Reply in {language}."
	a := newApp(t, cfg, app.WithProvider(p))

	ctrl := a.Controller()
	if ctrl.Language().Code != "es-ES" {
		t.Errorf("language = %q, want es-ES", ctrl.Language().Code)
	}
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(p.Sessions()) == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	if len(p.Sessions()) == 0 {
		t.Fatal("provider never connected")
	}
	got := p.ConnectCalls[0].Cfg
	if got.Instructions != "Reply in Spanish." || got.Voice != "Kore" {
		t.Errorf("connect config = %+v", got)
	}
}

func TestNew_CustomLanguages(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.Session.Language = "nl-NL"
	cfg.Session.Languages = []config.LanguageEntry{{Code: "nl-NL", Name: "Dutch"}}
	a := newApp(t, cfg, app.WithProvider(&s2smock.Provider{}))

	langs := a.Controller().Languages()
	if len(langs) != 1 || langs[0].Name != "Dutch" {
		t.Errorf("Languages() = %+v", langs)
	}
}

func TestHandler_Routes(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithProvider(&s2smock.Provider{}))
	srv := httptest.NewServer(a.Handler())
	defer srv.Close()

	tests := []struct {
		method, path string
		want         int
	}{
		{http.MethodGet, "/healthz", http.StatusOK},
		{http.MethodGet, "/readyz", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/session", http.StatusOK},
		{http.MethodGet, "/api/languages", http.StatusOK},
		{http.MethodGet, "/nope", http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req, _ := http.NewRequest(tc.method, srv.URL+tc.path, nil)
			resp, err := srv.Client().Do(req)
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Errorf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
			}
		})
	}
}

func TestHandler_NotReadyWithoutProvider(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithUnavailable("API_KEY environment variable not set."))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rec.Code)
	}

	rec = httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/session", nil))
	var st session.State
	if err := json.NewDecoder(rec.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != session.StatusError || st.Error != "API_KEY environment variable not set." {
		t.Errorf("state = %+v", st)
	}
}

func TestApplyConfig(t *testing.T) {
	t.Parallel()

	var level slog.LevelVar
	p := &s2smock.Provider{}
	old := testConfig()
	a := newApp(t, old, app.WithProvider(p), app.WithLevel(&level))

	updated := testConfig()
	updated.Server.LogLevel = config.LogDebug
	updated.Session.Language = "it-IT"
	updated.Session.Instructions = "Parla {language}."
	a.ApplyConfig(old, updated)

	if level.Level() != slog.LevelDebug {
		t.Errorf("level = %v, want debug", level.Level())
	}
	if got := a.Controller().Language().Code; got != "it-IT" {
		t.Errorf("language = %q, want it-IT", got)
	}
	if got := a.Controller().Instructions(); got != "Parla {language}." {
		t.Errorf("instructions = %q", got)
	}

	// An unknown language keeps the current one.
	bad := testConfig()
	bad.Session.Language = "xx-XX"
	a.ApplyConfig(updated, bad)
	if got := a.Controller().Language().Code; got != "it-IT" {
		t.Errorf("language after bad reload = %q, want it-IT", got)
	}
}

func TestRun_ServesUntilCancelled(t *testing.T) {
	t.Parallel()

	a := newApp(t, testConfig(), app.WithProvider(&s2smock.Provider{}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestShutdown_RunsClosersOnce(t *testing.T) {
	t.Parallel()

	calls := 0
	a := newApp(t, testConfig(), app.WithCloser(func() error { calls++; return nil }))
	for range 2 {
		if err := a.Shutdown(context.Background()); err != nil {
			t.Fatalf("Shutdown: %v", err)
		}
	}
	if calls != 1 {
		t.Errorf("closer calls = %d, want 1", calls)
	}
}

func TestShutdown_RespectsDeadline(t *testing.T) {
	t.Parallel()

	calls := 0
	a := newApp(t, testConfig(), app.WithCloser(func() error { calls++; return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Shutdown(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Shutdown = %v, want context.Canceled", err)
	}
	if calls != 0 {
		t.Errorf("closer ran after deadline")
	}
}

func TestLevelFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tc := range tests {
		if got := app.LevelFor(tc.in); got != tc.want {
			t.Errorf("LevelFor(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
