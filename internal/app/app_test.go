package app_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/auricle/internal/app"
	"github.com/MrWong99/auricle/internal/config"
	histmock "github.com/MrWong99/auricle/internal/history/mock"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/pkg/audio/mock"
	"github.com/MrWong99/auricle/pkg/clock"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	llmmock "github.com/MrWong99/auricle/pkg/provider/llm/mock"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	sttmock "github.com/MrWong99/auricle/pkg/provider/stt/mock"
)

// freeAddr reserves a listen address for the test server.
func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := l.Addr().String()
	l.Close()
	return addr
}

// mockRegistry registers a "mock" provider for both stages.
func mockRegistry() *config.Registry {
	r := config.NewRegistry()
	r.RegisterSTT("mock", func(config.ProviderEntry) (stt.Provider, error) {
		return &sttmock.Provider{Text: "hello"}, nil
	})
	r.RegisterChat("mock", func(config.ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	return r
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: freeAddr(t)},
		Providers: config.ProvidersConfig{
			STT:  config.ProviderEntry{Name: "mock"},
			Chat: config.ProviderEntry{Name: "mock", Model: "mock-model"},
		},
		History: config.HistoryConfig{
			Backend:    config.HistorySQLite,
			SQLitePath: filepath.Join(t.TempDir(), "history.db"),
		},
		Diagnostics: config.DiagnosticsConfig{SpoolDir: t.TempDir()},
		Session:     config.SessionConfig{SystemPrompt: "Answer briefly."},
	}
}

func newApp(t *testing.T, cfg *config.Config, opts ...app.Option) *app.App {
	t.Helper()
	platform := &mock.Platform{Session: mock.NewSession("audio/webm;codecs=opus")}
	opts = append([]app.Option{
		app.WithClock(clock.NewFake()),
		app.WithRegistry(mockRegistry()),
	}, opts...)

	a, err := app.New(context.Background(), cfg, platform, opts...)
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Shutdown(ctx)
	})
	return a
}

func TestNewAppliesSessionConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Session.AutoAnswer = true
	a := newApp(t, cfg)

	if got := a.Settings().SystemPrompt(); got != "Answer briefly." {
		t.Errorf("system prompt = %q", got)
	}
	if got := a.Settings().Model(); got != "mock-model" {
		t.Errorf("model = %q", got)
	}
	if got := a.Controller().Mode(); got != session.ModeAutoAnswer {
		t.Errorf("mode = %q, want auto_answer", got)
	}
}

func TestNewInstallsConfiguredCredential(t *testing.T) {
	cfg := testConfig(t)
	cfg.Providers.Chat.APIKey = "sk-from-config"
	a := newApp(t, cfg)

	if !a.Settings().HasCredential() {
		t.Fatal("credential from config was not installed")
	}
}

func TestRunServesGateway(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	waitForServer(t, cfg.Server.ListenAddr)

	resp, err := http.Get(fmt.Sprintf("http://%s/healthz", cfg.Server.ListenAddr))
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	resp, err = http.Get(fmt.Sprintf("http://%s/api/v1/history", cfg.Server.ListenAddr))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	var body []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	resp.Body.Close()
	if len(body) != 0 {
		t.Fatalf("fresh history = %d entries", len(body))
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestHistoryBackendNone(t *testing.T) {
	cfg := testConfig(t)
	cfg.History = config.HistoryConfig{Backend: config.HistoryNone}
	// Construction must succeed without any database.
	newApp(t, cfg)
}

func TestInjectedHistoryStoreWins(t *testing.T) {
	cfg := testConfig(t)
	hist := &histmock.Store{}
	a := newApp(t, cfg, app.WithHistoryStore(hist))
	_ = a // the sqlite path must not be touched

	if hist.CloseCalls != 0 {
		t.Fatal("injected store closed during construction")
	}
}

func TestApplyConfigHotReload(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg)

	updated := *cfg
	updated.Session.SystemPrompt = "Be verbose."
	updated.Providers.Chat.Model = "mock-model-2"

	a.ApplyConfig(config.Diff(cfg, &updated))

	if got := a.Settings().SystemPrompt(); got != "Be verbose." {
		t.Errorf("system prompt after reload = %q", got)
	}
	if got := a.Settings().Model(); got != "mock-model-2" {
		t.Errorf("model after reload = %q", got)
	}
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server at %s never came up", addr)
}
