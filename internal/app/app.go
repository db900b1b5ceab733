// Package app wires all Auricle subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the gateway until the context is cancelled, and
// Shutdown tears everything down in order.
//
// For testing, inject mock implementations via functional options
// (WithHistoryStore, WithClock, etc.). When an option is not provided, New
// creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/auricle/internal/config"
	"github.com/MrWong99/auricle/internal/contextstore"
	"github.com/MrWong99/auricle/internal/gateway"
	"github.com/MrWong99/auricle/internal/health"
	"github.com/MrWong99/auricle/internal/history"
	"github.com/MrWong99/auricle/internal/history/postgres"
	"github.com/MrWong99/auricle/internal/history/sqlite"
	"github.com/MrWong99/auricle/internal/observe"
	"github.com/MrWong99/auricle/internal/pipeline"
	"github.com/MrWong99/auricle/internal/session"
	"github.com/MrWong99/auricle/internal/transcript"
	"github.com/MrWong99/auricle/pkg/audio"
	"github.com/MrWong99/auricle/pkg/clock"
	"github.com/MrWong99/auricle/pkg/provider/llm"
	"github.com/MrWong99/auricle/pkg/provider/stt"
	"github.com/MrWong99/auricle/pkg/vad"
)

// defaultSQLitePath is used when history.backend is sqlite and no path is set.
const defaultSQLitePath = "auricle.db"

// App owns all subsystem lifetimes and serves the Auricle gateway.
type App struct {
	cfg      *config.Config
	platform audio.Platform
	clk      clock.Clock
	registry *config.Registry
	metrics  *observe.Metrics
	log      *slog.Logger

	// Subsystems, initialised in New and torn down in Shutdown.
	store    *contextstore.Store
	pipe     *pipeline.Pipeline
	settings *session.Settings
	ctrl     *session.Controller
	hist     history.Store
	gw       *gateway.Server
	server   *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithHistoryStore injects a history store instead of creating one from
// config.
func WithHistoryStore(h history.Store) Option {
	return func(a *App) { a.hist = h }
}

// WithClock injects a clock. Default: the system clock.
func WithClock(c clock.Clock) Option {
	return func(a *App) { a.clk = c }
}

// WithRegistry injects a provider registry. Default: config.DefaultRegistry.
func WithRegistry(r *config.Registry) Option {
	return func(a *App) { a.registry = r }
}

// WithMetrics sets the metrics instance. Default: observe.DefaultMetrics().
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(a *App) { a.log = log }
}

// New creates an App by wiring all subsystems together. The audio platform
// comes from the host shell (or audio/mock in tests); everything else is
// built from cfg unless injected via an Option.
func New(ctx context.Context, cfg *config.Config, platform audio.Platform, opts ...Option) (*App, error) {
	a := &App{
		cfg:      cfg,
		platform: platform,
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}
	if a.clk == nil {
		a.clk = clock.System()
	}
	if a.registry == nil {
		a.registry = config.DefaultRegistry()
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initContext(ctx); err != nil {
		return nil, fmt.Errorf("app: init context store: %w", err)
	}
	if err := a.initHistory(ctx); err != nil {
		return nil, fmt.Errorf("app: init history: %w", err)
	}
	a.initPipeline()
	if err := a.initSession(); err != nil {
		return nil, fmt.Errorf("app: init session: %w", err)
	}
	a.initGateway()

	return a, nil
}

// initContext creates the context store and loads configured context files.
// Files are independent, so they load concurrently; the first failure aborts
// startup.
func (a *App) initContext(ctx context.Context) error {
	a.store = contextstore.New(&contextstore.PlainTextParser{})

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, path := range a.cfg.Session.ContextFiles {
		g.Go(func() error {
			name, err := a.store.AddFile(gctx, path)
			if err != nil {
				return fmt.Errorf("load context file %q: %w", path, err)
			}
			a.log.Info("loaded context file", "name", name)
			return nil
		})
	}
	return g.Wait()
}

// initHistory builds the exchange store selected by config.
func (a *App) initHistory(ctx context.Context) error {
	if a.hist != nil {
		return nil // injected
	}

	switch a.cfg.History.Backend {
	case config.HistoryNone:
		return nil

	case config.HistoryPostgres:
		pool, err := pgxpool.New(ctx, a.cfg.History.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		store := postgres.New(pool)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return err
		}
		a.hist = store

	default: // sqlite
		path := a.cfg.History.SQLitePath
		if path == "" {
			path = defaultSQLitePath
		}
		store, err := sqlite.Open(path)
		if err != nil {
			return err
		}
		a.hist = store
	}

	a.closers = append(a.closers, a.hist.Close)
	return nil
}

// initPipeline assembles the transcription-and-reply pipeline.
func (a *App) initPipeline() {
	opts := []pipeline.Option{
		pipeline.WithCorrector(transcript.NewCorrector()),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(a.log),
	}
	if a.cfg.Diagnostics.SpoolDir != "" {
		opts = append(opts, pipeline.WithSpoolDir(a.cfg.Diagnostics.SpoolDir))
	}
	a.pipe = pipeline.New(a.store, opts...)
	a.closers = append(a.closers, a.pipe.Close)
}

// initSession builds the settings and controller, installing providers at
// startup when the config carries a resolvable credential.
func (a *App) initSession() error {
	a.settings = session.NewSettings(a.providerFactory(), a.pipe, a.log)
	a.settings.SetSystemPrompt(a.cfg.Session.SystemPrompt)
	if m := a.cfg.Providers.Chat.Model; m != "" {
		if err := a.settings.SetModel(m); err != nil {
			return err
		}
	}
	if key := a.cfg.Providers.Chat.ResolveAPIKey(); key != "" {
		if err := a.settings.SetCredential(key); err != nil {
			return fmt.Errorf("install configured credential: %w", err)
		}
	}

	ctrlOpts := []session.Option{
		session.WithMetrics(a.metrics),
		session.WithLogger(a.log),
	}
	if a.hist != nil {
		ctrlOpts = append(ctrlOpts, session.WithHistory(a.hist))
	}
	if v := a.cfg.VAD; v != (config.VADConfig{}) {
		ctrlOpts = append(ctrlOpts, session.WithVADConfig(vadConfig(v)))
	}
	if a.cfg.Recording.Ceiling > 0 {
		ctrlOpts = append(ctrlOpts, session.WithRecordingCeiling(a.cfg.Recording.Ceiling.Std()))
	}
	if c := a.cfg.Capture; c != (config.CaptureConfig{}) {
		ctrlOpts = append(ctrlOpts, session.WithCaptureConfig(audio.Config{
			SampleRate:    c.SampleRate,
			Channels:      c.Channels,
			ChunkInterval: c.ChunkInterval.Std(),
		}))
	}
	a.ctrl = session.New(a.platform, a.clk, a.pipe, a.settings, ctrlOpts...)
	if a.cfg.Session.AutoAnswer {
		a.ctrl.SetAutoAnswer(true)
	}
	a.closers = append(a.closers, a.ctrl.Close)
	return nil
}

// initGateway assembles the HTTP surface around the controller.
func (a *App) initGateway() {
	checkers := []health.Checker{health.Providers(a.pipe)}
	if p, ok := a.hist.(interface {
		Ping(ctx context.Context) error
	}); ok {
		checkers = append(checkers, health.Database(p.Ping))
	}

	gwOpts := []gateway.Option{
		gateway.WithHealth(health.New(checkers...)),
		gateway.WithMetrics(a.metrics),
		gateway.WithLogger(a.log),
	}
	if a.hist != nil {
		gwOpts = append(gwOpts, gateway.WithHistory(a.hist))
	}
	if feed, ok := a.platform.(gateway.AudioFeed); ok {
		gwOpts = append(gwOpts, gateway.WithAudioFeed(feed))
	}
	a.gw = gateway.New(a.ctrl, a.settings, a.store, a.pipe, gwOpts...)
}

// vadConfig converts the config schema to the detector's config.
func vadConfig(v config.VADConfig) vad.Config {
	return vad.Config{
		SpeechThreshold: v.SpeechThreshold,
		SilenceHangover: v.SilenceHangover.Std(),
		MinSpeech:       v.MinSpeech.Std(),
	}
}

// providerFactory builds the ProviderFactory that the settings layer invokes
// on credential or model changes. Provider names and endpoints come from the
// config; the secret and chat model are the runtime arguments.
func (a *App) providerFactory() session.ProviderFactory {
	return func(credential, model string) (stt.Provider, llm.Provider, error) {
		sttEntry := a.cfg.Providers.STT
		if sttEntry.Name == "" {
			sttEntry.Name = "openai"
		}
		sttEntry.APIKey = credential
		sttEntry.APIKeyEnv = ""

		chatEntry := a.cfg.Providers.Chat
		if chatEntry.Name == "" {
			chatEntry.Name = "openai"
		}
		chatEntry.APIKey = credential
		chatEntry.APIKeyEnv = ""
		chatEntry.Model = model

		sttP, err := a.registry.CreateSTT(sttEntry)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create stt provider: %w", err)
		}
		llmP, err := a.registry.CreateChat(chatEntry)
		if err != nil {
			return nil, nil, fmt.Errorf("app: create chat provider: %w", err)
		}
		return sttP, llmP, nil
	}
}

// Controller exposes the session controller, mainly for tests and the
// config reload hook.
func (a *App) Controller() *session.Controller { return a.ctrl }

// Settings exposes the mutable session settings.
func (a *App) Settings() *session.Settings { return a.settings }

// ApplyConfig applies a hot-reloadable config diff to the running app.
// Changes that need a restart are logged and skipped.
func (a *App) ApplyConfig(d config.ConfigDiff) {
	if d.Empty() {
		return
	}
	if d.SystemPromptChanged {
		a.settings.SetSystemPrompt(d.NewSystemPrompt)
		a.log.Info("system prompt updated from config")
	}
	if d.ChatModelChanged {
		if err := a.settings.SetModel(d.NewChatModel); err != nil {
			a.log.Warn("config model change rejected", "error", err)
		} else {
			a.log.Info("chat model updated from config", "model", d.NewChatModel)
		}
	}
	if d.VADChanged {
		a.log.Warn("vad thresholds changed; restart to apply")
	}
	for _, section := range d.RestartRequired {
		a.log.Warn("config change requires restart", "section", section)
	}
}

// Run serves the gateway and blocks until ctx is cancelled or the listener
// fails. On cancellation the HTTP server drains in-flight requests before
// returning.
func (a *App) Run(ctx context.Context) error {
	addr := a.cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.gw.Router(),
	}

	go a.gw.Pump()

	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.log.Info("auricle server running", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.server.Shutdown(drain); err != nil {
		a.log.Warn("http shutdown error", "error", err)
	}
	return ctx.Err()
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "error", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}
