// Package app wires all clinvox subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the HTTP surface until the context is cancelled,
// and Shutdown tears everything down in reverse-init order.
//
// For testing, inject doubles via functional options (WithStore,
// WithProvider, WithCapturer, ...). When an option is not provided, New
// creates the real implementation from the config.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/clinvox/clinvox/internal/config"
	"github.com/clinvox/clinvox/internal/health"
	"github.com/clinvox/clinvox/internal/observe"
	"github.com/clinvox/clinvox/internal/reception"
	"github.com/clinvox/clinvox/internal/session"
	"github.com/clinvox/clinvox/internal/store"
	"github.com/clinvox/clinvox/pkg/audio"
	"github.com/clinvox/clinvox/pkg/provider/s2s"
	"github.com/clinvox/clinvox/pkg/provider/s2s/gemini"
)

// shutdownGrace bounds the HTTP server drain when Run's context is
// cancelled.
const shutdownGrace = 5 * time.Second

// App owns all subsystem lifetimes: the site store, the realtime provider,
// the audio devices, the session state machine, and the HTTP surface
// (health + metrics).
type App struct {
	cfg *config.Config
	log *slog.Logger

	// Subsystems — initialised in New, torn down in Shutdown.
	metrics   *observe.Metrics
	store     store.Store
	provider  s2s.Provider
	capturer  audio.Capturer
	player    audio.Player
	navigator store.Navigator
	machine   *session.Machine
	server    *http.Server

	// otelShutdown flushes the OTel SDK. Called last during Shutdown.
	otelShutdown func(context.Context) error

	// closers run in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a site store instead of creating one from config.
func WithStore(s store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithProvider injects an S2S provider instead of constructing the Gemini
// client from config.
func WithProvider(p s2s.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithCapturer injects a microphone capturer instead of opening a real
// audio device.
func WithCapturer(c audio.Capturer) Option {
	return func(a *App) { a.capturer = c }
}

// WithPlayer injects a playback sink instead of opening a real audio
// device.
func WithPlayer(p audio.Player) Option {
	return func(a *App) { a.player = p }
}

// WithNavigator injects a UI navigation sink for staff tools. Defaults to
// a logging navigator.
func WithNavigator(n store.Navigator) Option {
	return func(a *App) { a.navigator = n }
}

// WithMetrics injects a metrics set instead of using the process-wide
// default instruments.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. Use Option
// functions to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: telemetry setup, store
// connection (and migration for Postgres), provider construction, audio
// device setup, state machine assembly, and the HTTP mux.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Telemetry ─────────────────────────────────────────────────────
	if err := a.initObserve(ctx); err != nil {
		return nil, fmt.Errorf("app: init observe: %w", err)
	}

	// ── 2. Site store ────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 3. Realtime provider ─────────────────────────────────────────────
	a.initProvider()

	// ── 4. Audio devices ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 5. Session state machine ─────────────────────────────────────────
	a.initMachine()

	// ── 6. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObserve sets up the OTel SDK (meter provider with a Prometheus
// exporter) and the metric instruments. When metrics are injected the
// caller owns telemetry setup and the global SDK is left untouched.
func (a *App) initObserve(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		return err
	}
	a.otelShutdown = shutdown
	a.metrics = observe.DefaultMetrics()
	return nil
}

// initStore connects the Postgres store when a DSN is configured, running
// migrations on startup. Without a DSN it falls back to the seeded
// in-memory store so the application is usable out of the box.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Database.PostgresDSN
	if dsn == "" {
		a.store = store.NewMemoryWithDemoData()
		a.log.Info("using seeded in-memory store")
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	pg := store.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("migrate: %w", err)
	}
	a.store = pg
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})
	a.log.Info("connected to postgres store")
	return nil
}

// initProvider constructs the Gemini Live client from config unless a
// provider was injected.
func (a *App) initProvider() {
	if a.provider != nil {
		return
	}

	var gopts []gemini.Option
	if a.cfg.Gemini.Model != "" {
		gopts = append(gopts, gemini.WithModel(a.cfg.Gemini.Model))
	}
	if a.cfg.Gemini.BaseURL != "" {
		gopts = append(gopts, gemini.WithBaseURL(a.cfg.Gemini.BaseURL))
	}
	a.provider = gemini.New(a.cfg.Gemini.ResolveAPIKey(), gopts...)
}

// initAudio opens the miniaudio capture and playback devices unless both
// were injected.
func (a *App) initAudio() error {
	if a.capturer != nil && a.player != nil {
		return nil // both injected
	}

	dev, err := audio.NewDevice(audio.DeviceConfig{
		CaptureRate:  a.cfg.Audio.CaptureRate,
		PlaybackRate: a.cfg.Audio.PlaybackRate,
		FrameSamples: a.cfg.Audio.FrameSamples,
	})
	if err != nil {
		return err
	}
	if a.capturer == nil {
		a.capturer = dev
	}
	if a.player == nil {
		a.player = dev
	}
	a.closers = append(a.closers, dev.Close)
	return nil
}

// initMachine assembles the session state machine from the wired
// subsystems.
func (a *App) initMachine() {
	if a.navigator == nil {
		a.navigator = logNavigator{log: a.log}
	}

	a.machine = session.New(session.Config{
		Provider:       a.provider,
		Capturer:       a.capturer,
		Player:         a.player,
		Store:          a.store,
		Navigator:      a.navigator,
		Receptionist:   Persona(a.cfg.Receptionist),
		StaffVoice:     a.cfg.Gemini.StaffVoice,
		PatientVoice:   a.cfg.Gemini.PatientVoice,
		ConnectTimeout: a.cfg.Session.ConnectTimeout,
		CaptureRate:    a.cfg.Audio.CaptureRate,
		PlaybackRate:   a.cfg.Audio.PlaybackRate,
		Metrics:        a.metrics,
		OnState: func(s session.State) {
			a.log.Info("session state changed", "state", s)
		},
		OnError: func(err error) {
			a.log.Error("session error", "err", err)
		},
	})
}

// initHTTP builds the mux with health and metrics endpoints and wraps it
// in the telemetry middleware.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	health.New(
		health.StoreChecker(a.store),
		health.ProviderChecker(a.provider),
	).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           observe.Middleware(a.metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Machine exposes the session state machine so callers (the CLI, tests)
// can start and stop voice sessions.
func (a *App) Machine() *session.Machine {
	return a.machine
}

// Handler exposes the HTTP surface for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves the HTTP surface and blocks until ctx is cancelled or the
// server fails. On cancellation the server is drained within
// [shutdownGrace] and any active voice session is stopped.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Info("http server listening", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.machine.Stop()

		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := a.server.Shutdown(drainCtx); err != nil {
			return fmt.Errorf("app: drain http server: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects
// the context deadline: if ctx expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("shutting down", "closers", len(a.closers))

		a.machine.Stop()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				a.log.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				a.log.Warn("closer error", "index", i, "err", err)
			}
		}

		if a.otelShutdown != nil {
			if err := a.otelShutdown(ctx); err != nil {
				a.log.Warn("telemetry shutdown error", "err", err)
			}
		}

		a.log.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

// Persona converts the receptionist config section into the instruction
// template's persona. Also used by the CLI when hot-reloading the config.
func Persona(rc config.ReceptionistConfig) reception.ReceptionistConfig {
	return reception.ReceptionistConfig{
		ClinicName:       rc.ClinicName,
		BotName:          rc.BotName,
		Tone:             string(rc.Tone),
		CustomGreeting:   rc.CustomGreeting,
		EmergencyContact: rc.EmergencyContact,
		EnableAfterHours: rc.EnableAfterHours,
	}
}

// logNavigator records staff-tool navigation side effects in the log. A
// graphical front end would replace this with a bridge into its own view
// state.
type logNavigator struct {
	log *slog.Logger
}

func (n logNavigator) ShowView(view string) {
	n.log.Info("navigate", "view", view)
}

func (n logNavigator) ShowPatient(id string) {
	if id == "" {
		n.log.Info("patient selection cleared")
		return
	}
	n.log.Info("navigate to patient", "id", id)
}

func (n logNavigator) OpenModal(kind string) {
	n.log.Info("open modal", "kind", kind)
}

var _ store.Navigator = logNavigator{}
