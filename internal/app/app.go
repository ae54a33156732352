// Package app wires the Atlas subsystems into a running assistant.
//
// The App struct owns the full lifecycle: New builds the classifier chain,
// dispatcher, assistant flow and control API, Run executes them until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithSessionFactory,
// WithDispatchOptions, ...). When an option is not provided, New builds the
// real implementation from the config and the supplied providers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/atlas/internal/api"
	"github.com/MrWong99/atlas/internal/command"
	"github.com/MrWong99/atlas/internal/config"
	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/internal/resilience"
	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
	"github.com/MrWong99/atlas/pkg/provider/wakeword"
)

var _ session.Sampler = (*command.Sampler)(nil)

// NamedClassifier is a classifier together with the name its breaker and
// metrics are keyed by.
type NamedClassifier struct {
	Name     string
	Provider classifier.Provider
}

// Providers holds the external collaborators. Populated by main.go via the
// config registry.
type Providers struct {
	S2S s2s.Provider

	// Classifier is the primary command classifier.
	Classifier NamedClassifier

	// Fallbacks are tried in order when the primary fails.
	Fallbacks []NamedClassifier

	// WakeWord is nil when wake-word activation is disabled.
	WakeWord wakeword.Detector

	// Audio opens a fresh pair of devices for each session.
	Audio func() (audio.Devices, error)
}

// App owns all subsystem lifetimes.
type App struct {
	cfg       *config.Config
	providers *Providers
	log       *slog.Logger
	level     *slog.LevelVar
	metrics   *observe.Metrics

	classifier *resilience.Classifier
	dispatcher *dispatch.Dispatcher
	hub        *api.Hub
	assistant  *Assistant
	server     *api.Server
	watcher    *config.Watcher

	newSession   SessionFactory
	dispatchOpts []dispatch.Option

	// sampler settings for the next session; hot-reloadable.
	mu      sync.Mutex
	sampler config.SamplerConfig

	// closers are called in order during Shutdown.
	closers  []func() error
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithLogger sets the application logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(a *App) { a.log = l } }

// WithLevelVar lets config reloads change the log level of the handler
// built on v.
func WithLevelVar(v *slog.LevelVar) Option { return func(a *App) { a.level = v } }

// WithMetrics sets the metrics instruments. Nil disables recording.
func WithMetrics(m *observe.Metrics) Option { return func(a *App) { a.metrics = m } }

// WithWatcher runs w alongside the app. Its change callback should call
// [App.ApplyChanges].
func WithWatcher(w *config.Watcher) Option { return func(a *App) { a.watcher = w } }

// WithSessionFactory replaces the device-backed session factory.
func WithSessionFactory(f SessionFactory) Option { return func(a *App) { a.newSession = f } }

// WithDispatchOptions appends options for the dispatcher, e.g. a different
// opener or notifier.
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(a *App) { a.dispatchOpts = append(a.dispatchOpts, opts...) }
}

// ── New ──────────────────────────────────────────────────────────────────────

// New wires every subsystem. No device or network resource is opened until a
// session starts.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
		log:       slog.Default(),
		sampler:   cfg.Sampler,
	}
	for _, o := range opts {
		o(a)
	}

	if a.newSession == nil {
		if err := a.initSessionFactory(); err != nil {
			return nil, err
		}
	}

	table := dispatch.NewTable(cfg.Destinations...)
	a.dispatcher = dispatch.New(append([]dispatch.Option{
		dispatch.WithDestinations(table),
		dispatch.WithLogger(a.log),
		dispatch.WithMetrics(a.metrics),
	}, a.dispatchOpts...)...)
	a.closers = append(a.closers, a.dispatcher.Close)

	a.hub = api.NewHub(0, a.log)

	assistant, err := NewAssistant(AssistantConfig{
		NewSession: a.newSession,
		Executor:   a.dispatcher,
		Hub:        a.hub,
		Detector:   providers.WakeWord,
		CloseDelay: cfg.Assistant.CloseDelay,
		AutoListen: cfg.Assistant.Listening(),
		Logger:     a.log,
		Metrics:    a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	a.assistant = assistant
	// The assistant goes first so sessions release their devices before the
	// dispatcher cancels timers.
	a.closers = append([]func() error{assistant.Shutdown}, a.closers...)

	a.server = api.New(assistant, assistant, a.hub,
		api.WithLogger(a.log),
		api.WithMetrics(a.metrics),
		api.WithCheckers(a.checkers()...),
	)
	a.closers = append(a.closers, func() error { a.hub.Close(); return nil })

	a.log.Info("app: initialised",
		"destinations", len(table.Names()),
		"wakeword", providers.WakeWord != nil,
		"api", cfg.Server.APIEnabled(),
	)
	return a, nil
}

func (a *App) initSessionFactory() error {
	p := a.providers
	var missing []error
	if p.S2S == nil {
		missing = append(missing, errors.New("s2s provider"))
	}
	if p.Classifier.Provider == nil {
		missing = append(missing, errors.New("classifier provider"))
	}
	if p.Audio == nil {
		missing = append(missing, errors.New("audio backend"))
	}
	if len(missing) > 0 {
		return fmt.Errorf("app: missing providers: %w", errors.Join(missing...))
	}

	breaker := a.cfg.Providers.Breaker
	breaker.Logger = a.log
	a.classifier = resilience.NewClassifier(p.Classifier.Name, p.Classifier.Provider, breaker, a.metrics)
	for _, fb := range p.Fallbacks {
		a.classifier.AddFallback(fb.Name, fb.Provider)
	}
	a.newSession = a.deviceSession
	return nil
}

// deviceSession builds a controller on freshly opened devices and a new
// sampler using the current sampler settings.
func (a *App) deviceSession(_ context.Context) (Session, error) {
	devs, err := a.providers.Audio()
	if err != nil {
		return nil, fmt.Errorf("app: open audio devices: %w", err)
	}

	a.mu.Lock()
	sc := a.sampler
	a.mu.Unlock()

	sampler := command.NewSampler(a.classifier,
		command.WithWindow(sc.Window),
		command.WithSettle(sc.Settle),
		command.WithTimeout(sc.Timeout),
		command.WithLogger(a.log),
		command.WithMetrics(a.metrics),
	)
	ctl, err := session.New(session.Config{
		Capturer: devs.Capturer,
		Capture:  audio.CaptureConfig{Device: a.cfg.Audio.CaptureDevice},
		Player:   devs.Player,
		Provider: a.providers.S2S,
		Session: s2s.SessionConfig{
			Voice:        a.cfg.Session.Voice,
			Instructions: a.cfg.Session.Instructions,
		},
		Sampler:   sampler,
		FrameSize: a.cfg.Audio.FrameSize,
		Logger:    a.log,
		Metrics:   a.metrics,
	})
	if err != nil {
		errs := []error{err, sampler.Close()}
		if devs.Capturer != nil {
			errs = append(errs, devs.Capturer.Close())
		}
		if devs.Player != nil {
			errs = append(errs, devs.Player.Close())
		}
		return nil, errors.Join(errs...)
	}
	return ctl, nil
}

func (a *App) checkers() []api.Checker {
	var out []api.Checker
	if a.classifier != nil {
		group := a.classifier.Group()
		out = append(out, api.Checker{Name: "classifier", Check: func(context.Context) error {
			for _, name := range group.Names() {
				if group.Breaker(name).State() != resilience.StateOpen {
					return nil
				}
			}
			return resilience.ErrCircuitOpen
		}})
	}
	out = append(out, api.Checker{Name: "session", Check: func(context.Context) error {
		if s := a.assistant.Snapshot().State; s == session.StateErrored {
			return errors.New("session errored, reset required")
		}
		return nil
	}})
	return out
}

// ── Accessors ────────────────────────────────────────────────────────────────

// Assistant returns the assistant flow.
func (a *App) Assistant() *Assistant { return a.assistant }

// Dispatcher returns the task dispatcher.
func (a *App) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Hub returns the event hub.
func (a *App) Hub() *api.Hub { return a.hub }

// Server returns the control API server.
func (a *App) Server() *api.Server { return a.server }

// ── Run ──────────────────────────────────────────────────────────────────────

// Run drives the assistant, the control API and the config watcher until ctx
// is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.assistant.Run(gctx) })
	if a.cfg.Server.APIEnabled() {
		g.Go(func() error { return a.server.ListenAndServe(gctx, a.cfg.Server.ListenAddr) })
	}
	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// ApplyChanges applies the live-reloadable parts of a config change. Sampler
// settings take effect with the next session.
func (a *App) ApplyChanges(_, next *config.Config, c config.Changes) {
	if c.LogLevelChanged && a.level != nil {
		a.level.Set(c.NewLogLevel.Level())
		a.log.Info("app: log level changed", "level", c.NewLogLevel)
	}
	if c.DestinationsChanged {
		table := dispatch.NewTable(next.Destinations...)
		a.dispatcher.SetDestinations(table)
		a.log.Info("app: destinations reloaded", "count", len(table.Names()))
	}
	if c.SamplerChanged {
		a.mu.Lock()
		a.sampler = next.Sampler
		a.mu.Unlock()
		a.log.Info("app: sampler settings reloaded", "window", next.Sampler.Window, "settle", next.Sampler.Settle)
	}
	if len(c.Restart) > 0 {
		a.log.Warn("app: config changes need a restart", "sections", c.Restart)
	}
}

// ── Shutdown ─────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. If ctx expires before all
// closers finish, the remaining closers are skipped and the context error is
// returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		a.log.Info("app: shutting down", "closers", len(a.closers))
		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				a.log.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				a.log.Warn("app: closer error", "index", i, "err", err)
			}
		}
		a.log.Info("app: shutdown complete")
	})
	return shutdownErr
}
