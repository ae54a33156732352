// Command atlas runs the Atlas voice assistant: wake-word activation, a duplex
// speech-to-speech session and voice command dispatch, plus the local control
// API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/MrWong99/atlas/internal/app"
	"github.com/MrWong99/atlas/internal/config"
	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/audio/miniaudio"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	geminicls "github.com/MrWong99/atlas/pkg/provider/classifier/gemini"
	oaicls "github.com/MrWong99/atlas/pkg/provider/classifier/openai"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
	geminilive "github.com/MrWong99/atlas/pkg/provider/s2s/gemini"
	oais2s "github.com/MrWong99/atlas/pkg/provider/s2s/openai"
	"github.com/MrWong99/atlas/pkg/provider/wakeword"
	"github.com/MrWong99/atlas/pkg/provider/wakeword/vosk"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	watch := flag.Bool("watch", true, "reload live settings when the config file changes")
	showVersion := flag.Bool("version", false, "print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("atlas", version)
		return 0
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level is adjusted once the config is loaded and on every reload.
	level := new(slog.LevelVar)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// ── Load configuration ────────────────────────────────────────────────────
	var application *app.App
	var watcher *config.Watcher
	var cfg *config.Config
	var err error
	if *watch {
		watcher, err = config.NewWatcher(*configPath, func(old, next *config.Config, c config.Changes) {
			if application != nil {
				application.ApplyChanges(old, next, c)
			}
		}, config.WithWatchLogger(logger))
		if watcher != nil {
			cfg = watcher.Initial()
		}
	} else {
		cfg, err = config.Load(*configPath)
	}
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "atlas: config file %q not found, copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "atlas: %v\n", err)
		}
		return 1
	}
	level.Set(cfg.Server.LogLevel.Level())

	slog.Info("atlas starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	tel, err := observe.InitProvider(ctx, observe.WithServiceVersion(version))
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(ctx, reg, cfg.Session, logger)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevelVar(level),
		app.WithMetrics(tel.Metrics),
	}
	if watcher != nil {
		opts = append(opts, app.WithWatcher(watcher))
	}
	application, err = app.New(ctx, cfg, providers, opts...)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if cfg.Assistant.Listening() && providers.WakeWord != nil {
		slog.Info("atlas ready, say the wake word or press Ctrl+C to shut down")
	} else {
		slog.Info("atlas ready, start a session over the control API or press Ctrl+C to shut down")
	}

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider implementations that ship with
// Atlas into reg.
func registerBuiltinProviders(ctx context.Context, reg *config.Registry, sc config.SessionConfig, log *slog.Logger) {
	// ── S2S ───────────────────────────────────────────────────────────────────

	reg.RegisterS2S("gemini-live", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []geminilive.Option
		if entry.Model != "" {
			opts = append(opts, geminilive.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(entry.BaseURL))
		}
		return geminilive.New(entry.APIKey, opts...), nil
	})

	reg.RegisterS2S("openai-realtime", func(entry config.ProviderEntry) (s2s.Provider, error) {
		var opts []oais2s.Option
		if entry.Model != "" {
			opts = append(opts, oais2s.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oais2s.WithBaseURL(entry.BaseURL))
		}
		return oais2s.New(entry.APIKey, opts...), nil
	})

	// ── Classifier ────────────────────────────────────────────────────────────

	reg.RegisterClassifier("gemini", func(entry config.ProviderEntry) (classifier.Provider, error) {
		var opts []geminicls.Option
		if entry.Model != "" {
			opts = append(opts, geminicls.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, geminicls.WithBaseURL(entry.BaseURL))
		}
		if sc.ClassifierInstructions != "" {
			opts = append(opts, geminicls.WithInstructions(sc.ClassifierInstructions))
		}
		return geminicls.New(ctx, entry.APIKey, opts...)
	})

	reg.RegisterClassifier("openai", func(entry config.ProviderEntry) (classifier.Provider, error) {
		var opts []oaicls.Option
		if entry.Model != "" {
			opts = append(opts, oaicls.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oaicls.WithBaseURL(entry.BaseURL))
		}
		if m := entry.OptionString("transcription_model"); m != "" {
			opts = append(opts, oaicls.WithTranscriptionModel(m))
		}
		if sc.ClassifierInstructions != "" {
			opts = append(opts, oaicls.WithInstructions(sc.ClassifierInstructions))
		}
		return oaicls.New(entry.APIKey, opts...)
	})

	// ── Wake word ─────────────────────────────────────────────────────────────

	reg.RegisterWakeWord("vosk", func(entry config.ProviderEntry) (wakeword.Detector, error) {
		opts := []vosk.Option{vosk.WithLogger(log)}
		url := entry.BaseURL
		if url == "" {
			url = entry.OptionString("url")
		}
		if url != "" {
			opts = append(opts, vosk.WithURL(url))
		}
		if s := entry.OptionString("cooldown"); s != "" {
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("options.cooldown: %w", err)
			}
			opts = append(opts, vosk.WithCooldown(d))
		}
		return vosk.New(opts...), nil
	})

	// "none" disables wake-word activation.
	reg.RegisterWakeWord("none", func(config.ProviderEntry) (wakeword.Detector, error) {
		return nil, nil
	})

	// ── Audio ─────────────────────────────────────────────────────────────────

	reg.RegisterAudio("miniaudio", func(ac config.AudioConfig) (audio.Devices, error) {
		mic, err := miniaudio.NewCapturer(miniaudio.WithLogger(log))
		if err != nil {
			return audio.Devices{}, err
		}
		spk, err := miniaudio.NewPlayer(audio.PlaybackSampleRate, ac.PlaybackDevice, miniaudio.WithLogger(log))
		if err != nil {
			return audio.Devices{}, errors.Join(err, mic.Close())
		}
		return audio.Devices{Capturer: mic, Player: spk}, nil
	})

	for _, kind := range []string{config.KindS2S, config.KindClassifier, config.KindWakeWord, config.KindAudio} {
		slog.Debug("registered providers", "kind", kind, "names", reg.Names(kind))
	}
}

// buildProviders instantiates the providers named in cfg. Audio devices are
// opened later, once per session.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	s, err := reg.CreateS2S(cfg.Providers.S2S)
	if err != nil {
		return nil, fmt.Errorf("create s2s provider: %w", err)
	}
	ps.S2S = s
	slog.Info("provider created", "kind", config.KindS2S, "name", cfg.Providers.S2S.Name)

	c, err := reg.CreateClassifier(cfg.Providers.Classifier)
	if err != nil {
		return nil, fmt.Errorf("create classifier: %w", err)
	}
	ps.Classifier = app.NamedClassifier{Name: cfg.Providers.Classifier.Name, Provider: c}
	slog.Info("provider created", "kind", config.KindClassifier, "name", cfg.Providers.Classifier.Name)

	for i, entry := range cfg.Providers.ClassifierFallback {
		fb, err := reg.CreateClassifier(entry)
		if err != nil {
			return nil, fmt.Errorf("create classifier fallback %d: %w", i, err)
		}
		ps.Fallbacks = append(ps.Fallbacks, app.NamedClassifier{Name: entry.Name, Provider: fb})
		slog.Info("provider created", "kind", config.KindClassifier, "name", entry.Name, "fallback", i)
	}

	w, err := reg.CreateWakeWord(cfg.Providers.WakeWord)
	if err != nil {
		return nil, fmt.Errorf("create wake word detector: %w", err)
	}
	if w != nil {
		ps.WakeWord = w
		slog.Info("provider created", "kind", config.KindWakeWord, "name", cfg.Providers.WakeWord.Name)
	}

	if names := reg.Names(config.KindAudio); !slices.Contains(names, cfg.Audio.Backend) {
		return nil, fmt.Errorf("%w: audio/%q", config.ErrProviderNotRegistered, cfg.Audio.Backend)
	}
	ac := cfg.Audio
	ps.Audio = func() (audio.Devices, error) { return reg.CreateAudio(ac) }

	return ps, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Atlas  startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("S2S", entryLabel(cfg.Providers.S2S))
	printRow("Classifier", entryLabel(cfg.Providers.Classifier))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.ClassifierFallback)))
	printRow("Wake word", entryLabel(cfg.Providers.WakeWord))
	printRow("Audio", cfg.Audio.Backend)
	printRow("Voice", cfg.Session.Voice)
	printRow("Destinations", fmt.Sprintf("%d extra", len(cfg.Destinations)))
	if cfg.Server.APIEnabled() {
		printRow("Control API", cfg.Server.ListenAddr)
	} else {
		printRow("Control API", "(disabled)")
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func entryLabel(e config.ProviderEntry) string {
	if e.Name == "" {
		return "(not configured)"
	}
	if e.Model != "" {
		return e.Name + " / " + e.Model
	}
	return e.Name
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "..."
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
