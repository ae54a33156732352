package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/MrWong99/atlas/internal/command"
	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/audio"
)

// Provider kinds known to the registry.
const (
	KindS2S        = "s2s"
	KindClassifier = "classifier"
	KindWakeWord   = "wakeword"
	KindAudio      = "audio"
)

// ValidProviderNames lists the built-in provider names per kind. Unknown
// names only produce a warning so that third-party factories can be
// registered.
var ValidProviderNames = map[string][]string{
	KindS2S:        {"gemini-live", "openai-realtime"},
	KindClassifier: {"gemini", "openai"},
	KindWakeWord:   {"vosk", "none"},
	KindAudio:      {"miniaudio"},
}

const (
	defaultListenAddr = ":8080"
	defaultCloseDelay = 1500 * time.Millisecond
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "" || name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load reads the YAML file at path, expanding ${VAR} references from the
// environment, and returns a defaulted and validated [Config].
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(ExpandEnv(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandEnv replaces every ${VAR} with the value of the environment variable
// VAR. Bare $VAR references are left alone.
func ExpandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(m []byte) []byte {
		return []byte(os.Getenv(string(m[2 : len(m)-1])))
	})
}

// ApplyDefaults fills zero fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = defaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = "miniaudio"
	}
	if cfg.Audio.FrameSize == 0 {
		cfg.Audio.FrameSize = audio.DefaultFrameSize
	}
	if cfg.Providers.S2S.Name == "" {
		cfg.Providers.S2S.Name = "gemini-live"
	}
	if cfg.Providers.Classifier.Name == "" {
		cfg.Providers.Classifier.Name = "gemini"
	}
	if cfg.Providers.WakeWord.Name == "" {
		cfg.Providers.WakeWord.Name = "vosk"
	}
	if cfg.Session.Voice == "" {
		cfg.Session.Voice = session.DefaultVoice
	}
	if cfg.Session.Instructions == "" {
		cfg.Session.Instructions = session.DefaultInstructions
	}
	if cfg.Sampler.Window == 0 {
		cfg.Sampler.Window = command.DefaultWindow
	}
	if cfg.Sampler.Settle == 0 {
		cfg.Sampler.Settle = command.DefaultSettle
	}
	if cfg.Sampler.Timeout == 0 {
		cfg.Sampler.Timeout = command.DefaultTimeout
	}
	if cfg.Assistant.CloseDelay == 0 {
		cfg.Assistant.CloseDelay = defaultCloseDelay
	}
}

// Validate checks that cfg is coherent. It returns every problem found,
// joined.
func Validate(cfg *Config) error {
	var errs []error

	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, e := range verrs {
				errs = append(errs, fmt.Errorf("%s %s", fieldPath(e), validationMessage(e)))
			}
		} else {
			errs = append(errs, err)
		}
	}

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Sampler.Window > 0 && cfg.Sampler.Settle >= cfg.Sampler.Window {
		errs = append(errs, fmt.Errorf("sampler.settle %v must be shorter than sampler.window %v", cfg.Sampler.Settle, cfg.Sampler.Window))
	}

	warnUnknown(KindS2S, cfg.Providers.S2S.Name)
	warnUnknown(KindClassifier, cfg.Providers.Classifier.Name)
	warnUnknown(KindWakeWord, cfg.Providers.WakeWord.Name)
	warnUnknown(KindAudio, cfg.Audio.Backend)
	for i, fb := range cfg.Providers.ClassifierFallback {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("providers.classifier_fallback[%d].name is required", i))
			continue
		}
		warnUnknown(KindClassifier, fb.Name)
	}

	seen := make(map[string]int, len(cfg.Destinations))
	for i, d := range cfg.Destinations {
		key := strings.ToLower(strings.TrimSpace(d.Name))
		if prev, dup := seen[key]; dup && key != "" {
			errs = append(errs, fmt.Errorf("destinations[%d].name %q is a duplicate of destinations[%d]", i, d.Name, prev))
		}
		seen[key] = i
	}

	return errors.Join(errs...)
}

// fieldPath turns "Config.providers.s2s.base_url" into "providers.s2s.base_url".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", e.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", e.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed validation '%s'", e.Tag())
	}
}

func warnUnknown(kind, name string) {
	if name == "" || slices.Contains(ValidProviderNames[kind], name) {
		return
	}
	slog.Warn("config: unknown provider name, may be a typo or third-party provider",
		"kind", kind, "name", name, "known", ValidProviderNames[kind])
}
