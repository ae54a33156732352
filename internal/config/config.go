// Package config provides the configuration schema, loader, hot-reload
// watcher and provider registry for the Atlas voice assistant.
package config

import (
	"log/slog"
	"time"

	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/resilience"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level maps l to a slog level. Unrecognised values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure. It is typically loaded with
// [Load] or [LoadFromReader], which apply defaults and validate.
type Config struct {
	Server       ServerConfig           `yaml:"server"`
	Audio        AudioConfig            `yaml:"audio"`
	Providers    ProvidersConfig        `yaml:"providers"`
	Session      SessionConfig          `yaml:"session"`
	Sampler      SamplerConfig          `yaml:"sampler"`
	Assistant    AssistantConfig        `yaml:"assistant"`
	Destinations []dispatch.Destination `yaml:"destinations" validate:"dive"`
}

// ServerConfig holds the control API and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address of the control API. Default: ":8080".
	// "-" disables the API.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// APIEnabled reports whether the control API should be served.
func (s ServerConfig) APIEnabled() bool { return s.ListenAddr != "-" }

// AudioConfig selects the audio backend and devices.
type AudioConfig struct {
	// Backend names the registered audio backend. Default: "miniaudio".
	Backend string `yaml:"backend"`

	// FrameSize is the outgoing PCM frame capacity in samples. Default: 256.
	FrameSize int `yaml:"frame_size" validate:"gte=0,lte=16384"`

	// CaptureDevice and PlaybackDevice select devices by exact name, or else
	// by case-insensitive name substring.
	// Empty selects the system default.
	CaptureDevice  string `yaml:"capture_device"`
	PlaybackDevice string `yaml:"playback_device"`
}

// ProvidersConfig declares the remote services.
type ProvidersConfig struct {
	S2S ProviderEntry `yaml:"s2s"`

	Classifier ProviderEntry `yaml:"classifier"`

	// ClassifierFallback entries are tried in order when the primary
	// classifier fails or its breaker is open.
	ClassifierFallback []ProviderEntry `yaml:"classifier_fallback" validate:"dive"`

	// Breaker tunes the per-classifier circuit breakers.
	Breaker resilience.BreakerConfig `yaml:"breaker"`

	WakeWord ProviderEntry `yaml:"wakeword"`
}

// ProviderEntry is the configuration block shared by all provider kinds. Name
// selects the factory in the [Registry].
type ProviderEntry struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
	Model   string `yaml:"model"`

	// Options holds provider-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// OptionString returns Options[key] as a string, or "".
func (e ProviderEntry) OptionString(key string) string {
	if s, ok := e.Options[key].(string); ok {
		return s
	}
	return ""
}

// SessionConfig shapes each conversational session.
type SessionConfig struct {
	Voice        string `yaml:"voice"`
	Instructions string `yaml:"instructions"`

	// ClassifierInstructions replaces the built-in command extraction prompt.
	ClassifierInstructions string `yaml:"classifier_instructions"`
}

// SamplerConfig tunes the command-detection windows.
type SamplerConfig struct {
	Window  time.Duration `yaml:"window" validate:"gte=0"`
	Settle  time.Duration `yaml:"settle" validate:"gte=0"`
	Timeout time.Duration `yaml:"timeout" validate:"gte=0"`
}

// AssistantConfig tunes the wake-word driven assistant flow.
type AssistantConfig struct {
	// CloseDelay is how long after a successful command the session is torn
	// down. Default: 1.5s.
	CloseDelay time.Duration `yaml:"close_delay" validate:"gte=0"`

	// AutoListen starts wake-word listening at startup. Default: true.
	AutoListen *bool `yaml:"auto_listen"`
}

// Listening reports whether wake-word listening starts automatically.
func (a AssistantConfig) Listening() bool { return a.AutoListen == nil || *a.AutoListen }
