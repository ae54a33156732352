package config

import "slices"

// Changes describes what differs between two configs. Only the log level,
// the destination table and the sampler settings are applied live; every
// other changed section is listed in Restart.
type Changes struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	DestinationsChanged bool
	SamplerChanged      bool

	// Restart names sections whose change takes effect only after a restart.
	Restart []string
}

// Empty reports whether nothing changed.
func (c Changes) Empty() bool {
	return !c.LogLevelChanged && !c.DestinationsChanged && !c.SamplerChanged && len(c.Restart) == 0
}

// Diff compares old and new.
func Diff(old, new *Config) Changes {
	var c Changes

	if old.Server.LogLevel != new.Server.LogLevel {
		c.LogLevelChanged = true
		c.NewLogLevel = new.Server.LogLevel
	}
	c.DestinationsChanged = !slices.Equal(old.Destinations, new.Destinations)
	c.SamplerChanged = old.Sampler != new.Sampler

	if old.Server.ListenAddr != new.Server.ListenAddr {
		c.Restart = append(c.Restart, "server.listen_addr")
	}
	if old.Audio != new.Audio {
		c.Restart = append(c.Restart, "audio")
	}
	if !sameProviders(old.Providers, new.Providers) {
		c.Restart = append(c.Restart, "providers")
	}
	if old.Session != new.Session {
		c.Restart = append(c.Restart, "session")
	}
	if old.Assistant.CloseDelay != new.Assistant.CloseDelay || old.Assistant.Listening() != new.Assistant.Listening() {
		c.Restart = append(c.Restart, "assistant")
	}
	return c
}

func sameProviders(a, b ProvidersConfig) bool {
	if !sameEntry(a.S2S, b.S2S) || !sameEntry(a.Classifier, b.Classifier) || !sameEntry(a.WakeWord, b.WakeWord) {
		return false
	}
	if a.Breaker.MaxFailures != b.Breaker.MaxFailures || a.Breaker.Cooldown != b.Breaker.Cooldown || a.Breaker.Probes != b.Breaker.Probes {
		return false
	}
	return slices.EqualFunc(a.ClassifierFallback, b.ClassifierFallback, sameEntry)
}

// sameEntry ignores Options, which may hold uncomparable values; option-only
// edits therefore go unnoticed until restart.
func sameEntry(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL && a.Model == b.Model
}
