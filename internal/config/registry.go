package config

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
	"github.com/MrWong99/atlas/pkg/provider/wakeword"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Factory builds one provider from its configuration entry.
type Factory[T any] func(ProviderEntry) (T, error)

type factories[T any] struct {
	kind string
	m    map[string]Factory[T]
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, m: make(map[string]Factory[T])}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	fn, ok := f.m[entry.Name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, f.kind, entry.Name)
	}
	v, err := fn(entry)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("config: create %s/%q: %w", f.kind, entry.Name, err)
	}
	return v, nil
}

func (f factories[T]) names() []string {
	out := make([]string, 0, len(f.m))
	for name := range f.m {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Registry maps provider names to factories for each provider kind. It is
// safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	s2s        factories[s2s.Provider]
	classifier factories[classifier.Provider]
	wakeword   factories[wakeword.Detector]
	audio      map[string]AudioFactory
}

// AudioFactory opens the devices of one audio backend.
type AudioFactory func(AudioConfig) (audio.Devices, error)

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		s2s:        newFactories[s2s.Provider](KindS2S),
		classifier: newFactories[classifier.Provider](KindClassifier),
		wakeword:   newFactories[wakeword.Detector](KindWakeWord),
		audio:      make(map[string]AudioFactory),
	}
}

// RegisterS2S registers a speech-to-speech factory. A later registration
// under the same name replaces the earlier one.
func (r *Registry) RegisterS2S(name string, f Factory[s2s.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.s2s.m[name] = f
}

// RegisterClassifier registers a command classifier factory.
func (r *Registry) RegisterClassifier(name string, f Factory[classifier.Provider]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.classifier.m[name] = f
}

// RegisterWakeWord registers a wake-word detector factory.
func (r *Registry) RegisterWakeWord(name string, f Factory[wakeword.Detector]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakeword.m[name] = f
}

// RegisterAudio registers an audio backend factory.
func (r *Registry) RegisterAudio(name string, f AudioFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.audio[name] = f
}

// CreateS2S builds the speech-to-speech provider named by entry.
func (r *Registry) CreateS2S(entry ProviderEntry) (s2s.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.s2s.create(entry)
}

// CreateClassifier builds the classifier named by entry.
func (r *Registry) CreateClassifier(entry ProviderEntry) (classifier.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.classifier.create(entry)
}

// CreateWakeWord builds the wake-word detector named by entry.
func (r *Registry) CreateWakeWord(entry ProviderEntry) (wakeword.Detector, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.wakeword.create(entry)
}

// CreateAudio opens the devices of the backend named by cfg.Backend.
func (r *Registry) CreateAudio(cfg AudioConfig) (audio.Devices, error) {
	r.mu.RLock()
	fn, ok := r.audio[cfg.Backend]
	r.mu.RUnlock()
	if !ok {
		return audio.Devices{}, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, KindAudio, cfg.Backend)
	}
	d, err := fn(cfg)
	if err != nil {
		return audio.Devices{}, fmt.Errorf("config: create %s/%q: %w", KindAudio, cfg.Backend, err)
	}
	return d, nil
}

// Names returns the registered names for kind in sorted order.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindS2S:
		return r.s2s.names()
	case KindClassifier:
		return r.classifier.names()
	case KindWakeWord:
		return r.wakeword.names()
	case KindAudio:
		out := make([]string, 0, len(r.audio))
		for name := range r.audio {
			out = append(out, name)
		}
		sort.Strings(out)
		return out
	}
	return nil
}
