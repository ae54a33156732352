// Package resilience provides a circuit breaker and ordered provider failover.
//
// [Breaker] is a three-state breaker (closed, open, half-open). [Group] pairs
// a primary and any number of fallbacks of one provider type, each behind its
// own breaker, and tries them in order. [Classifier] applies a Group to the
// command classifier.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a breaker rejects a call without running it.
var ErrCircuitOpen = errors.New("resilience: circuit open")

// State is the operating mode of a [Breaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the cooldown elapses.
	StateOpen

	// StateHalfOpen lets probe calls through one at a time. Enough successful
	// probes close the breaker; any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker]. Zero fields take defaults.
type BreakerConfig struct {
	// Name labels log lines and state-change callbacks.
	Name string `yaml:"-"`

	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 5.
	MaxFailures int `yaml:"max_failures" validate:"gte=0"`

	// Cooldown is how long the breaker stays open before probing. Default: 30s.
	Cooldown time.Duration `yaml:"cooldown" validate:"gte=0"`

	// Probes is the number of consecutive successful probes that closes a
	// half-open breaker. Default: 2.
	Probes int `yaml:"probes" validate:"gte=0"`

	// OnStateChange, if set, is called after every transition, outside the
	// breaker lock.
	OnStateChange func(name string, from, to State) `yaml:"-"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-"`
}

// Breaker guards calls to one unreliable dependency. Safe for concurrent use.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
	probesOK int
}

// NewBreaker creates a closed [Breaker].
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Probes <= 0 {
		cfg.Probes = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Name returns the configured name.
func (b *Breaker) Name() string { return b.cfg.Name }

// Execute runs fn unless the breaker is open. An error for which ignore
// returns true is passed through without counting as a failure; ignore may be
// nil.
func (b *Breaker) Execute(fn func() error, ignore func(error) bool) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = fn()
	switch {
	case err == nil:
		b.settle(probe, true)
	case ignore != nil && ignore(err):
		b.release(probe)
	default:
		b.settle(probe, false)
	}
	return err
}

// admit decides whether a call may run and whether it is a half-open probe.
func (b *Breaker) admit() (probe bool, err error) {
	b.mu.Lock()
	var from State
	changed := false
	defer func() {
		b.mu.Unlock()
		if changed {
			b.notify(from, StateHalfOpen)
		}
	}()

	if b.state == StateOpen {
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false, ErrCircuitOpen
		}
		from, changed = b.state, true
		b.state = StateHalfOpen
		b.probesOK = 0
		b.probing = false
	}
	if b.state == StateHalfOpen {
		if b.probing {
			return false, ErrCircuitOpen
		}
		b.probing = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) release(probe bool) {
	if !probe {
		return
	}
	b.mu.Lock()
	b.probing = false
	b.mu.Unlock()
}

func (b *Breaker) settle(probe, success bool) {
	b.mu.Lock()
	from := b.state
	if probe {
		b.probing = false
	}

	switch {
	case success && b.state == StateHalfOpen:
		b.probesOK++
		if b.probesOK >= b.cfg.Probes {
			b.state = StateClosed
			b.failures = 0
		}
	case success:
		b.failures = 0
	case b.state == StateHalfOpen:
		b.trip()
	default:
		b.failures++
		if b.failures >= b.cfg.MaxFailures {
			b.trip()
		}
	}
	to := b.state
	failures := b.failures
	b.mu.Unlock()

	if from != to {
		b.cfg.Logger.Info("resilience: breaker state changed",
			"name", b.cfg.Name, "from", from.String(), "to", to.String(), "failures", failures)
		b.notify(from, to)
	}
}

// trip opens the breaker. b.mu must be held.
func (b *Breaker) trip() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.probesOK = 0
}

func (b *Breaker) notify(from, to State) {
	if b.cfg.OnStateChange != nil {
		b.cfg.OnStateChange(b.cfg.Name, from, to)
	}
}

// State reports the current state. An open breaker whose cooldown has elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return StateHalfOpen
	}
	return b.state
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	from := b.state
	b.state = StateClosed
	b.failures = 0
	b.probesOK = 0
	b.probing = false
	b.mu.Unlock()
	if from != StateClosed {
		b.notify(from, StateClosed)
	}
}
