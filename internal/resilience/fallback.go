package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every member of a [Group] failed or was
// skipped by its breaker.
var ErrAllFailed = errors.New("resilience: all providers failed")

type member[T any] struct {
	name    string
	value   T
	breaker *Breaker
}

// Group is an ordered primary plus fallbacks of one provider type. Members
// are added before first use; Do is then safe for concurrent use.
type Group[T any] struct {
	cfg     BreakerConfig
	members []member[T]
}

// NewGroup creates a group whose first member is primary. Each member gets
// its own breaker configured from cfg with Name set to the member name.
func NewGroup[T any](name string, primary T, cfg BreakerConfig) *Group[T] {
	g := &Group[T]{cfg: cfg}
	g.Add(name, primary)
	return g
}

// Add appends a fallback. Members are tried in the order they were added.
func (g *Group[T]) Add(name string, v T) {
	cfg := g.cfg
	cfg.Name = name
	g.members = append(g.members, member[T]{name: name, value: v, breaker: NewBreaker(cfg)})
}

// Names lists the members in try order.
func (g *Group[T]) Names() []string {
	out := make([]string, len(g.members))
	for i, m := range g.members {
		out[i] = m.name
	}
	return out
}

// Breaker returns the breaker of the named member, or nil.
func (g *Group[T]) Breaker(name string) *Breaker {
	for _, m := range g.members {
		if m.name == name {
			return m.breaker
		}
	}
	return nil
}

// Primary returns the first member.
func (g *Group[T]) Primary() T { return g.members[0].value }

// Do calls fn with each member in order and returns the first success.
// Cancellation of ctx stops the walk immediately and is not counted against
// any breaker.
func Do[T, R any](ctx context.Context, g *Group[T], fn func(ctx context.Context, name string, v T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, m := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		var out R
		err := m.breaker.Execute(func() error {
			var callErr error
			out, callErr = fn(ctx, m.name, m.value)
			return callErr
		}, func(err error) bool {
			return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
		})
		if err == nil {
			return out, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}

		if errors.Is(err, ErrCircuitOpen) {
			slog.Debug("resilience: skipping member, circuit open", "member", m.name)
		} else {
			slog.Warn("resilience: member failed, trying next", "member", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
