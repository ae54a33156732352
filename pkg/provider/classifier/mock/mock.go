// Package mock provides a test double for classifier.Provider.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/types"
)

var _ classifier.Provider = (*Provider)(nil)

// Provider is a mock implementation of classifier.Provider.
//
// Results are consumed in order; once exhausted, Result is returned. If Func is
// set it takes precedence over both.
type Provider struct {
	mu sync.Mutex

	// Func, if set, computes the result for every call.
	Func func(ctx context.Context, a classifier.Audio) (types.TranscriptionResult, error)

	// Results are returned one per call in order.
	Results []types.TranscriptionResult

	// Result is returned once Results is exhausted.
	Result types.TranscriptionResult

	// Err, if non-nil, is returned from every call.
	Err error

	// Calls records the audio of every call in order.
	Calls []classifier.Audio
}

// Classify records the call and returns the configured result.
func (p *Provider) Classify(ctx context.Context, a classifier.Audio) (types.TranscriptionResult, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, a)
	fn := p.Func
	if fn == nil {
		defer p.mu.Unlock()
		if p.Err != nil {
			return types.TranscriptionResult{}, p.Err
		}
		if len(p.Results) > 0 {
			r := p.Results[0]
			p.Results = p.Results[1:]
			return r, nil
		}
		return p.Result, nil
	}
	p.mu.Unlock()
	return fn(ctx, a)
}

// CallCount returns the number of Classify calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}
