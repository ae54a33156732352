package resilience

import (
	"context"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/types"
)

// Classifier implements [classifier.Provider] over a [Group] of classifiers.
type Classifier struct {
	group   *Group[classifier.Provider]
	metrics *observe.Metrics
}

var _ classifier.Provider = (*Classifier)(nil)

// NewClassifier creates a failover classifier with primary first. m may be
// nil.
func NewClassifier(name string, primary classifier.Provider, cfg BreakerConfig, m *observe.Metrics) *Classifier {
	return &Classifier{group: NewGroup(name, primary, cfg), metrics: m}
}

// AddFallback registers a fallback classifier.
func (c *Classifier) AddFallback(name string, p classifier.Provider) {
	c.group.Add(name, p)
}

// Group exposes the underlying group, mostly for breaker inspection.
func (c *Classifier) Group() *Group[classifier.Provider] { return c.group }

// Classify tries each classifier in order until one returns a result.
func (c *Classifier) Classify(ctx context.Context, a classifier.Audio) (types.TranscriptionResult, error) {
	return Do(ctx, c.group, func(ctx context.Context, name string, p classifier.Provider) (types.TranscriptionResult, error) {
		res, err := p.Classify(ctx, a)
		status := "ok"
		if err != nil {
			status = "error"
			c.metrics.RecordProviderError(ctx, name, "classifier")
		}
		c.metrics.RecordProviderRequest(ctx, name, "classifier", status)
		return res, err
	})
}
