package resilience_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/resilience"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/provider/classifier/mock"
	"github.com/MrWong99/atlas/pkg/types"
)

var errUpstream = errors.New("upstream unavailable")

func TestDo_PrimaryFirst(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("a", "A", resilience.BreakerConfig{})
	g.Add("b", "B")

	got, err := resilience.Do(context.Background(), g, func(_ context.Context, _ string, v string) (string, error) {
		return v, nil
	})
	if err != nil || got != "A" {
		t.Errorf("Do = %q, %v; want A", got, err)
	}
	if names := g.Names(); len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Errorf("Names = %v", names)
	}
}

func TestDo_FallsBackInOrder(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("a", "A", resilience.BreakerConfig{})
	g.Add("b", "B")
	g.Add("c", "C")

	var tried []string
	got, err := resilience.Do(context.Background(), g, func(_ context.Context, name string, v string) (string, error) {
		tried = append(tried, name)
		if v != "C" {
			return "", errUpstream
		}
		return v, nil
	})
	if err != nil || got != "C" {
		t.Fatalf("Do = %q, %v; want C", got, err)
	}
	if len(tried) != 3 {
		t.Errorf("tried = %v, want a, b, c", tried)
	}
}

func TestDo_AllFailed(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("a", 1, resilience.BreakerConfig{})
	g.Add("b", 2)

	_, err := resilience.Do(context.Background(), g, func(context.Context, string, int) (int, error) {
		return 0, errUpstream
	})
	if !errors.Is(err, resilience.ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Errorf("err = %v, want it to wrap the member error", err)
	}
}

func TestDo_SkipsOpenBreaker(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("a", "A", resilience.BreakerConfig{MaxFailures: 1, Cooldown: time.Hour})
	g.Add("b", "B")

	calls := map[string]int{}
	fn := func(_ context.Context, name string, v string) (string, error) {
		calls[name]++
		if name == "a" {
			return "", errUpstream
		}
		return v, nil
	}
	for range 3 {
		if got, err := resilience.Do(context.Background(), g, fn); err != nil || got != "B" {
			t.Fatalf("Do = %q, %v", got, err)
		}
	}
	if calls["a"] != 1 {
		t.Errorf("primary called %d times, want 1 (breaker open after first failure)", calls["a"])
	}
	if st := g.Breaker("a").State(); st != resilience.StateOpen {
		t.Errorf("primary breaker = %v, want open", st)
	}
	if g.Breaker("missing") != nil {
		t.Error("Breaker(missing) != nil")
	}
}

func TestDo_CancelledContextStops(t *testing.T) {
	t.Parallel()

	g := resilience.NewGroup("a", "A", resilience.BreakerConfig{MaxFailures: 1})
	g.Add("b", "B")

	ctx, cancel := context.WithCancel(context.Background())
	var tried []string
	_, err := resilience.Do(ctx, g, func(ctx context.Context, name string, _ string) (string, error) {
		tried = append(tried, name)
		cancel()
		return "", ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried = %v, want only the primary", tried)
	}
	if st := g.Breaker("a").State(); st != resilience.StateClosed {
		t.Errorf("primary breaker = %v, want closed (cancellation is not a failure)", st)
	}
}

func TestClassifier_FailsOver(t *testing.T) {
	t.Parallel()

	want := types.TranscriptionResult{Transcription: "open netflix", Task: types.Task{Kind: types.KindOpenApp, Payload: types.Payload{"name": "netflix"}}}
	primary := &mock.Provider{Err: errUpstream}
	secondary := &mock.Provider{Result: want}

	c := resilience.NewClassifier("gemini", primary, resilience.BreakerConfig{}, nil)
	c.AddFallback("openai", secondary)

	got, err := c.Classify(context.Background(), classifier.Audio{Data: []byte("RIFF"), MIMEType: "audio/wav"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if got.Transcription != want.Transcription || got.Task.Kind != want.Task.Kind {
		t.Errorf("Classify = %+v, want %+v", got, want)
	}
	if primary.CallCount() != 1 || secondary.CallCount() != 1 {
		t.Errorf("calls primary=%d secondary=%d, want 1 and 1", primary.CallCount(), secondary.CallCount())
	}
	if string(secondary.Calls[0].Data) != "RIFF" {
		t.Errorf("fallback got audio %q", secondary.Calls[0].Data)
	}
}

func TestClassifier_InvalidFormatCountsAsFailure(t *testing.T) {
	t.Parallel()

	primary := &mock.Provider{Err: classifier.ErrInvalidFormat}
	c := resilience.NewClassifier("gemini", primary, resilience.BreakerConfig{MaxFailures: 2, Cooldown: time.Hour}, nil)

	for range 2 {
		_, err := c.Classify(context.Background(), classifier.Audio{})
		if !errors.Is(err, classifier.ErrInvalidFormat) {
			t.Fatalf("err = %v, want ErrInvalidFormat", err)
		}
	}
	_, err := c.Classify(context.Background(), classifier.Audio{})
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.CallCount())
	}
}
