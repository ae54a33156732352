// Package command runs the secondary command-detection path. A [Sampler]
// slices the shared microphone stream into fixed windows and classifies each
// finished window in the background, delivering detected tasks on a channel.
//
// The sampler never touches the duplex conversation. Classification failures
// are logged and counted, never surfaced.
package command

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/classifier"
	"github.com/MrWong99/atlas/pkg/types"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("command: sampler closed")

const (
	DefaultWindow  = 5 * time.Second
	DefaultSettle  = 200 * time.Millisecond
	DefaultTimeout = 30 * time.Second

	defaultTaskBuffer = 16
)

// Option is a functional option for [NewSampler].
type Option func(*Sampler)

// WithWindow sets the window length. Default: 5s.
func WithWindow(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithSettle sets the pause between two windows. Default: 200ms.
func WithSettle(d time.Duration) Option {
	return func(s *Sampler) {
		if d >= 0 {
			s.settle = d
		}
	}
}

// WithSampleRate sets the rate of the captured samples. Default: 16000.
func WithSampleRate(rate int) Option {
	return func(s *Sampler) {
		if rate > 0 {
			s.rate = rate
		}
	}
}

// WithTimeout bounds each classification call. Default: 30s.
func WithTimeout(d time.Duration) Option {
	return func(s *Sampler) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Sampler) { s.log = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Sampler) { s.metrics = m }
}

// Sampler captures windows from an [audio.Stream] and classifies them.
//
// Lifecycle: Start begins the first window immediately and closes it after the
// window length. While still active, the next window opens after the settle
// delay; the closed window is classified in its own goroutine and never delays
// the next one. Stop discards the open window without submitting it.
//
// All methods are safe for concurrent use.
type Sampler struct {
	classifier classifier.Provider
	window     time.Duration
	settle     time.Duration
	rate       int
	timeout    time.Duration
	log        *slog.Logger
	metrics    *observe.Metrics

	mu        sync.Mutex
	active    bool
	recording bool
	buf       []float32
	seq       uint64
	sub       *audio.Subscription
	stop      chan struct{}
	loopDone  chan struct{}
	closed    bool
	tasks     chan types.TranscriptionResult

	inflight sync.WaitGroup
}

// NewSampler creates a Sampler that classifies windows with p.
func NewSampler(p classifier.Provider, opts ...Option) *Sampler {
	s := &Sampler{
		classifier: p,
		window:     DefaultWindow,
		settle:     DefaultSettle,
		rate:       audio.CaptureSampleRate,
		timeout:    DefaultTimeout,
		log:        slog.Default(),
		tasks:      make(chan types.TranscriptionResult, defaultTaskBuffer),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start subscribes to stream and opens the first window. It is a no-op while
// already active.
func (s *Sampler) Start(stream *audio.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.active {
		return nil
	}

	sub, err := stream.Subscribe(s.write)
	if err != nil {
		return fmt.Errorf("command: start: %w", err)
	}
	s.sub = sub
	s.active = true
	s.recording = true
	s.buf = s.buf[:0]
	s.stop = make(chan struct{})
	s.loopDone = make(chan struct{})

	go s.loop(s.stop, s.loopDone)
	s.log.Debug("command: sampler started", "window", s.window, "settle", s.settle)
	return nil
}

// Stop cancels the window schedule, discards the open window and releases the
// stream subscription. Classifications already in flight are left to finish;
// their results are still delivered unless the sampler is closed.
func (s *Sampler) Stop() error {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil
	}
	s.active = false
	s.recording = false
	s.buf = nil
	sub := s.sub
	s.sub = nil
	stop, done := s.stop, s.loopDone
	s.mu.Unlock()

	sub.Release()
	close(stop)
	<-done
	s.log.Debug("command: sampler stopped")
	return nil
}

// Close stops the sampler and closes the Tasks channel. Results of windows
// still in flight are dropped. Close is idempotent.
func (s *Sampler) Close() error {
	err := s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.tasks)
	}
	return err
}

// Tasks delivers every result whose kind is not none.
func (s *Sampler) Tasks() <-chan types.TranscriptionResult { return s.tasks }

// Wait blocks until every in-flight classification has finished.
func (s *Sampler) Wait() { s.inflight.Wait() }

// write runs on the capture goroutine.
func (s *Sampler) write(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording {
		s.buf = append(s.buf, samples...)
	}
}

// loop drives window rotation until stop is closed.
func (s *Sampler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	timer := time.NewTimer(s.window)
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
		}

		if w, ok := s.closeWindow(); ok {
			s.inflight.Add(1)
			go s.classify(w)
		}

		select {
		case <-stop:
			return
		case <-time.After(s.settle):
		}

		if !s.openWindow() {
			return
		}
		timer.Reset(s.window)
	}
}

type window struct {
	seq     uint64
	samples []float32
}

func (s *Sampler) closeWindow() (window, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return window{}, false
	}
	s.recording = false
	w := window{seq: s.seq, samples: s.buf}
	s.seq++
	s.buf = nil
	if len(w.samples) == 0 {
		s.log.Debug("command: skip empty window", "window", w.seq)
		return window{}, false
	}
	return w, true
}

func (s *Sampler) openWindow() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active {
		return false
	}
	s.recording = true
	return true
}

// classify submits one window. It runs detached from the sampler lifecycle.
func (s *Sampler) classify(w window) {
	defer s.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("command: classifier panic", "window", w.seq, "panic", r)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	ctx, span := observe.StartSpan(ctx, "command.classify")
	defer span.End()
	log := observe.WithTrace(ctx, s.log).With("window", w.seq)

	s.metrics.RecordWindow(ctx)
	log.Debug("command: submit window",
		"samples", len(w.samples),
		"duration", audio.SamplesDuration(len(w.samples), s.rate),
		"rms", audio.RMS(w.samples),
	)

	wav := audio.EncodeWAV(audio.Float32ToPCM16(w.samples), s.rate, 1)
	start := time.Now()
	res, err := s.classifier.Classify(ctx, classifier.Audio{Data: wav, MIMEType: "audio/wav"})
	s.metrics.RecordClassification(ctx, time.Since(start).Seconds(), string(res.Task.Kind), err)
	if err != nil {
		observe.Fail(span, err)
		log.Warn("command: classification failed", "err", err)
		return
	}
	if res.Task.Kind == types.KindNone {
		log.Debug("command: no command", "transcription", res.Transcription)
		return
	}

	log.Info("command: task detected", "task", res.Task.String(), "transcription", res.Transcription)
	s.deliver(res)
}

func (s *Sampler) deliver(res types.TranscriptionResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.tasks <- res:
	default:
		s.log.Warn("command: task dropped, consumer too slow", "task", res.Task.String())
	}
}
