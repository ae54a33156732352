package session_test

import (
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
	s2smock "github.com/MrWong99/atlas/pkg/provider/s2s/mock"
	"github.com/MrWong99/atlas/pkg/types"
)

// eventually polls cond until it holds or a deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// stalledSession is a remote session whose network writes hang until the
// session is closed.
type stalledSession struct {
	*s2smock.Session
	entered   chan struct{}
	enterOnce sync.Once
	release   chan struct{}
	relOnce   sync.Once
}

func newStalledSession() *stalledSession {
	return &stalledSession{
		Session: s2smock.NewSession(),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *stalledSession) SendAudio([]byte) error {
	s.enterOnce.Do(func() { close(s.entered) })
	<-s.release
	return s2s.ErrSessionClosed
}

func (s *stalledSession) Close() error {
	s.relOnce.Do(func() { close(s.release) })
	return s.Session.Close()
}

// fakeSampler is a Sampler that holds one stream subscription while started.
type fakeSampler struct {
	mu        sync.Mutex
	sub       *audio.Subscription
	starts    int
	stops     int
	samples   int
	startErr  error
	stopErr   error
	stopPanic bool
	closed    bool
	tasks     chan types.TranscriptionResult
	closeOnce sync.Once
}

var _ session.Sampler = (*fakeSampler)(nil)

func newFakeSampler() *fakeSampler {
	return &fakeSampler{tasks: make(chan types.TranscriptionResult, 8)}
}

func (f *fakeSampler) Start(s *audio.Stream) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.startErr != nil {
		return f.startErr
	}
	sub, err := s.Subscribe(func(samples []float32) {
		f.mu.Lock()
		f.samples += len(samples)
		f.mu.Unlock()
	})
	if err != nil {
		return err
	}
	f.sub = sub
	return nil
}

func (f *fakeSampler) Stop() error {
	f.mu.Lock()
	f.stops++
	if f.stopPanic {
		f.mu.Unlock()
		panic("sampler wedged")
	}
	sub := f.sub
	f.sub = nil
	err := f.stopErr
	f.mu.Unlock()
	if sub != nil {
		sub.Release()
	}
	return err
}

func (f *fakeSampler) Tasks() <-chan types.TranscriptionResult { return f.tasks }

func (f *fakeSampler) Close() error {
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		close(f.tasks)
	})
	return nil
}

func (f *fakeSampler) counts() (starts, stops, samples int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts, f.stops, f.samples
}

// recorder collects events delivered through a Notify hook.
type recorder struct {
	mu     sync.Mutex
	events []session.Event
}

func (r *recorder) notify(ev session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Text)
	}
	return out
}
