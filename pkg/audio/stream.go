package audio

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

var (
	// ErrStreamClosed is returned when subscribing to a stopped stream.
	ErrStreamClosed = errors.New("audio: stream closed")

	// ErrStreamInUse is returned by [Stream.Stop] while consumers still hold
	// references.
	ErrStreamInUse = errors.New("audio: stream still has subscribers")
)

type subscriber struct {
	id uint64
	fn SampleFunc
}

// Stream is one shared microphone capture fanned out to several consumers.
// Each consumer holds a [Subscription]; the capture track may only be stopped
// once every subscription has been released, or forcibly with [Stream.Close].
//
// Delivery never takes a lock: the subscriber list is copy-on-write, so a
// slow consumer cannot hold up Subscribe, Release or Stop.
type Stream struct {
	track Track
	subs  atomic.Pointer[[]subscriber]

	mu      sync.Mutex // serialises changes to subs
	nextID  uint64
	stopped bool
}

// OpenStream starts a capture on c and returns a Stream distributing its
// samples. A capture failure (for example a denied microphone) is returned
// wrapped and no stream is created.
func OpenStream(ctx context.Context, c Capturer, cfg CaptureConfig) (*Stream, error) {
	s := &Stream{}
	track, err := c.Capture(ctx, cfg, s.dispatch)
	if err != nil {
		return nil, fmt.Errorf("audio: open stream: %w", err)
	}
	s.track = track
	return s, nil
}

// dispatch runs on the device callback goroutine.
func (s *Stream) dispatch(samples []float32) {
	subs := s.subs.Load()
	if subs == nil {
		return
	}
	for _, sub := range *subs {
		sub.fn(samples)
	}
}

// Mode reports the capture callback profile of the underlying track.
func (s *Stream) Mode() CaptureMode {
	return s.track.Mode()
}

// Subscribe registers fn to receive every capture callback until the returned
// subscription is released.
func (s *Stream) Subscribe(fn SampleFunc) (*Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil, ErrStreamClosed
	}
	id := s.nextID
	s.nextID++

	var next []subscriber
	if cur := s.subs.Load(); cur != nil {
		next = slices.Clone(*cur)
	}
	next = append(next, subscriber{id: id, fn: fn})
	s.subs.Store(&next)
	return &Subscription{stream: s, id: id}, nil
}

func (s *Stream) unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur := s.subs.Load()
	if cur == nil {
		return
	}
	next := slices.DeleteFunc(slices.Clone(*cur), func(sub subscriber) bool { return sub.id == id })
	s.subs.Store(&next)
}

// Refs returns the number of live subscriptions.
func (s *Stream) Refs() int {
	if subs := s.subs.Load(); subs != nil {
		return len(*subs)
	}
	return 0
}

// Stop stops every capture track. It fails with [ErrStreamInUse] while any
// subscription is still held. Stop is idempotent once it has succeeded.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	if n := s.Refs(); n > 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w (%d)", ErrStreamInUse, n)
	}
	s.stopped = true
	s.mu.Unlock()

	return s.stopTrack()
}

// Close detaches every remaining subscriber and stops the capture tracks
// regardless of outstanding references. It is the fallback when a consumer
// failed to release its subscription. Close is idempotent and a no-op after a
// successful Stop.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.subs.Store(nil)
	s.mu.Unlock()

	return s.stopTrack()
}

func (s *Stream) stopTrack() error {
	if err := s.track.Stop(); err != nil {
		return fmt.Errorf("audio: stop track: %w", err)
	}
	return nil
}

// Subscription is one consumer's reference on a [Stream].
type Subscription struct {
	stream *Stream
	id     uint64
	once   sync.Once
}

// Release stops delivery to this subscription and drops its reference. A
// callback already running when Release is called may still complete.
// Release is idempotent.
func (sub *Subscription) Release() {
	sub.once.Do(func() {
		sub.stream.unsubscribe(sub.id)
	})
}
