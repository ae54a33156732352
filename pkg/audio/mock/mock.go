// Package mock provides in-memory implementations of the [audio.Capturer] and
// [audio.Player] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.Capturer{}
//	stream, _ := audio.OpenStream(ctx, mic, audio.CaptureConfig{})
//	mic.Emit(make([]float32, 512)) // deliver one device callback
//
//	spk := mock.NewPlayer(24000)
//	spk.Advance(100 * time.Millisecond) // run the playback clock
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrWong99/atlas/pkg/audio"
)

// ─── Capturer ─────────────────────────────────────────────────────────────────

// Capturer is a mock implementation of [audio.Capturer].
type Capturer struct {
	mu sync.Mutex

	// CaptureError is returned by Capture. Use it to simulate a denied
	// microphone.
	CaptureError error

	// TrackMode is reported by tracks returned from Capture.
	TrackMode audio.CaptureMode

	// StopError is returned by the Stop method of tracks.
	StopError error

	// CloseError is returned by Close.
	CloseError error

	// CaptureCalls records the configuration of every Capture call.
	CaptureCalls []audio.CaptureConfig

	// CallCountClose records how many times Close was called.
	CallCountClose int

	tracks []*Track
}

// Capture implements [audio.Capturer].
func (c *Capturer) Capture(_ context.Context, cfg audio.CaptureConfig, fn audio.SampleFunc) (audio.Track, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CaptureCalls = append(c.CaptureCalls, cfg)
	if c.CaptureError != nil {
		return nil, c.CaptureError
	}
	t := &Track{fn: fn, mode: c.TrackMode, stopErr: c.StopError}
	c.tracks = append(c.tracks, t)
	return t, nil
}

// Close implements [audio.Capturer].
func (c *Capturer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return c.CloseError
}

// Tracks returns every track opened so far.
func (c *Capturer) Tracks() []*Track {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Track, len(c.tracks))
	copy(out, c.tracks)
	return out
}

// Emit delivers samples to every running track, as a device callback would.
func (c *Capturer) Emit(samples []float32) {
	for _, t := range c.Tracks() {
		t.Emit(samples)
	}
}

// Track is a mock [audio.Track] returned by [Capturer.Capture].
type Track struct {
	mu      sync.Mutex
	fn      audio.SampleFunc
	mode    audio.CaptureMode
	stopErr error
	stopped bool

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Mode implements [audio.Track].
func (t *Track) Mode() audio.CaptureMode { return t.mode }

// Stop implements [audio.Track].
func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.CallCountStop++
	t.stopped = true
	return t.stopErr
}

// Stopped reports whether Stop has been called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// Emit delivers samples unless the track was stopped.
func (t *Track) Emit(samples []float32) {
	t.mu.Lock()
	fn, stopped := t.fn, t.stopped
	t.mu.Unlock()
	if !stopped && fn != nil {
		fn(samples)
	}
}

// ─── Player ───────────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [Player.Play] invocation.
type PlayCall struct {
	// At is the requested start position.
	At time.Duration

	// Samples is the number of samples scheduled.
	Samples int

	// ClockAt is the clock position when Play was called.
	ClockAt time.Duration
}

// Player is a mock [audio.Player] driven by a manual clock. Voices finish only
// when [Player.Advance] moves the clock past their end.
type Player struct {
	mu     sync.Mutex
	rate   int
	now    time.Duration
	voices []*Voice

	// PlayError is returned by Play.
	PlayError error

	// CloseError is returned by Close.
	CloseError error

	// PlayCalls records all Play invocations in order.
	PlayCalls []PlayCall

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

var _ audio.Player = (*Player)(nil)

// NewPlayer returns a Player clocked at rate Hz, starting at position zero.
func NewPlayer(rate int) *Player {
	return &Player{rate: rate}
}

// SampleRate implements [audio.Player].
func (p *Player) SampleRate() int { return p.rate }

// Now implements [audio.Player].
func (p *Player) Now() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.now
}

// Play implements [audio.Player].
func (p *Player) Play(at time.Duration, samples []float32, onEnded func()) (audio.Voice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlayCalls = append(p.PlayCalls, PlayCall{At: at, Samples: len(samples), ClockAt: p.now})
	if p.PlayError != nil {
		return nil, p.PlayError
	}
	start := max(at, p.now)
	v := &Voice{
		Start:   start,
		End:     start + audio.SamplesDuration(len(samples), p.rate),
		onEnded: onEnded,
	}
	p.voices = append(p.voices, v)
	return v, nil
}

// Close implements [audio.Player].
func (p *Player) Close() error {
	p.mu.Lock()
	voices := p.voices
	p.voices = nil
	p.CallCountClose++
	err := p.CloseError
	p.mu.Unlock()
	for _, v := range voices {
		v.Stop()
	}
	return err
}

// Advance moves the clock forward by d and fires onEnded for every voice that
// finished, in end-time order.
func (p *Player) Advance(d time.Duration) {
	p.mu.Lock()
	p.now += d
	var done, keep []*Voice
	for _, v := range p.voices {
		if v.End <= p.now {
			done = append(done, v)
		} else {
			keep = append(keep, v)
		}
	}
	p.voices = keep
	p.mu.Unlock()

	sort.Slice(done, func(i, j int) bool { return done[i].End < done[j].End })
	for _, v := range done {
		v.finish()
	}
}

// Voices returns the voices that are scheduled and not yet finished.
func (p *Player) Voices() []*Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Voice, len(p.voices))
	copy(out, p.voices)
	return out
}

// Voice is a mock [audio.Voice] returned by [Player.Play].
type Voice struct {
	// Start and End are the effective playback window on the mock clock.
	Start, End time.Duration

	mu      sync.Mutex
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop has been called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}

func (v *Voice) finish() {
	v.mu.Lock()
	if v.stopped || v.ended {
		v.mu.Unlock()
		return
	}
	v.ended = true
	cb := v.onEnded
	v.mu.Unlock()
	if cb != nil {
		cb()
	}
}
