// Package audio defines the device-facing interfaces and PCM primitives of the
// Atlas voice pipeline.
//
// The primary abstractions are:
//
//   - [Capturer] opens a microphone and returns a [Track].
//   - [Stream] shares one capture between several reference-counted consumers.
//   - [Producer] slices the sample stream into fixed-size [Frame]s.
//   - [Player] schedules decoded output audio on a monotonic playback clock.
//
// Implementations of the device interfaces live in adapter packages such as
// audio/miniaudio. Tests use audio/mock.
package audio

import (
	"context"
	"time"
)

// SampleFunc receives one hardware callback worth of mono samples. The slice
// is only valid for the duration of the call.
type SampleFunc func(samples []float32)

// CaptureMode reports which device callback profile a [Track] is running in.
type CaptureMode int

const (
	// CaptureLowLatency means small device periods matched to the frame size.
	CaptureLowLatency CaptureMode = iota

	// CaptureFallback means the coarser default device period is used. Framing
	// semantics are unchanged; only latency increases.
	CaptureFallback
)

// String returns the human-readable name of the capture mode.
func (m CaptureMode) String() string {
	switch m {
	case CaptureLowLatency:
		return "low-latency"
	case CaptureFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// CaptureConfig describes a microphone capture request.
type CaptureConfig struct {
	// SampleRate in Hz. Default: [CaptureSampleRate].
	SampleRate int

	// PeriodFrames is the preferred device callback size in low-latency mode.
	// Default: [DefaultFrameSize].
	PeriodFrames int

	// Device is an optional platform-specific device name. Empty selects the
	// system default input.
	Device string
}

// Track is one open microphone capture. Stopping a track turns the hardware
// capture off.
type Track interface {
	// Mode reports the callback profile the device ended up in.
	Mode() CaptureMode

	// Stop stops delivering samples and releases the device. Stop is
	// idempotent.
	Stop() error
}

// Capturer opens microphone captures.
//
// Implementations must be safe for concurrent use.
type Capturer interface {
	// Capture opens the microphone and starts calling fn on the device
	// callback goroutine. A permission or device failure is returned as an
	// error and no callbacks are made.
	Capture(ctx context.Context, cfg CaptureConfig, fn SampleFunc) (Track, error)

	// Close releases the underlying input audio context. Tracks opened from a
	// closed Capturer must not be used.
	Close() error
}

// Voice is one scheduled playback buffer.
type Voice interface {
	// Stop silences the voice immediately. A voice that was already on its
	// last period may still report its end. Stop is idempotent.
	Stop()
}

// Player is a mono output device with a monotonic playback clock.
//
// Implementations must be safe for concurrent use.
type Player interface {
	// SampleRate returns the output rate in Hz.
	SampleRate() int

	// Now returns the current position of the playback clock.
	Now() time.Duration

	// Play schedules samples to start at clock position at. Positions in the
	// past start immediately. onEnded, when non-nil, is called once the last
	// sample has been rendered.
	Play(at time.Duration, samples []float32, onEnded func()) (Voice, error)

	// Close stops every voice and releases the output audio context.
	Close() error
}

// Devices bundles the input and output side of one audio backend.
type Devices struct {
	Capturer Capturer
	Player   Player
}
