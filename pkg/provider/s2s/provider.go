// Package s2s defines the Provider interface for Speech-to-Speech (S2S) backends.
//
// An S2S provider wraps a real-time conversational voice service that accepts
// raw microphone audio and streams synthesised speech back over a single,
// stateful duplex session. Examples include the Gemini Live API and the OpenAI
// Realtime API.
//
// The central abstraction is SessionHandle. Everything the remote side sends
// (audio chunks, interruption signals, status notices) arrives on one ordered
// [Event] channel, so consumers observe an interruption exactly where it
// happened relative to the audio around it.
//
// All implementations must be safe for concurrent use.
package s2s

import (
	"context"
	"errors"
	"time"
)

// ErrSessionClosed is returned by SessionHandle methods after Close or after the
// remote side ended the session.
var ErrSessionClosed = errors.New("s2s: session closed")

// EventType classifies events emitted on [SessionHandle.Events].
type EventType int

const (
	// EventAudio carries one chunk of synthesised speech.
	EventAudio EventType = iota

	// EventInterrupted signals that the remote model detected barge-in and has
	// discarded the rest of its current response. Buffered playback should be
	// dropped immediately.
	EventInterrupted

	// EventTurnComplete marks the end of one model response.
	EventTurnComplete

	// EventStatus carries a human-readable status notice in Text (for example
	// the session becoming ready).
	EventStatus

	// EventError carries a non-fatal provider error in Err.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventAudio:
		return "AUDIO"
	case EventInterrupted:
		return "INTERRUPTED"
	case EventTurnComplete:
		return "TURN_COMPLETE"
	case EventStatus:
		return "STATUS"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one message from the remote side of a session.
type Event struct {
	Type EventType

	// Audio holds little-endian int16 mono PCM for EventAudio.
	Audio []byte

	// SampleRate is the rate of Audio in Hz.
	SampleRate int

	// Text is the notice for EventStatus.
	Text string

	// Err is set for EventError.
	Err error
}

// SessionConfig is the configuration sent once when a session is established.
type SessionConfig struct {
	// Voice is the provider-specific prebuilt voice name (e.g. "Orus").
	Voice string

	// Instructions is the system instruction that shapes how the remote model
	// responds.
	Instructions string

	// InputSampleRate is the rate of audio passed to SendAudio. Providers that
	// require a different rate resample internally. Default: 16000.
	InputSampleRate int
}

// Capabilities describes static properties of an S2S provider.
type Capabilities struct {
	// InputSampleRate is the native input rate of the remote endpoint.
	InputSampleRate int

	// OutputSampleRate is the rate of audio in EventAudio.
	OutputSampleRate int

	// MaxSessionDuration is the provider-imposed session limit. Zero means no
	// documented limit.
	MaxSessionDuration time.Duration

	// Voices lists the selectable voice names.
	Voices []string
}

// SessionHandle represents an open S2S session. It is an interface so that test
// code can supply mock implementations without a live provider connection.
//
// Callers must call Close when the session is no longer needed.
type SessionHandle interface {
	// SendAudio delivers one chunk of little-endian int16 mono PCM at the
	// configured input rate as a realtime media chunk. Returns
	// [ErrSessionClosed] once the session has ended.
	SendAudio(chunk []byte) error

	// Events returns the ordered stream of remote events. The channel is closed
	// when the session ends; check [SessionHandle.Err] afterwards.
	Events() <-chan Event

	// Err returns the error that ended the session, or nil on a clean close.
	Err() error

	// Interrupt asks the remote side to stop its current response. Providers
	// without client-side interruption return an error.
	Interrupt() error

	// Close terminates the session and closes the Events channel. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any S2S backend.
type Provider interface {
	// Connect establishes a new session. The returned handle is ready to accept
	// audio immediately. The caller owns the handle and must Close it.
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
