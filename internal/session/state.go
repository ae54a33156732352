// Package session owns the live voice conversation: the duplex connection to
// the remote speech-to-speech model, gapless playback of its replies, and the
// lifecycle that wires microphone capture into both the duplex path and the
// command sampler.
//
// The [Controller] is the single owner of every resource involved. It is the
// only component that mutates the session [State]; everything else observes
// state through [Controller.State] or the [Event] stream.
package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotListening is returned by operations that need an active capture.
	ErrNotListening = errors.New("session: not listening")

	// ErrDestroyed is returned by every Controller method after Destroy.
	ErrDestroyed = errors.New("session: controller destroyed")

	// ErrInvalidTransition is returned when a state change is not permitted by
	// the lifecycle.
	ErrInvalidTransition = errors.New("session: invalid state transition")
)

// State is the lifecycle state of a session.
type State int

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateListening
	StateDisconnecting
	StateDisconnected
	StateErrored
)

// String returns the lower-case state name used in logs and on the wire.
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateListening:
		return "listening"
	case StateDisconnecting:
		return "disconnecting"
	case StateDisconnected:
		return "disconnected"
	case StateErrored:
		return "errored"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// transitions lists the permitted successors of every state.
var transitions = map[State][]State{
	StateUninitialized: {StateConnecting, StateDisconnected},
	StateConnecting:    {StateConnected, StateErrored, StateDisconnected},
	StateConnected:     {StateListening, StateDisconnecting, StateErrored},
	StateListening:     {StateDisconnecting, StateErrored},
	StateDisconnecting: {StateDisconnected},
	StateDisconnected:  {StateConnecting},
	StateErrored:       {StateDisconnecting, StateConnecting},
}

// CanTransition reports whether the lifecycle permits moving from s to next.
func (s State) CanTransition(next State) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Active reports whether outgoing audio is accepted in this state.
func (s State) Active() bool {
	return s == StateConnected || s == StateListening
}
