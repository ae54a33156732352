// Package wakeword defines the Detector interface for wake-word collaborators.
//
// A Detector runs continuous keyword spotting outside the voice session and
// reports when the wake phrase ("Hey Atlas") was heard. Consumers only react
// to [EventDetected]; status and error events are informational.
package wakeword

import (
	"context"
	"strings"
)

// EventType classifies events emitted on [Detector.Events].
type EventType int

const (
	// EventDetected means the wake phrase was heard.
	EventDetected EventType = iota

	// EventStatus carries a human-readable status notice in Text.
	EventStatus

	// EventError carries a non-fatal detector error in Text.
	EventError
)

// String returns the human-readable name of the event type.
func (t EventType) String() string {
	switch t {
	case EventDetected:
		return "DETECTED"
	case EventStatus:
		return "STATUS"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one notification from a Detector.
type Event struct {
	Type EventType
	Text string
}

// Phrases are the wake phrases matched by [ContainsPhrase].
var Phrases = []string{"hey atlas", "hey, atlas", "atlas"}

// ContainsPhrase reports whether text contains one of [Phrases],
// case-insensitively.
func ContainsPhrase(text string) bool {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return false
	}
	for _, p := range Phrases {
		if strings.Contains(text, p) {
			return true
		}
	}
	return false
}

// Detector is the abstraction over any wake-word collaborator.
//
// Implementations must be safe for concurrent use.
type Detector interface {
	// Initialize prepares the detector. It returns false when the detector is
	// unavailable on this host; the reason is reported as an [EventError].
	Initialize(ctx context.Context) bool

	// StartListening enables detection. Calling it while listening is a no-op.
	StartListening() error

	// StopListening disables detection. Calling it while stopped is a no-op.
	StopListening() error

	// Events returns the detector's event stream. The channel is closed by
	// Destroy.
	Events() <-chan Event

	// Destroy stops listening and releases all resources. The detector cannot
	// be reused afterwards.
	Destroy() error
}
