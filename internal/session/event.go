package session

import (
	"time"

	"github.com/MrWong99/atlas/pkg/types"
)

// EventKind classifies controller events.
type EventKind int

const (
	// EventState reports a lifecycle transition in State.
	EventState EventKind = iota

	// EventStatus carries a human-readable status notice in Text.
	EventStatus

	// EventError carries an error. Err is set and Text holds its message.
	EventError

	// EventTask carries a detected command in Result.
	EventTask
)

// String returns the lower-case kind name used on the wire.
func (k EventKind) String() string {
	switch k {
	case EventState:
		return "state"
	case EventStatus:
		return "status"
	case EventError:
		return "error"
	case EventTask:
		return "task"
	default:
		return "unknown"
	}
}

// Event is one notification from a [Controller].
type Event struct {
	Kind EventKind
	Time time.Time

	// SessionID identifies the remote session the event belongs to, if any.
	SessionID string

	State  State
	Text   string
	Err    error
	Result types.TranscriptionResult
}
