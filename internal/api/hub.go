package api

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/types"
)

// Message types carried on the event stream.
const (
	MessageState    = "state"
	MessageStatus   = "status"
	MessageError    = "error"
	MessageTask     = "task"
	MessageResult   = "result"
	MessageWakeWord = "wakeword"
)

const defaultHubBuffer = 32

// Message is one JSON frame on the /v1/events stream.
type Message struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Time      time.Time `json:"time"`
	SessionID string    `json:"session_id,omitempty"`
	State     string    `json:"state,omitempty"`
	Text      string    `json:"text,omitempty"`

	// Task is set on task messages.
	Task *types.TranscriptionResult `json:"task,omitempty"`

	// Result is set on result messages.
	Result *dispatch.Result `json:"result,omitempty"`
}

// FromEvent converts a controller event into a stream message.
func FromEvent(ev session.Event) Message {
	m := Message{
		Type:      ev.Kind.String(),
		Time:      ev.Time,
		SessionID: ev.SessionID,
		Text:      ev.Text,
	}
	switch ev.Kind {
	case session.EventState:
		m.State = ev.State.String()
	case session.EventTask:
		res := ev.Result
		m.Task = &res
		if m.Text == "" {
			m.Text = res.Transcription
		}
	}
	return m
}

// ResultMessage builds the message that reports a dispatch outcome.
func ResultMessage(sessionID string, task types.Task, res dispatch.Result) Message {
	return Message{
		Type:      MessageResult,
		SessionID: sessionID,
		Text:      task.String(),
		Result:    &res,
	}
}

// Hub fans messages out to every connected event-stream client. A client that
// falls behind loses messages instead of stalling the publisher.
type Hub struct {
	log *slog.Logger
	buf int

	mu     sync.Mutex
	subs   map[chan Message]struct{}
	closed bool
}

// NewHub returns a Hub whose per-client queue holds buffer messages. A
// non-positive buffer selects the default of 32.
func NewHub(buffer int, log *slog.Logger) *Hub {
	if buffer <= 0 {
		buffer = defaultHubBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Hub{log: log, buf: buffer, subs: make(map[chan Message]struct{})}
}

// Subscribe registers a client. The returned cancel func unregisters it and
// closes the channel; it is safe to call more than once. Subscribing to a
// closed hub yields an already-closed channel.
func (h *Hub) Subscribe() (<-chan Message, func()) {
	ch := make(chan Message, h.buf)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
	}
}

// Publish stamps m with an ID and time when missing and delivers it to every
// subscriber. The stamped message is returned.
func (h *Hub) Publish(m Message) Message {
	m = h.stamp(m)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return m
	}
	for ch := range h.subs {
		select {
		case ch <- m:
		default:
			h.log.Warn("api: event dropped for slow client", "type", m.Type)
		}
	}
	return m
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close disconnects every subscriber. Later publishes are discarded.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}

func (h *Hub) stamp(m Message) Message {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
	return m
}
