package api

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/types"
)

func TestHub_FanOut(t *testing.T) {
	t.Parallel()
	h := NewHub(4, nil)
	a, cancelA := h.Subscribe()
	b, cancelB := h.Subscribe()
	defer cancelA()
	defer cancelB()

	sent := h.Publish(Message{Type: MessageStatus, Text: "Listening..."})
	if sent.ID == "" || sent.Time.IsZero() {
		t.Fatalf("Publish did not stamp message: %+v", sent)
	}
	for name, ch := range map[string]<-chan Message{"a": a, "b": b} {
		select {
		case got := <-ch:
			if got.ID != sent.ID || got.Text != "Listening..." {
				t.Errorf("%s got %+v", name, got)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s: no message", name)
		}
	}
}

func TestHub_SlowClientDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	h := NewHub(1, nil)
	ch, cancel := h.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.Publish(Message{Type: MessageStatus})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(ch) != 1 {
		t.Errorf("queued = %d, want 1", len(ch))
	}
}

func TestHub_CancelAndClose(t *testing.T) {
	t.Parallel()
	h := NewHub(0, nil)
	ch, cancel := h.Subscribe()
	cancel()
	cancel()
	if _, ok := <-ch; ok {
		t.Error("channel open after cancel")
	}
	if h.Len() != 0 {
		t.Errorf("Len = %d after cancel", h.Len())
	}

	other, _ := h.Subscribe()
	h.Close()
	h.Close()
	if _, ok := <-other; ok {
		t.Error("channel open after Close")
	}
	late, _ := h.Subscribe()
	if _, ok := <-late; ok {
		t.Error("subscribe after Close returned an open channel")
	}
	h.Publish(Message{Type: MessageStatus})
}

func TestFromEvent(t *testing.T) {
	t.Parallel()
	now := time.Now()
	res := types.TranscriptionResult{
		Transcription: "open netflix",
		Task:          types.Task{Kind: types.KindOpenApp, Payload: types.Payload{"name": "netflix"}},
	}
	tests := []struct {
		name string
		ev   session.Event
		want Message
	}{
		{
			name: "state",
			ev:   session.Event{Kind: session.EventState, State: session.StateListening, Text: "listening", Time: now, SessionID: "s"},
			want: Message{Type: "state", State: "listening", Text: "listening", Time: now, SessionID: "s"},
		},
		{
			name: "error",
			ev:   session.Event{Kind: session.EventError, Err: errors.New("boom"), Text: "Error: boom", Time: now},
			want: Message{Type: "error", Text: "Error: boom", Time: now},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FromEvent(tt.ev); got != tt.want {
				t.Errorf("FromEvent = %+v, want %+v", got, tt.want)
			}
		})
	}

	m := FromEvent(session.Event{Kind: session.EventTask, Result: res, Time: now})
	if m.Type != MessageTask || m.Task == nil || m.Task.Task.Kind != types.KindOpenApp {
		t.Fatalf("task message = %+v", m)
	}
	if m.Text != "open netflix" {
		t.Errorf("Text = %q, want transcription", m.Text)
	}
}
