package vosk_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/atlas/pkg/provider/wakeword"
	"github.com/MrWong99/atlas/pkg/provider/wakeword/vosk"
)

// fakeServer accepts websocket connections and forwards every string sent on
// msgs to the current connection. When dropFirst is set the first connection
// is closed right after the handshake.
type fakeServer struct {
	msgs      chan string
	accepts   atomic.Int32
	dropFirst bool
}

func (f *fakeServer) start(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		n := f.accepts.Add(1)
		if f.dropFirst && n == 1 {
			conn.Close(websocket.StatusGoingAway, "restart")
			return
		}
		for {
			select {
			case <-r.Context().Done():
				return
			case m := <-f.msgs:
				if err := conn.Write(r.Context(), websocket.MessageText, []byte(m)); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitFor(t *testing.T, ch <-chan wakeword.Event, typ wakeword.EventType) wakeword.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("events closed while waiting for %v", typ)
			}
			if ev.Type == typ {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v", typ)
		}
	}
}

func TestClient_DetectsWakeword(t *testing.T) {
	t.Parallel()

	f := &fakeServer{msgs: make(chan string, 4)}
	url := f.start(t)

	c := vosk.New(vosk.WithURL(url), vosk.WithCooldown(0))
	t.Cleanup(func() { _ = c.Destroy() })

	if !c.Initialize(context.Background()) {
		t.Fatal("Initialize returned false")
	}
	if err := c.StartListening(); err != nil {
		t.Fatalf("StartListening: %v", err)
	}

	f.msgs <- `{"wakeword": true}`
	waitFor(t, c.Events(), wakeword.EventDetected)

	f.msgs <- `{"text": "hey atlas open youtube"}`
	waitFor(t, c.Events(), wakeword.EventDetected)
}

func TestClient_Reconnects(t *testing.T) {
	t.Parallel()

	f := &fakeServer{msgs: make(chan string, 4), dropFirst: true}
	url := f.start(t)

	c := vosk.New(vosk.WithURL(url), vosk.WithBackoff(10*time.Millisecond, 50*time.Millisecond))
	t.Cleanup(func() { _ = c.Destroy() })

	if !c.Initialize(context.Background()) {
		t.Fatal("Initialize returned false")
	}
	_ = c.StartListening()

	waitFor(t, c.Events(), wakeword.EventError)
	f.msgs <- `{"wakeword": true}`
	waitFor(t, c.Events(), wakeword.EventDetected)

	if n := f.accepts.Load(); n < 2 {
		t.Errorf("accepts = %d, want >= 2", n)
	}
}

func TestClient_InitializeUnreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	c := vosk.New(vosk.WithURL(url))
	if c.Initialize(context.Background()) {
		t.Fatal("Initialize succeeded against a closed server")
	}
	waitFor(t, c.Events(), wakeword.EventError)
	_ = c.Destroy()
}

func TestClient_DestroyIdempotent(t *testing.T) {
	t.Parallel()

	c := vosk.New()
	if err := c.Destroy(); err != nil {
		t.Fatalf("first Destroy: %v", err)
	}
	if err := c.Destroy(); err != nil {
		t.Fatalf("second Destroy: %v", err)
	}
	if _, ok := <-c.Events(); ok {
		t.Fatal("events channel still open after Destroy")
	}
	if err := c.StartListening(); err == nil {
		t.Fatal("StartListening after Destroy returned nil")
	}
	if c.Initialize(context.Background()) {
		t.Fatal("Initialize after Destroy returned true")
	}
}
