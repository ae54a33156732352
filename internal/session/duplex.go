package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
)

// DuplexConfig holds the dependencies of a [Duplex].
type DuplexConfig struct {
	// Provider opens remote sessions. Required.
	Provider s2s.Provider

	// Session is sent once when each remote session is established.
	Session s2s.SessionConfig

	// Scheduler plays incoming audio. Required.
	Scheduler *Scheduler

	// Notify receives status and non-fatal error events. May be nil.
	Notify func(Event)

	// OnLost is called once when the remote side ends a session that Close
	// did not end. err is the session's terminal error, or nil for a clean
	// remote close. May be nil.
	OnLost func(err error)

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observe.Metrics

	// QueueSize bounds the frames waiting for the network. Frames arriving
	// while the queue is full are dropped. Default: 16.
	QueueSize int
}

const defaultQueueSize = 16

// Duplex owns at most one remote speech-to-speech session at a time. It
// forwards microphone frames to the remote model and schedules the audio it
// returns. Frames sent while no session is open are dropped, not queued.
//
// Network writes happen on a per-session sender goroutine. [Duplex.SendFrame]
// only enqueues, so a stalled connection never blocks the capture callback.
//
// All methods are safe for concurrent use.
type Duplex struct {
	cfg DuplexConfig
	log *slog.Logger

	mu     sync.Mutex
	handle s2s.SessionHandle
	frames chan audio.Frame
	stop   chan struct{} // closed to end the sender
	gen    uint64        // incremented per Open; lets a stale loop detect Close
	done   chan struct{} // receive loop exit
	sent   chan struct{} // sender exit
}

// NewDuplex creates a Duplex. No session is opened until [Duplex.Open].
func NewDuplex(cfg DuplexConfig) *Duplex {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.Session.InputSampleRate <= 0 {
		cfg.Session.InputSampleRate = audio.CaptureSampleRate
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Duplex{cfg: cfg, log: log}
}

// Open establishes a fresh remote session. It is a no-op when a session is
// already open. A connection failure leaves the Duplex closed.
func (d *Duplex) Open(ctx context.Context) error {
	d.mu.Lock()
	if d.handle != nil {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	h, err := d.cfg.Provider.Connect(ctx, d.cfg.Session)
	if err != nil {
		return fmt.Errorf("session: open duplex: %w", err)
	}

	d.mu.Lock()
	if d.handle != nil {
		// Lost a race with a concurrent Open.
		d.mu.Unlock()
		_ = h.Close()
		return nil
	}
	d.gen++
	gen := d.gen
	done := make(chan struct{})
	frames := make(chan audio.Frame, d.cfg.QueueSize)
	stop := make(chan struct{})
	sent := make(chan struct{})
	d.handle = h
	d.frames = frames
	d.stop = stop
	d.done = done
	d.sent = sent
	d.mu.Unlock()

	d.cfg.Metrics.SessionOpened(context.Background())
	go d.sendLoop(h, frames, stop, sent)
	go d.receiveLoop(h, gen, done)
	return nil
}

// Connected reports whether a remote session is open.
func (d *Duplex) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handle != nil
}

// SendFrame queues one frame for the remote session as a realtime PCM16
// chunk. It never blocks: the frame is dropped when no session is open or the
// send queue is full.
func (d *Duplex) SendFrame(f audio.Frame) {
	d.mu.Lock()
	frames := d.frames
	d.mu.Unlock()

	if frames == nil {
		d.cfg.Metrics.RecordFrameDropped(context.Background(), "not_connected")
		return
	}
	select {
	case frames <- f:
	default:
		d.cfg.Metrics.RecordFrameDropped(context.Background(), "queue_full")
		d.log.Debug("duplex: send queue full, frame dropped", "seq", f.Seq)
	}
}

// Close ends the remote session and waits for its sender and receive loop to
// exit. Closing the handle cancels a network write in progress. Subsequent
// SendFrame calls are no-ops until Open is called again. Close is idempotent.
func (d *Duplex) Close() error {
	d.mu.Lock()
	h := d.handle
	done, stop, sent := d.done, d.stop, d.sent
	d.detachLocked()
	d.mu.Unlock()

	if h == nil {
		return nil
	}
	close(stop)
	err := h.Close()
	<-sent
	<-done
	d.cfg.Metrics.SessionClosed(context.Background())
	if err != nil {
		return fmt.Errorf("session: close duplex: %w", err)
	}
	return nil
}

// detachLocked forgets the current session. d.mu must be held.
func (d *Duplex) detachLocked() {
	d.handle = nil
	d.frames = nil
	d.stop = nil
	d.done = nil
	d.sent = nil
	d.gen++
}

// sendLoop writes queued frames to h until stop is closed.
func (d *Duplex) sendLoop(h s2s.SessionHandle, frames <-chan audio.Frame, stop <-chan struct{}, sent chan struct{}) {
	defer close(sent)

	ctx := context.Background()
	for {
		select {
		case <-stop:
			return
		case f := <-frames:
			if err := h.SendAudio(audio.Float32ToPCM16(f.Samples)); err != nil {
				d.cfg.Metrics.RecordFrameDropped(ctx, "send_error")
				d.log.Debug("duplex: send frame failed", "seq", f.Seq, "err", err)
				continue
			}
			d.cfg.Metrics.RecordFrameSent(ctx)
		}
	}
}

// receiveLoop handles every remote event in receipt order until the session's
// event channel closes.
func (d *Duplex) receiveLoop(h s2s.SessionHandle, gen uint64, done chan struct{}) {
	defer close(done)

	for ev := range h.Events() {
		switch ev.Type {
		case s2s.EventAudio:
			if _, err := d.cfg.Scheduler.Schedule(ev.Audio, ev.SampleRate); err != nil {
				d.log.Warn("duplex: drop audio chunk", "err", err)
			}
		case s2s.EventInterrupted:
			d.onInterrupted()
		case s2s.EventTurnComplete:
			d.log.Debug("duplex: turn complete")
		case s2s.EventStatus:
			d.notify(Event{Kind: EventStatus, Text: ev.Text})
		case s2s.EventError:
			d.log.Warn("duplex: remote error", "err", ev.Err)
			d.notify(Event{Kind: EventError, Err: ev.Err, Text: errText(ev.Err)})
		}
	}

	d.mu.Lock()
	stale := d.gen != gen
	stop, sent := d.stop, d.sent
	if !stale {
		d.detachLocked()
	}
	d.mu.Unlock()
	if stale {
		// Closed locally.
		return
	}

	d.cfg.Metrics.SessionClosed(context.Background())
	err := h.Err()
	d.log.Warn("duplex: remote session ended", "err", err)
	close(stop)
	_ = h.Close()
	<-sent
	if d.cfg.OnLost != nil {
		d.cfg.OnLost(err)
	}
}

func (d *Duplex) onInterrupted() {
	n := d.cfg.Scheduler.Interrupt()
	d.cfg.Metrics.RecordInterruption(context.Background())
	d.log.Debug("duplex: interrupted", "segments_stopped", n)
}

func (d *Duplex) notify(ev Event) {
	if d.cfg.Notify != nil {
		d.cfg.Notify(ev)
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
