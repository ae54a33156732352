package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/pkg/audio"
	"github.com/MrWong99/atlas/pkg/provider/s2s"
	"github.com/MrWong99/atlas/pkg/types"
)

// ErrErrored is returned by Start while the session is errored. Only Reset
// recovers from that state.
var ErrErrored = errors.New("session: errored, reset required")

const defaultEventBuffer = 64

// Sampler is the command-detection consumer of the shared microphone stream.
type Sampler interface {
	// Start subscribes to s and begins windowed capture.
	Start(s *audio.Stream) error

	// Stop ends windowed capture and releases the stream subscription. An
	// in-flight window is discarded.
	Stop() error

	// Tasks delivers every detected command. It is closed by Close.
	Tasks() <-chan types.TranscriptionResult

	// Close stops the sampler permanently.
	Close() error
}

// Config holds the dependencies of a [Controller].
type Config struct {
	// Capturer opens microphone captures. Required.
	Capturer audio.Capturer

	// Capture configures each capture. Zero values select the defaults.
	Capture audio.CaptureConfig

	// Player renders remote speech. Required.
	Player audio.Player

	// Provider opens remote speech-to-speech sessions. Required.
	Provider s2s.Provider

	// Session configures each remote session.
	Session s2s.SessionConfig

	// Sampler runs command detection on the shared stream. Required.
	Sampler Sampler

	// FrameSize is the PCM frame capacity in samples. Default: 256.
	FrameSize int

	// EventBuffer sizes the Events channel. Default: 64.
	EventBuffer int

	// SendQueue bounds the frames waiting for the network on the duplex
	// path. Default: 16.
	SendQueue int

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics may be nil.
	Metrics *observe.Metrics
}

// Snapshot is a point-in-time view of a Controller.
type Snapshot struct {
	State       State
	SessionID   string
	CaptureMode string
	Since       time.Time
	Segments    int
}

// Controller owns the start/stop/reset/destroy lifecycle of one assistant
// session and every resource it touches: the microphone stream, the frame
// producer feeding the duplex path, the command sampler, the remote session
// and the output device.
//
// Lifecycle methods are serialised. All methods are safe for concurrent use.
type Controller struct {
	log      *slog.Logger
	metrics  *observe.Metrics
	capturer audio.Capturer
	player   audio.Player
	capCfg   audio.CaptureConfig
	sampler  Sampler
	sched    *Scheduler
	duplex   *Duplex
	producer *audio.Producer

	opMu      sync.Mutex // serialises lifecycle operations
	stream    *audio.Stream
	destroyed bool

	stateMu   sync.Mutex
	state     State
	since     time.Time
	sessionID string
	mode      string // capture mode while a stream is held

	evMu     sync.Mutex
	events   chan Event
	evClosed bool

	wg sync.WaitGroup
}

// New creates a Controller in [StateUninitialized]. No device or network
// resource is opened until Start or Reset.
func New(cfg Config) (*Controller, error) {
	var missing []error
	if cfg.Capturer == nil {
		missing = append(missing, errors.New("capturer"))
	}
	if cfg.Player == nil {
		missing = append(missing, errors.New("player"))
	}
	if cfg.Provider == nil {
		missing = append(missing, errors.New("provider"))
	}
	if cfg.Sampler == nil {
		missing = append(missing, errors.New("sampler"))
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("session: missing dependencies: %w", errors.Join(missing...))
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = audio.CaptureSampleRate
	}
	frameSize := cfg.FrameSize
	if frameSize <= 0 {
		frameSize = audio.DefaultFrameSize
	}
	if cfg.Capture.PeriodFrames <= 0 {
		cfg.Capture.PeriodFrames = frameSize
	}
	cfg.Session.InputSampleRate = cfg.Capture.SampleRate

	c := &Controller{
		log:      log,
		metrics:  cfg.Metrics,
		capturer: cfg.Capturer,
		player:   cfg.Player,
		capCfg:   cfg.Capture,
		sampler:  cfg.Sampler,
		events:   make(chan Event, buf),
		state:    StateUninitialized,
		since:    time.Now(),
	}
	c.sched = NewScheduler(cfg.Player, cfg.Metrics)
	c.duplex = NewDuplex(DuplexConfig{
		Provider:  cfg.Provider,
		Session:   cfg.Session,
		Scheduler: c.sched,
		Notify:    c.publish,
		OnLost:    c.onLost,
		Logger:    log,
		Metrics:   cfg.Metrics,
		QueueSize: cfg.SendQueue,
	})
	c.producer = audio.NewProducer(c.sendFrame,
		audio.WithFrameSize(frameSize),
		audio.WithSampleRate(cfg.Capture.SampleRate),
	)

	c.wg.Add(1)
	go c.forwardTasks()
	return c, nil
}

// ── Lifecycle ────────────────────────────────────────────────────────────────

// Start opens the remote session if needed, acquires the microphone and wires
// it into both the duplex path and the sampler. It is a no-op while already
// listening. A microphone failure is returned and reported as an error event;
// the remote session is closed again and the controller is left in
// [StateErrored] until Reset.
func (c *Controller) Start(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}

	switch c.State() {
	case StateListening:
		return nil
	case StateErrored:
		return ErrErrored
	}

	if !c.duplex.Connected() {
		if err := c.connect(ctx); err != nil {
			return err
		}
	}

	c.status("Requesting microphone access...")
	stream, err := audio.OpenStream(ctx, c.capturer, c.capCfg)
	if err != nil {
		c.abortStart(err)
		return fmt.Errorf("session: start: %w", err)
	}
	if err := c.producer.Connect(stream); err != nil {
		_ = stream.Close()
		c.abortStart(err)
		return fmt.Errorf("session: start: connect producer: %w", err)
	}
	if err := c.sampler.Start(stream); err != nil {
		c.producer.Disconnect()
		_ = stream.Close()
		c.abortStart(err)
		return fmt.Errorf("session: start: start sampler: %w", err)
	}
	c.stream = stream
	c.stateMu.Lock()
	c.mode = stream.Mode().String()
	c.stateMu.Unlock()

	if err := c.setState(StateListening); err != nil {
		// The remote session dropped while capture was being wired; keep the
		// capture so Stop or Reset can release it.
		return fmt.Errorf("session: start: %w", err)
	}
	c.log.Info("session: listening", "session_id", c.SessionID(), "capture_mode", stream.Mode())
	c.status("Listening...")
	return nil
}

// Stop tears down the sampler, the producer, the capture tracks and the remote
// session, then reports [StateDisconnected]. It is a no-op when no capture is
// held. Every release is attempted even when an earlier one fails; all
// failures are joined in the returned error.
func (c *Controller) Stop() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}
	return c.stopLocked()
}

// Reset stops any capture, closes the remote session and establishes a fresh
// one. Capture is not restarted. Reset is the only way out of
// [StateErrored].
func (c *Controller) Reset(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.destroyed {
		return ErrDestroyed
	}

	errs := []error{c.stopLocked()}
	errs = append(errs, c.closeRemoteLocked())
	if err := c.connect(ctx); err != nil {
		errs = append(errs, err)
		return errors.Join(errs...)
	}
	c.status("Session reset")
	return errors.Join(errs...)
}

// Destroy stops the session and releases the input and output audio devices.
// The controller cannot be used afterwards; Events is closed. Destroy is
// idempotent.
func (c *Controller) Destroy() error {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	if c.destroyed {
		return nil
	}

	errs := []error{c.stopLocked()}
	errs = append(errs, c.closeRemoteLocked())
	c.release(&errs, "sampler", c.sampler.Close)
	c.release(&errs, "input device", c.capturer.Close)
	c.release(&errs, "output device", c.player.Close)
	c.destroyed = true

	c.wg.Wait()
	c.evMu.Lock()
	c.evClosed = true
	close(c.events)
	c.evMu.Unlock()

	c.log.Info("session: destroyed")
	return errors.Join(errs...)
}

// stopLocked performs the five releases of Stop. c.opMu must be held.
func (c *Controller) stopLocked() error {
	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil
	c.stateMu.Lock()
	c.mode = ""
	c.stateMu.Unlock()

	var errs []error
	c.release(&errs, "state", func() error { return c.setState(StateDisconnecting) })
	c.status("Disconnecting...")

	c.release(&errs, "sampler", c.sampler.Stop)
	c.release(&errs, "producer", func() error {
		c.producer.Disconnect()
		return nil
	})
	c.release(&errs, "tracks", func() error {
		err := stream.Stop()
		if errors.Is(err, audio.ErrStreamInUse) {
			// A consumer kept its subscription; the microphone goes off anyway.
			return errors.Join(err, stream.Close())
		}
		return err
	})
	c.release(&errs, "remote session", c.duplex.Close)
	c.release(&errs, "state", c.toDisconnected)

	c.status("Disconnected")
	if err := errors.Join(errs...); err != nil {
		c.log.Warn("session: stop completed with errors", "err", err)
		return err
	}
	c.log.Info("session: stopped")
	return nil
}

// abortStart undoes a Start whose capture could not be wired: the remote
// session opened for it is closed and the state parks in errored. c.opMu must
// be held.
func (c *Controller) abortStart(err error) {
	c.fail(err)
	var errs []error
	c.release(&errs, "remote session", c.duplex.Close)
	c.release(&errs, "state", func() error { return c.setState(StateErrored) })
	if err := errors.Join(errs...); err != nil {
		c.log.Warn("session: abort start", "err", err)
	}
}

// closeRemoteLocked closes a remote session left open without a capture and
// moves the state to disconnected. c.opMu must be held.
func (c *Controller) closeRemoteLocked() error {
	var errs []error
	if c.duplex.Connected() {
		if c.State().CanTransition(StateDisconnecting) {
			c.release(&errs, "state", func() error { return c.setState(StateDisconnecting) })
		}
		c.release(&errs, "remote session", c.duplex.Close)
	}
	c.release(&errs, "state", c.toDisconnected)
	return errors.Join(errs...)
}

// toDisconnected moves the state machine to disconnected along a permitted
// path from wherever it currently is.
func (c *Controller) toDisconnected() error {
	switch c.State() {
	case StateDisconnected:
		return nil
	case StateConnected, StateListening, StateErrored:
		if err := c.setState(StateDisconnecting); err != nil {
			return err
		}
	}
	return c.setState(StateDisconnected)
}

// connect opens a fresh remote session. c.opMu must be held.
func (c *Controller) connect(ctx context.Context) error {
	c.stateMu.Lock()
	c.sessionID = uuid.NewString()
	c.stateMu.Unlock()

	if err := c.setState(StateConnecting); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	if err := c.duplex.Open(ctx); err != nil {
		_ = c.setState(StateErrored)
		c.publish(Event{Kind: EventError, Err: err, Text: "Failed to connect to the voice service"})
		return err
	}
	if err := c.setState(StateConnected); err != nil {
		return fmt.Errorf("session: connect: %w", err)
	}
	c.status("Connected")
	return nil
}

// release runs one teardown step, converting a panic into an error so later
// steps still run.
func (c *Controller) release(errs *[]error, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			*errs = append(*errs, fmt.Errorf("session: release %s: panic: %v", name, r))
		}
	}()
	if err := fn(); err != nil {
		*errs = append(*errs, fmt.Errorf("session: release %s: %w", name, err))
	}
}

// ── Callbacks ────────────────────────────────────────────────────────────────

// sendFrame runs on the capture goroutine for every completed frame. It only
// enqueues; the network write happens on the duplex sender.
func (c *Controller) sendFrame(f audio.Frame) {
	if !c.State().Active() {
		c.metrics.RecordFrameDropped(context.Background(), "not_connected")
		return
	}
	c.duplex.SendFrame(f)
}

// onLost is called by the duplex receive loop when the remote side ended the
// session. Capture and the sampler keep running until Stop or Reset.
func (c *Controller) onLost(err error) {
	switch c.State() {
	case StateConnecting, StateConnected, StateListening:
		_ = c.setState(StateErrored)
	}
	text := "Connection closed"
	if err != nil {
		text = "Connection closed: " + err.Error()
	}
	c.publish(Event{Kind: EventError, Err: err, Text: text})
}

func (c *Controller) forwardTasks() {
	defer c.wg.Done()
	for res := range c.sampler.Tasks() {
		c.publish(Event{Kind: EventTask, Result: res})
	}
}

// ── State & events ───────────────────────────────────────────────────────────

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// SessionID returns the identifier of the most recent remote session.
func (c *Controller) SessionID() string {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.sessionID
}

// Snapshot returns a consistent view of the controller.
func (c *Controller) Snapshot() Snapshot {
	c.stateMu.Lock()
	s := Snapshot{State: c.state, SessionID: c.sessionID, Since: c.since, CaptureMode: c.mode}
	c.stateMu.Unlock()
	s.Segments = c.sched.Live()
	return s
}

// Events returns the controller's event stream. Events are dropped with a
// warning when the consumer falls behind. The channel is closed by Destroy.
func (c *Controller) Events() <-chan Event { return c.events }

func (c *Controller) setState(next State) error {
	c.stateMu.Lock()
	prev := c.state
	if prev == next {
		c.stateMu.Unlock()
		return nil
	}
	if !prev.CanTransition(next) {
		c.stateMu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prev, next)
	}
	c.state = next
	c.since = time.Now()
	id := c.sessionID
	c.stateMu.Unlock()

	c.metrics.RecordTransition(context.Background(), prev.String(), next.String())
	c.log.Debug("session: state", "from", prev, "to", next, "session_id", id)
	c.publish(Event{Kind: EventState, State: next})
	return nil
}

func (c *Controller) status(text string) {
	c.publish(Event{Kind: EventStatus, Text: text})
}

func (c *Controller) fail(err error) {
	c.log.Warn("session: start failed", "err", err)
	c.publish(Event{Kind: EventError, Err: err, Text: "Error: " + err.Error()})
}

func (c *Controller) publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.SessionID == "" {
		ev.SessionID = c.SessionID()
	}
	if ev.Kind == EventState {
		ev.Text = ev.State.String()
	}

	c.evMu.Lock()
	defer c.evMu.Unlock()
	if c.evClosed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.log.Warn("session: event dropped", "kind", ev.Kind)
	}
}
