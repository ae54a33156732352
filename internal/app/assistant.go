package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/atlas/internal/api"
	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/provider/wakeword"
	"github.com/MrWong99/atlas/pkg/types"
)

// ErrClosed is returned by Assistant methods after Shutdown.
var ErrClosed = errors.New("app: assistant closed")

// DefaultCloseDelay is how long a session stays open after a command
// succeeded.
const DefaultCloseDelay = 1500 * time.Millisecond

// Session is the lifecycle of one assistant session. [session.Controller]
// is the production implementation.
type Session interface {
	Start(ctx context.Context) error
	Stop() error
	Reset(ctx context.Context) error
	Destroy() error
	Snapshot() session.Snapshot
	Events() <-chan session.Event
}

var _ Session = (*session.Controller)(nil)

// SessionFactory builds a fresh session, including its audio devices.
type SessionFactory func(ctx context.Context) (Session, error)

// Executor runs detected tasks.
type Executor interface {
	Execute(ctx context.Context, task types.Task) dispatch.Result
}

// AssistantConfig holds the dependencies of an [Assistant].
type AssistantConfig struct {
	// NewSession builds a session on demand. Required.
	NewSession SessionFactory

	// Executor runs detected tasks. Required.
	Executor Executor

	// Hub receives every session event and dispatch result. Required.
	Hub *api.Hub

	// Detector triggers sessions on the wake phrase. Nil disables wake-word
	// activation; sessions can still be started over the API.
	Detector wakeword.Detector

	// CloseDelay defaults to [DefaultCloseDelay].
	CloseDelay time.Duration

	// AutoListen starts wake-word listening as soon as the detector is ready.
	AutoListen bool

	// AfterFunc schedules the delayed close. Default: time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) (stop func() bool)

	Logger  *slog.Logger
	Metrics *observe.Metrics
}

// Assistant runs the wake word → session → dispatch → close flow. At most one
// session exists at a time. While it does, wake-word listening is paused so
// the detector and the session never compete for the microphone.
//
// All methods are safe for concurrent use.
type Assistant struct {
	cfg AssistantConfig
	log *slog.Logger

	mu      sync.Mutex
	cur     Session
	gen     uint64
	stopTmr func() bool
	closed  bool

	wg sync.WaitGroup
}

var (
	_ api.Controller = (*Assistant)(nil)
	_ api.Dispatcher = (*Assistant)(nil)
)

// NewAssistant validates cfg and returns an idle Assistant.
func NewAssistant(cfg AssistantConfig) (*Assistant, error) {
	var missing []error
	if cfg.NewSession == nil {
		missing = append(missing, errors.New("session factory"))
	}
	if cfg.Executor == nil {
		missing = append(missing, errors.New("executor"))
	}
	if cfg.Hub == nil {
		missing = append(missing, errors.New("hub"))
	}
	if len(missing) > 0 {
		return nil, errors.Join(append([]error{errors.New("app: assistant: missing dependencies")}, missing...)...)
	}
	if cfg.CloseDelay <= 0 {
		cfg.CloseDelay = DefaultCloseDelay
	}
	if cfg.AfterFunc == nil {
		cfg.AfterFunc = func(d time.Duration, f func()) func() bool { return time.AfterFunc(d, f).Stop }
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{cfg: cfg, log: log}, nil
}

// Run consumes wake-word events until ctx is cancelled or the detector's
// event stream ends. Without a usable detector Run just waits for ctx.
func (a *Assistant) Run(ctx context.Context) error {
	det := a.cfg.Detector
	if det == nil {
		<-ctx.Done()
		return nil
	}
	if !det.Initialize(ctx) {
		a.log.Warn("app: wake word detector unavailable, start sessions over the API")
		a.cfg.Hub.Publish(api.Message{Type: api.MessageError, Text: "Wake word detection unavailable"})
		<-ctx.Done()
		return nil
	}
	if a.cfg.AutoListen {
		a.resumeListening()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-det.Events():
			if !ok {
				return nil
			}
			a.onWakeWord(ctx, ev)
		}
	}
}

func (a *Assistant) onWakeWord(ctx context.Context, ev wakeword.Event) {
	switch ev.Type {
	case wakeword.EventDetected:
		a.cfg.Metrics.RecordWakeWord(ctx)
		a.log.Info("app: wake word detected")
		a.cfg.Hub.Publish(api.Message{Type: api.MessageWakeWord, Text: "Wake word detected"})
		if err := a.Start(context.WithoutCancel(ctx)); err != nil {
			a.log.Warn("app: start after wake word", "err", err)
			if cerr := a.Close(); cerr != nil {
				a.log.Warn("app: close failed session", "err", cerr)
			}
		}
	case wakeword.EventStatus:
		a.log.Debug("app: wake word status", "text", ev.Text)
		a.cfg.Hub.Publish(api.Message{Type: api.MessageStatus, Text: ev.Text})
	case wakeword.EventError:
		a.log.Warn("app: wake word error", "text", ev.Text)
		a.cfg.Hub.Publish(api.Message{Type: api.MessageError, Text: ev.Text})
	}
}

// ── Session control ──────────────────────────────────────────────────────────

// Start creates a session when none exists and starts listening on it.
// Wake-word listening is paused first.
func (a *Assistant) Start(ctx context.Context) error {
	sess, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	a.pauseListening()
	return sess.Start(ctx)
}

// Stop stops listening on the current session and resumes wake-word
// listening. The session is kept so it can be restarted or reset.
func (a *Assistant) Stop() error {
	a.mu.Lock()
	a.cancelCloseLocked()
	sess := a.cur
	a.mu.Unlock()
	if sess == nil {
		return nil
	}
	err := sess.Stop()
	a.resumeListening()
	return err
}

// Reset opens a fresh remote session, creating the session first when none
// exists.
func (a *Assistant) Reset(ctx context.Context) error {
	sess, err := a.acquire(ctx)
	if err != nil {
		return err
	}
	return sess.Reset(ctx)
}

// Close destroys the current session, releasing its devices, and resumes
// wake-word listening. It is a no-op without a session.
func (a *Assistant) Close() error {
	a.mu.Lock()
	sess := a.detachLocked()
	a.mu.Unlock()
	return a.destroy(sess)
}

// Snapshot reports the current session, or an uninitialized snapshot while
// idle.
func (a *Assistant) Snapshot() session.Snapshot {
	a.mu.Lock()
	sess := a.cur
	a.mu.Unlock()
	if sess == nil {
		return session.Snapshot{State: session.StateUninitialized}
	}
	return sess.Snapshot()
}

// Dispatch executes task and publishes the result on the event stream.
func (a *Assistant) Dispatch(ctx context.Context, task types.Task) dispatch.Result {
	return a.dispatch(ctx, a.Snapshot().SessionID, task)
}

// Shutdown destroys the current session and the detector. The assistant
// cannot be used afterwards.
func (a *Assistant) Shutdown() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	sess := a.detachLocked()
	a.mu.Unlock()

	errs := []error{a.destroy(sess)}
	a.wg.Wait()
	if a.cfg.Detector != nil {
		errs = append(errs, a.cfg.Detector.Destroy())
	}
	return errors.Join(errs...)
}

// ── Internals ────────────────────────────────────────────────────────────────

func (a *Assistant) acquire(ctx context.Context) (Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil, ErrClosed
	}
	a.cancelCloseLocked()
	if a.cur != nil {
		return a.cur, nil
	}
	sess, err := a.cfg.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	a.gen++
	a.cur = sess
	a.wg.Add(1)
	go a.forward(sess, a.gen)
	return sess, nil
}

// detachLocked removes the current session. a.mu must be held.
func (a *Assistant) detachLocked() Session {
	a.cancelCloseLocked()
	sess := a.cur
	a.cur = nil
	a.gen++
	return sess
}

func (a *Assistant) destroy(sess Session) error {
	if sess == nil {
		return nil
	}
	err := sess.Destroy()
	a.mu.Lock()
	closed := a.closed
	a.mu.Unlock()
	if !closed {
		a.resumeListening()
	}
	return err
}

func (a *Assistant) cancelCloseLocked() {
	if a.stopTmr != nil {
		a.stopTmr()
		a.stopTmr = nil
	}
}

// forward relays one session's events until Destroy closes the stream.
func (a *Assistant) forward(sess Session, gen uint64) {
	defer a.wg.Done()
	for ev := range sess.Events() {
		a.cfg.Hub.Publish(api.FromEvent(ev))
		if ev.Kind != session.EventTask || ev.Result.Task.Kind == types.KindNone {
			continue
		}
		res := a.dispatch(context.Background(), ev.SessionID, ev.Result.Task)
		if res.Success {
			a.scheduleClose(gen)
		}
	}
}

func (a *Assistant) dispatch(ctx context.Context, sessionID string, task types.Task) dispatch.Result {
	res := a.cfg.Executor.Execute(ctx, task)
	a.cfg.Hub.Publish(api.ResultMessage(sessionID, task, res))
	return res
}

// scheduleClose arms the delayed close of session generation gen. A later
// command re-arms it; a newer session cancels it.
func (a *Assistant) scheduleClose(gen uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.gen != gen || a.cur == nil {
		return
	}
	a.cancelCloseLocked()
	a.stopTmr = a.cfg.AfterFunc(a.cfg.CloseDelay, func() {
		a.mu.Lock()
		if a.gen != gen {
			a.mu.Unlock()
			return
		}
		a.stopTmr = nil
		sess := a.detachLocked()
		a.mu.Unlock()
		a.log.Info("app: closing session after command")
		if err := a.destroy(sess); err != nil {
			a.log.Warn("app: close session", "err", err)
		}
	})
}

func (a *Assistant) pauseListening() {
	if a.cfg.Detector == nil {
		return
	}
	if err := a.cfg.Detector.StopListening(); err != nil {
		a.log.Warn("app: pause wake word", "err", err)
	}
}

func (a *Assistant) resumeListening() {
	if a.cfg.Detector == nil {
		return
	}
	if err := a.cfg.Detector.StartListening(); err != nil {
		a.log.Warn("app: resume wake word", "err", err)
	}
}
