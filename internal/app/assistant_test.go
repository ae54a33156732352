package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/atlas/internal/api"
	"github.com/MrWong99/atlas/internal/app"
	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/session"
	wakemock "github.com/MrWong99/atlas/pkg/provider/wakeword/mock"
	"github.com/MrWong99/atlas/pkg/types"
)

// ── Doubles ──────────────────────────────────────────────────────────────────

type fakeSession struct {
	mu       sync.Mutex
	events   chan session.Event
	state    session.State
	startErr error
	starts   int
	stops    int
	resets   int
	destroys int
	once     sync.Once
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan session.Event, 16)}
}

func (s *fakeSession) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	if s.startErr != nil {
		return s.startErr
	}
	s.state = session.StateListening
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.state = session.StateDisconnected
	return nil
}

func (s *fakeSession) Reset(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	s.state = session.StateConnected
	return nil
}

func (s *fakeSession) Destroy() error {
	s.mu.Lock()
	s.destroys++
	s.mu.Unlock()
	s.once.Do(func() { close(s.events) })
	return nil
}

func (s *fakeSession) Snapshot() session.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return session.Snapshot{State: s.state, SessionID: "sess-1"}
}

func (s *fakeSession) Events() <-chan session.Event { return s.events }

func (s *fakeSession) destroyed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.destroys
}

func (s *fakeSession) task(kind types.Kind, kv ...string) {
	p := types.Payload{}
	for i := 0; i+1 < len(kv); i += 2 {
		p[kv[i]] = kv[i+1]
	}
	s.events <- session.Event{
		Kind:      session.EventTask,
		SessionID: "sess-1",
		Result:    types.TranscriptionResult{Transcription: "test", Task: types.Task{Kind: kind, Payload: p}},
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	tasks []types.Task
	fail  bool
}

func (e *fakeExecutor) Execute(_ context.Context, t types.Task) dispatch.Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	if e.fail {
		return dispatch.Result{Message: "nope"}
	}
	return dispatch.Result{Success: true, Message: "done"}
}

func (e *fakeExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

// manualTimer records AfterFunc requests and runs them on fire.
type manualTimer struct {
	mu      sync.Mutex
	delays  []time.Duration
	pending map[int]func()
}

func (m *manualTimer) after(d time.Duration, f func()) func() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending == nil {
		m.pending = make(map[int]func())
	}
	id := len(m.delays)
	m.delays = append(m.delays, d)
	m.pending[id] = f
	return func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		_, ok := m.pending[id]
		delete(m.pending, id)
		return ok
	}
}

func (m *manualTimer) armed() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *manualTimer) fire() {
	m.mu.Lock()
	fns := make([]func(), 0, len(m.pending))
	for id, f := range m.pending {
		fns = append(fns, f)
		delete(m.pending, id)
	}
	m.mu.Unlock()
	for _, f := range fns {
		f()
	}
}

type assistantFixture struct {
	a        *app.Assistant
	det      *wakemock.Detector
	exec     *fakeExecutor
	timer    *manualTimer
	hub      *api.Hub
	msgs     <-chan api.Message
	mu       sync.Mutex
	sessions []*fakeSession
	startErr error
}

func newAssistantFixture(t *testing.T) *assistantFixture {
	t.Helper()
	f := &assistantFixture{
		det:   wakemock.New(),
		exec:  &fakeExecutor{},
		timer: &manualTimer{},
		hub:   api.NewHub(64, nil),
	}
	msgs, cancel := f.hub.Subscribe()
	f.msgs = msgs
	a, err := app.NewAssistant(app.AssistantConfig{
		NewSession: func(context.Context) (app.Session, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			s := newFakeSession()
			s.startErr = f.startErr
			f.sessions = append(f.sessions, s)
			return s, nil
		},
		Executor:   f.exec,
		Hub:        f.hub,
		Detector:   f.det,
		CloseDelay: 1500 * time.Millisecond,
		AutoListen: true,
		AfterFunc:  f.timer.after,
	})
	if err != nil {
		t.Fatalf("NewAssistant: %v", err)
	}
	f.a = a
	t.Cleanup(func() {
		_ = a.Shutdown()
		cancel()
	})
	return f
}

func (f *assistantFixture) session(t *testing.T, i int) *fakeSession {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sessions) <= i {
		t.Fatalf("only %d sessions created, want index %d", len(f.sessions), i)
	}
	return f.sessions[i]
}

func (f *assistantFixture) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// run starts the wake-word loop and waits until the detector listens.
func (f *assistantFixture) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.a.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	eventually(t, "detector listening", f.det.Listening)
}

// waitFor returns the first hub message of the given type.
func (f *assistantFixture) waitFor(t *testing.T, typ string) api.Message {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case m := <-f.msgs:
			if m.Type == typ {
				return m
			}
		case <-timeout:
			t.Fatalf("no %q message", typ)
		}
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ── Tests ────────────────────────────────────────────────────────────────────

func TestNewAssistant_MissingDependencies(t *testing.T) {
	t.Parallel()
	if _, err := app.NewAssistant(app.AssistantConfig{}); err == nil {
		t.Fatal("NewAssistant with no dependencies succeeded")
	}
}

func TestAssistant_WakeWordStartsSession(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)
	f.run(t)

	if !f.det.Trigger() {
		t.Fatal("detector not listening")
	}
	f.waitFor(t, api.MessageWakeWord)
	eventually(t, "session started", func() bool {
		return f.created() == 1 && f.a.Snapshot().State == session.StateListening
	})
	if f.det.Listening() {
		t.Error("wake word still listening during a session")
	}
}

func TestAssistant_SuccessfulTaskClosesAfterDelay(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)
	f.run(t)

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.session(t, 0)
	sess.task(types.KindOpenApp, "name", "netflix")

	task := f.waitFor(t, api.MessageTask)
	if task.Task == nil || task.Task.Task.Payload.Get(types.KeyName) != "netflix" {
		t.Errorf("task message = %+v", task)
	}
	res := f.waitFor(t, api.MessageResult)
	if res.Result == nil || !res.Result.Success || res.SessionID != "sess-1" {
		t.Errorf("result message = %+v", res)
	}
	eventually(t, "close armed", func() bool { return f.timer.armed() == 1 })
	if f.timer.delays[0] != 1500*time.Millisecond {
		t.Errorf("close delay = %v, want 1.5s", f.timer.delays[0])
	}
	if sess.destroyed() != 0 {
		t.Fatal("session destroyed before the delay elapsed")
	}

	f.timer.fire()
	if sess.destroyed() != 1 {
		t.Errorf("destroys = %d, want 1", sess.destroyed())
	}
	if got := f.a.Snapshot().State; got != session.StateUninitialized {
		t.Errorf("state after close = %v, want uninitialized", got)
	}
	if !f.det.Listening() {
		t.Error("wake word listening not resumed")
	}
}

func TestAssistant_FailedTaskKeepsSession(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)
	f.exec.fail = true

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.session(t, 0).task(types.KindOpenApp, "name", "nowhere")
	f.waitFor(t, api.MessageResult)
	if f.timer.armed() != 0 {
		t.Errorf("close armed after a failed command")
	}
}

func TestAssistant_NoneTaskIsNotDispatched(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.session(t, 0)
	sess.task(types.KindNone)
	sess.task(types.KindTimer, "duration", "5 minutes")
	eventually(t, "timer dispatched", func() bool { return f.exec.count() == 1 })
	if got := f.exec.tasks[0].Kind; got != types.KindTimer {
		t.Errorf("dispatched %q, want timer", got)
	}
}

func TestAssistant_StartCancelsPendingClose(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sess := f.session(t, 0)
	sess.task(types.KindOpenApp, "name", "netflix")
	eventually(t, "close armed", func() bool { return f.timer.armed() == 1 })

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if f.timer.armed() != 0 {
		t.Fatal("close still armed after Start")
	}
	f.timer.fire()
	if sess.destroyed() != 0 {
		t.Error("session destroyed after the close was cancelled")
	}
	if f.created() != 1 {
		t.Errorf("sessions created = %d, want 1", f.created())
	}
}

func TestAssistant_WakeWordStartFailureClosesSession(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)
	f.startErr = errors.New("microphone denied")
	f.run(t)

	f.det.Trigger()
	eventually(t, "failed session destroyed", func() bool {
		return f.created() == 1 && f.session(t, 0).destroyed() == 1
	})
	eventually(t, "listening resumed", f.det.Listening)
}

func TestAssistant_StopResumesListening(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)
	f.run(t)

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if f.det.Listening() {
		t.Fatal("listening during session")
	}
	if err := f.a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !f.det.Listening() {
		t.Error("listening not resumed after Stop")
	}
	if got := f.a.Snapshot().State; got != session.StateDisconnected {
		t.Errorf("state = %v, want disconnected", got)
	}
}

func TestAssistant_ResetCreatesSession(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)

	if err := f.a.Reset(context.Background()); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if f.created() != 1 || f.session(t, 0).resets != 1 {
		t.Errorf("Reset did not reset a new session")
	}
}

func TestAssistant_DispatchPublishesResult(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)

	res := f.a.Dispatch(context.Background(), types.Task{Kind: types.KindServiceRequest})
	if !res.Success {
		t.Fatalf("Dispatch = %+v", res)
	}
	m := f.waitFor(t, api.MessageResult)
	if m.Result == nil || m.Result.Message != "done" || m.SessionID != "" {
		t.Errorf("result message = %+v", m)
	}
}

func TestAssistant_Shutdown(t *testing.T) {
	t.Parallel()
	f := newAssistantFixture(t)

	if err := f.a.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.a.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if f.session(t, 0).destroyed() != 1 {
		t.Error("session not destroyed")
	}
	if f.det.CallCountDestroy != 1 {
		t.Errorf("detector destroys = %d, want 1", f.det.CallCountDestroy)
	}
	if err := f.a.Start(context.Background()); !errors.Is(err, app.ErrClosed) {
		t.Errorf("Start after Shutdown = %v, want ErrClosed", err)
	}
	if err := f.a.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}
