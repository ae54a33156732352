// Package api serves the HTTP control surface of the assistant: session
// control endpoints, a websocket event stream, direct task dispatch, health
// and readiness probes, and the Prometheus scrape endpoint.
//
// Routes:
//
//	POST /v1/session/start   start listening
//	POST /v1/session/stop    stop listening and close the remote session
//	POST /v1/session/reset   open a fresh remote session
//	GET  /v1/session         current session snapshot
//	GET  /v1/events          websocket stream of [Message] frames
//	POST /v1/dispatch        execute a task given as JSON
//	GET  /healthz            liveness
//	GET  /readyz             readiness
//	GET  /metrics            Prometheus exposition
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/atlas/internal/dispatch"
	"github.com/MrWong99/atlas/internal/observe"
	"github.com/MrWong99/atlas/internal/session"
	"github.com/MrWong99/atlas/pkg/types"
)

const (
	maxTaskBody       = 64 << 10
	writeTimeout      = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Controller is the session lifecycle the API drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	Reset(ctx context.Context) error
	Snapshot() session.Snapshot
}

// Dispatcher executes tasks submitted over HTTP.
type Dispatcher interface {
	Dispatch(ctx context.Context, task types.Task) dispatch.Result
}

// Option configures a [Server].
type Option func(*Server)

// WithLogger sets the server logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.log = l } }

// WithMetrics sets the metrics used by the request middleware.
func WithMetrics(m *observe.Metrics) Option { return func(s *Server) { s.metrics = m } }

// WithCheckers adds readiness checks evaluated by /readyz.
func WithCheckers(c ...Checker) Option {
	return func(s *Server) { s.checkers = append(s.checkers, c...) }
}

// WithMetricsHandler replaces the /metrics handler. Default:
// promhttp.Handler().
func WithMetricsHandler(h http.Handler) Option { return func(s *Server) { s.metricsHandler = h } }

// WithOriginPatterns sets the host patterns accepted for cross-origin
// websocket clients. Same-origin clients are always accepted.
func WithOriginPatterns(p ...string) Option {
	return func(s *Server) { s.origins = append(s.origins, p...) }
}

// Server is the HTTP control server.
type Server struct {
	ctl  Controller
	disp Dispatcher
	hub  *Hub

	log            *slog.Logger
	metrics        *observe.Metrics
	checkers       []Checker
	metricsHandler http.Handler
	origins        []string
}

// New builds a Server. hub feeds the event stream; ctl and disp are required.
func New(ctl Controller, disp Dispatcher, hub *Hub, opts ...Option) *Server {
	s := &Server{
		ctl:     ctl,
		disp:    disp,
		hub:     hub,
		log:     slog.Default(),
		origins: []string{"localhost:*", "127.0.0.1:*", "[::1]:*"},
	}
	for _, o := range opts {
		o(s)
	}
	if s.metricsHandler == nil {
		s.metricsHandler = promhttp.Handler()
	}
	return s
}

// Handler returns the routed, instrumented handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("POST /v1/session/reset", s.handleReset)
	mux.HandleFunc("GET /v1/session", s.handleSnapshot)
	mux.HandleFunc("GET /v1/events", s.handleEvents)
	mux.HandleFunc("POST /v1/dispatch", s.handleDispatch)
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /readyz", readyz(s.checkers))
	mux.Handle("GET /metrics", s.metricsHandler)
	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully. Websocket clients are disconnected by closing the hub.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("api: listening", "addr", addr)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api: listen %s: %w", addr, err)
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.hub.Close()
	if err := srv.Shutdown(shutCtx); err != nil {
		return fmt.Errorf("api: shutdown: %w", err)
	}
	return nil
}

// ── Session control ──────────────────────────────────────────────────────────

// sessionView is the JSON form of [session.Snapshot].
type sessionView struct {
	State       string    `json:"state"`
	SessionID   string    `json:"session_id,omitempty"`
	CaptureMode string    `json:"capture_mode,omitempty"`
	Since       time.Time `json:"since"`
	Segments    int       `json:"segments"`
}

func viewOf(s session.Snapshot) sessionView {
	return sessionView{
		State:       s.State.String(),
		SessionID:   s.SessionID,
		CaptureMode: s.CaptureMode,
		Since:       s.Since,
		Segments:    s.Segments,
	}
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	// The session outlives the request.
	ctx := context.WithoutCancel(r.Context())
	if err := s.ctl.Start(ctx); err != nil {
		s.controlError(w, r, "start", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.ctl.Snapshot()))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Stop(); err != nil {
		s.controlError(w, r, "stop", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.ctl.Snapshot()))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.ctl.Reset(context.WithoutCancel(r.Context())); err != nil {
		s.controlError(w, r, "reset", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s.ctl.Snapshot()))
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, viewOf(s.ctl.Snapshot()))
}

func (s *Server) controlError(w http.ResponseWriter, r *http.Request, op string, err error) {
	observe.WithTrace(r.Context(), s.log).Warn("api: session "+op+" failed", "err", err)
	code := http.StatusInternalServerError
	if errors.Is(err, session.ErrErrored) || errors.Is(err, session.ErrDestroyed) {
		code = http.StatusConflict
	}
	writeError(w, code, err.Error())
}

// ── Dispatch ─────────────────────────────────────────────────────────────────

func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTaskBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}
	var task types.Task
	if err := json.Unmarshal(body, &task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task: "+err.Error())
		return
	}
	if task.Kind == "" {
		writeError(w, http.StatusBadRequest, `invalid task: "type" is required`)
		return
	}
	if k, ok := types.ParseKind(string(task.Kind)); ok {
		task.Kind = k
	}
	writeJSON(w, http.StatusOK, s.disp.Dispatch(r.Context(), task))
}

// ── Event stream ─────────────────────────────────────────────────────────────

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("api: websocket accept", "err", err)
		return
	}
	defer conn.CloseNow()

	msgs, cancel := s.hub.Subscribe()
	defer cancel()

	// Client frames are ignored; CloseRead cancels ctx when the peer leaves.
	ctx := conn.CloseRead(r.Context())

	snap := s.ctl.Snapshot()
	hello := Message{
		Type:      MessageState,
		SessionID: snap.SessionID,
		State:     snap.State.String(),
		Text:      snap.State.String(),
	}
	if err := s.write(ctx, conn, s.hub.stamp(hello)); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-msgs:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			if err := s.write(ctx, conn, m); err != nil {
				s.log.Debug("api: websocket write", "err", err)
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, m Message) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, m)
}
