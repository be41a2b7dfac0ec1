// Package server mounts the tapped reverse proxy and the agent's admin
// endpoints on one listener.
//
//	/                    reverse proxy to the host application
//	/_remsync/status     job context snapshots
//	/_remsync/journal    cycle and observation log
//	/_remsync/navigate   page navigation events from the browser
//	/_remsync/health     event queue depth and session token age
//	/_remsync/ws         live status and notification feed
package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/engine"
	"github.com/roach88/remsync/internal/errors"
	"github.com/roach88/remsync/internal/logger"
	"github.com/roach88/remsync/internal/store"
)

// Prefix is the path prefix reserved for admin endpoints.
const Prefix = "/_remsync"

const (
	defaultJournalLimit = 50
	maxJournalLimit     = 1000
	shutdownTimeout     = 5 * time.Second
)

// Engine is the subset of *engine.Engine the server uses.
type Engine interface {
	Snapshot(jobID string) (engine.JobState, bool)
	Snapshots() []engine.JobState
	Navigated(jobID string)
	Left(jobID string)
	QueueLen() int
}

// Journal is the subset of *store.Store the server reads.
type Journal interface {
	ReadCycles(ctx context.Context, jobID string, limit int) ([]store.Cycle, error)
	ReadObservations(ctx context.Context, jobID string, limit int) ([]store.Observation, error)
}

// Server routes proxy and admin traffic.
type Server struct {
	engine  Engine
	journal Journal
	feed    http.Handler
	proxy   http.Handler
	logger  *zap.SugaredLogger
	mux     *http.ServeMux

	tokenSeen func() time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithTokenSeen reports when the proxy last saw a session token.
func WithTokenSeen(fn func() time.Time) Option {
	return func(s *Server) { s.tokenSeen = fn }
}

// New wires a Server. journal and feed may be nil; their endpoints then
// answer 404.
func New(eng Engine, journal Journal, feed, proxy http.Handler, l *zap.SugaredLogger, opts ...Option) *Server {
	if l == nil {
		l = logger.Named(nil, "server")
	}
	s := &Server{
		engine:  eng,
		journal: journal,
		feed:    feed,
		proxy:   proxy,
		logger:  l,
		mux:     http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.mux.HandleFunc(Prefix+"/status", s.handleStatus)
	s.mux.HandleFunc(Prefix+"/journal", s.handleJournal)
	s.mux.HandleFunc(Prefix+"/navigate", s.handleNavigate)
	s.mux.HandleFunc(Prefix+"/health", s.handleHealth)
	if feed != nil {
		s.mux.Handle(Prefix+"/ws", feed)
	}
	if proxy != nil {
		s.mux.Handle("/", proxy)
	}
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("listening", "addr", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "serve")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warnw("graceful shutdown failed", "error", err)
		return errors.Wrap(err, "shutdown")
	}
	s.logger.Infow("server stopped")
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	jobID := r.URL.Query().Get("job")
	if jobID == "" {
		writeJSON(w, http.StatusOK, s.engine.Snapshots())
		return
	}
	state, ok := s.engine.Snapshot(jobID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown job "+jobID)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	QueueLen    int        `json:"queue_len"`
	TokenSeenAt *time.Time `json:"token_seen_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	resp := HealthResponse{QueueLen: s.engine.QueueLen()}
	if s.tokenSeen != nil {
		if at := s.tokenSeen(); !at.IsZero() {
			resp.TokenSeenAt = &at
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type journalResponse struct {
	Cycles       []store.Cycle       `json:"cycles"`
	Observations []store.Observation `json:"observations"`
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.journal == nil {
		writeError(w, http.StatusNotFound, "journal disabled")
		return
	}

	limit := defaultJournalLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxJournalLimit)
	}
	jobID := r.URL.Query().Get("job")

	cycles, err := s.journal.ReadCycles(r.Context(), jobID, limit)
	if err != nil {
		s.logger.Errorw("failed to read cycles", "job", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	observations, err := s.journal.ReadObservations(r.Context(), jobID, limit)
	if err != nil {
		s.logger.Errorw("failed to read observations", "job", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, journalResponse{Cycles: cycles, Observations: observations})
}

// NavigateRequest reports the browser moving between jobs. Either side
// may be empty when the page is not a job page.
type NavigateRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req NavigateRequest
	if err := readJSON(w, r, &req); err != nil {
		return
	}
	if req.From != "" && req.From != req.To {
		s.engine.Left(req.From)
	}
	if req.To != "" {
		s.engine.Navigated(req.To)
	}
	w.WriteHeader(http.StatusAccepted)
}
