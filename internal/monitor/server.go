// Package monitor exposes a localhost HTTP surface for observing a running
// session: health, live session state, recorded episodes, process stats,
// and build identity. It is read-only; nothing here mutates the session.
package monitor

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/brazhou04/interactive-gym/internal/session"
	"github.com/brazhou04/interactive-gym/internal/store"
)

// SessionSource supplies the live session view. Typically a *session.Runner.
type SessionSource interface {
	Snapshot() session.Snapshot
}

// Server handles HTTP requests
type Server struct {
	source    SessionSource
	db        *store.Store
	logger    *log.Logger
	startTime time.Time
}

// NewServer creates a new monitor server. Both source and db may be nil;
// the corresponding endpoints report unavailable.
func NewServer(source SessionSource, db *store.Store) *Server {
	return &Server{
		source:    source,
		db:        db,
		logger:    log.New(os.Stdout, "[monitor] ", log.LstdFlags|log.Lshortfile),
		startTime: time.Now(),
	}
}

// Routes sets up the HTTP routes with proper middleware
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.recoveryHandler)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/session", s.handleSession)
	r.Get("/sessions", s.handleSessions)
	r.Get("/episodes", s.handleEpisodes)
	r.Get("/stats", s.handleStats)
	r.Get("/version", s.handleVersion)

	return r
}

// ListenAndServe runs the monitor on addr until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// handleSession returns the live session snapshot.
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		s.handleError(w, r, NewError(ErrTypeNotFound, "no session attached").Build(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, s.source.Snapshot())
}

// handleEpisodes lists recorded episodes for the current session, or for
// the session named by ?session_id= when the live one has not persisted.
func (s *Server) handleEpisodes(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.handleError(w, r, NewError(ErrTypeNotFound, "no store attached").Build(), http.StatusNotFound)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" && s.source != nil {
		sessionID = s.source.Snapshot().SessionID
	}
	if sessionID == "" {
		s.handleError(w, r, NewError(ErrTypeNotFound, "no session id available").Build(), http.StatusNotFound)
		return
	}

	episodes, err := s.db.ListEpisodes(sessionID)
	if err != nil {
		s.handleError(w, r, NewError(ErrTypeStorage, "list episodes failed").WithCause(err).Build(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sessionID,
		"count":      len(episodes),
		"episodes":   episodes,
	})
}

// handleSessions lists persisted sessions, newest first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		s.handleError(w, r, NewError(ErrTypeNotFound, "no store attached").Build(), http.StatusNotFound)
		return
	}

	limit := parseLimit(r, 20)
	sessions, total, err := s.db.ListSessions(limit, 0)
	if err != nil {
		s.handleError(w, r, NewError(ErrTypeStorage, "list sessions failed").WithCause(err).Build(), http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"total":    total,
		"sessions": sessions,
	})
}

// handleVersion returns build identity.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, GetVersionInfo())
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Monitor-Version", Version)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

func (s *Server) uptime() string {
	return time.Since(s.startTime).Truncate(time.Millisecond).String()
}

func parseLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
