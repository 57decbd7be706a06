package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"habitat/internal/metrics"
	"habitat/internal/session"
	"habitat/pkg/interfaces"
	"habitat/pkg/types"
)

const defaultChatLimit = 100

// Sessions is the read side of the session store the API needs.
type Sessions interface {
	List() []session.Summary
	Snapshot(id string) (types.SessionState, error)
	GetStats() map[string]int
}

// Registry is the read side of the connection registry.
type Registry interface {
	GetSessionConnections(sessionID string) []interfaces.Connection
	GetStats() map[string]int
}

// Stats supplies the gameplay counters.
type Stats interface {
	Snapshot() metrics.Snapshot
}

// Server is the read-only status API. It serves JSON only and never changes
// game state.
type Server struct {
	sessions Sessions
	journal  interfaces.Journal
	registry Registry
	stats    Stats
	started  time.Time
	now      func() time.Time
	router   *http.ServeMux
	logger   zerolog.Logger
}

// NewServer wires the routes. journal may be nil, in which case health
// reports it as disabled and chat history is unavailable.
func NewServer(sessions Sessions, journal interfaces.Journal, registry Registry, stats Stats, logger zerolog.Logger) *Server {
	s := &Server{
		sessions: sessions,
		journal:  journal,
		registry: registry,
		stats:    stats,
		now:      time.Now,
		router:   http.NewServeMux(),
		logger:   logger.With().Str("component", "api").Logger(),
	}
	s.started = s.now()
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.handle("GET /health", s.healthCheck)
	s.handle("GET /api/sessions", s.listSessions)
	s.handle("GET /api/sessions/{id}", s.getSession)
	s.handle("GET /api/sessions/{id}/chat", s.getChat)
	s.handle("GET /api/stats", s.getStats)
	s.router.Handle("OPTIONS /", s.corsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {})))
}

func (s *Server) handle(pattern string, fn http.HandlerFunc) {
	s.router.Handle(pattern, s.corsMiddleware(s.jsonMiddleware(fn)))
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type ListSessionsResponse struct {
	Sessions []SessionWithConnections `json:"sessions"`
}

type SessionWithConnections struct {
	session.Summary
	ConnectionCount int `json:"connection_count"`
}

type SessionResponse struct {
	Session         types.SessionState `json:"session"`
	ConnectionCount int                `json:"connection_count"`
}

type ChatResponse struct {
	SessionID string              `json:"session_id"`
	Messages  []types.ChatMessage `json:"messages"`
}

type StatsResponse struct {
	Gameplay    metrics.Snapshot `json:"gameplay"`
	Sessions    map[string]int   `json:"sessions"`
	Connections map[string]int   `json:"connections"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Uptime      string         `json:"uptime"`
	Database    string         `json:"database"`
	Sessions    map[string]int `json:"sessions"`
	Connections map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	summaries := s.sessions.List()
	out := make([]SessionWithConnections, len(summaries))
	for i, sum := range summaries {
		out[i] = SessionWithConnections{
			Summary:         sum,
			ConnectionCount: len(s.registry.GetSessionConnections(sum.ID)),
		}
	}
	s.writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: out})
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := types.ValidateSessionID(id); err != nil {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}

	state, err := s.sessions.Snapshot(id)
	if errors.Is(err, types.ErrSessionNotFound) {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session", id).Msg("snapshot failed")
		s.sendError(w, "Failed to get session", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, SessionResponse{
		Session:         state,
		ConnectionCount: len(s.registry.GetSessionConnections(id)),
	})
}

// getChat reads the journaled chat of the latest run of a session, so it
// keeps working after the session has ended.
func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := types.ValidateSessionID(id); err != nil {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	if s.journal == nil {
		s.sendError(w, "Journal disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultChatLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	msgs, err := s.journal.ChatHistory(r.Context(), id, limit)
	if errors.Is(err, interfaces.ErrRunNotFound) {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session", id).Msg("chat history failed")
		s.sendError(w, "Failed to read chat history", http.StatusInternalServerError)
		return
	}
	s.writeJSON(w, http.StatusOK, ChatResponse{SessionID: id, Messages: msgs})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, StatsResponse{
		Gameplay:    s.stats.Snapshot(),
		Sessions:    s.sessions.GetStats(),
		Connections: s.registry.GetStats(),
	})
}

// healthCheck returns 503 when the journal cannot be reached.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "disabled"
	if s.journal != nil {
		dbStatus = "healthy"
		if err := s.journal.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			dbStatus = "error: " + err.Error()
		}
	}

	now := s.now()
	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, HealthResponse{
		Status:      status,
		Timestamp:   now,
		Uptime:      now.Sub(s.started).Round(time.Second).String(),
		Database:    dbStatus,
		Sessions:    s.sessions.GetStats(),
		Connections: s.registry.GetStats(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug().Err(err).Msg("write response")
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	s.writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Max-Age", "86400")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
