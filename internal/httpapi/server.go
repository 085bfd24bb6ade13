// Package httpapi is the daemon's transport surface. Handlers translate HTTP
// requests into session-manager, event-log and approval-broker calls; all
// session semantics live below this layer.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/computesdk/sandbox-agent/internal/agent"
	"github.com/computesdk/sandbox-agent/internal/schema"
	"github.com/computesdk/sandbox-agent/internal/session"
)

// Server is the v1 HTTP API.
type Server struct {
	manager   *session.Manager
	registry  *agent.Registry
	installer AgentInstaller
	logger    *slog.Logger
	handler   http.Handler
}

// AgentInstaller puts an agent family's binary on the host. Implemented by
// the install package; injected so tests can stub it.
type AgentInstaller interface {
	Install(ctx context.Context, agentID string) error
}

// Config configures the server.
type Config struct {
	Manager   *session.Manager
	Registry  *agent.Registry
	Installer AgentInstaller

	// Token enables bearer auth when non-empty.
	Token string

	Logger *slog.Logger
}

// NewServer builds the route table.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:   cfg.Manager,
		registry:  cfg.Registry,
		installer: cfg.Installer,
		logger:    logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/agents", s.handleListAgents)
	mux.HandleFunc("GET /v1/agents/{id}/modes", s.handleAgentModes)
	mux.HandleFunc("POST /v1/agents/{id}/install", s.handleInstallAgent)
	mux.HandleFunc("POST /v1/sessions/{id}", s.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions", s.handleListSessions)
	mux.HandleFunc("GET /v1/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.handlePostMessage)
	mux.HandleFunc("GET /v1/sessions/{id}/events", s.handleGetEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/events/stream", s.handleStreamEvents)
	mux.HandleFunc("GET /v1/sessions/{id}/requests", s.handlePendingRequests)
	mux.HandleFunc("POST /v1/sessions/{id}/permissions/{reqID}", s.handleReplyPermission)
	mux.HandleFunc("POST /v1/sessions/{id}/questions/{reqID}", s.handleReplyQuestion)
	mux.HandleFunc("DELETE /v1/sessions/{id}/questions/{reqID}", s.handleRejectQuestion)

	s.handler = corsMiddleware(authMiddleware(cfg.Token, logMiddleware(logger, mux)))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Agents())
}

func (s *Server) handleAgentModes(w http.ResponseWriter, r *http.Request) {
	modes, err := s.registry.Modes(r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, modes)
}

func (s *Server) handleInstallAgent(w http.ResponseWriter, r *http.Request) {
	if s.installer == nil {
		writeProblem(w, schema.Validationf("agent installation is not enabled"))
		return
	}
	id := r.PathValue("id")
	if err := s.installer.Install(r.Context(), id); err != nil {
		writeProblem(w, err)
		return
	}
	s.registry.Refresh()
	s.logger.Info("agent installed", "agent", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var params schema.CreateSessionParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeProblem(w, schema.Validationf("invalid request body: %v", err))
		return
	}
	info, err := s.manager.Create(r.Context(), r.PathValue("id"), params)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.manager.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.manager.Get(r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, schema.Validationf("invalid request body: %v", err))
		return
	}
	if err := s.manager.PostMessage(r.Context(), r.PathValue("id"), body.Message); err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	offset, err := parseUint(r.URL.Query().Get("offset"), 0)
	if err != nil {
		writeProblem(w, schema.Validationf("invalid offset: %v", err))
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"), 200)
	if err != nil {
		writeProblem(w, schema.Validationf("invalid limit: %v", err))
		return
	}
	page, err := s.manager.Events(r.PathValue("id"), offset, limit)
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	pending, err := s.manager.Pending(r.PathValue("id"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pending)
}

func (s *Server) handleReplyPermission(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Reply schema.PermissionDecision `json:"reply"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, schema.Validationf("invalid request body: %v", err))
		return
	}
	err := s.manager.ReplyPermission(r.Context(), r.PathValue("id"), r.PathValue("reqID"), body.Reply)
	if err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReplyQuestion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answers [][]string `json:"answers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeProblem(w, schema.Validationf("invalid request body: %v", err))
		return
	}
	err := s.manager.ReplyQuestion(r.Context(), r.PathValue("id"), r.PathValue("reqID"), body.Answers)
	if err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRejectQuestion(w http.ResponseWriter, r *http.Request) {
	err := s.manager.RejectQuestion(r.Context(), r.PathValue("id"), r.PathValue("reqID"))
	if err != nil {
		writeProblem(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseUint(s string, def uint64) (uint64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

func parseLimit(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, errors.New("must be non-negative")
	}
	return n, nil
}
