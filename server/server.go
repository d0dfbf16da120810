//
// Tencent is pleased to support the open source community by making trpc-copilot-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-copilot-go is licensed under the Apache License Version 2.0.
//
//

// Package server exposes the runtime over HTTP: collated and streaming chat,
// action enumeration and direct execution, remote agent metadata and the
// approval decision surface.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"trpc.group/trpc-go/trpc-copilot-go/approval"
	"trpc.group/trpc-go/trpc-copilot-go/log"
	"trpc.group/trpc-go/trpc-copilot-go/middleware"
	"trpc.group/trpc-go/trpc-copilot-go/remote/agent"
	"trpc.group/trpc-go/trpc-copilot-go/runtime"
)

const defaultVersion = "1.0.0"

// Server wires the runtime's surfaces into one HTTP handler.
type Server struct {
	runtime   *runtime.Runtime
	agents    *agent.Registry
	approvals *approval.Manager
	version   string
	router    *mux.Router
}

// Option configures the Server instance.
type Option func(*Server)

// WithAgentRegistry enables the agent metadata endpoints.
func WithAgentRegistry(r *agent.Registry) Option {
	return func(s *Server) { s.agents = r }
}

// WithApprovalManager enables the approval decision endpoints.
func WithApprovalManager(m *approval.Manager) Option {
	return func(s *Server) { s.approvals = m }
}

// WithVersion overrides the version reported by the health endpoint.
func WithVersion(v string) Option {
	return func(s *Server) { s.version = v }
}

// New creates the HTTP server around a configured runtime.
func New(rt *runtime.Runtime, opts ...Option) *Server {
	s := &Server{
		runtime: rt,
		version: defaultVersion,
		router:  mux.NewRouter(),
	}
	for _, opt := range opts {
		opt(s)
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Content-Length", "Content-Type"},
	})
	s.router.Use(c.Handler)
	s.registerRoutes()
	return s
}

// Handler returns the http.Handler for the server.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	s.router.HandleFunc("/api/chat", s.handleChat).Methods(http.MethodPost)
	s.router.HandleFunc("/api/chat/stream", s.handleChatStream).Methods(http.MethodPost)

	s.router.HandleFunc("/api/actions", s.handleActions).Methods(http.MethodGet)
	s.router.HandleFunc("/api/actions/execute", s.handleExecuteAction).Methods(http.MethodPost)

	s.router.HandleFunc("/api/agents", s.handleAgents).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents/{name}/state", s.handleAgentState).Methods(http.MethodGet)
	s.router.HandleFunc("/api/agents/{name}/state", s.handleAgentStateUpdate).Methods(http.MethodPost)

	s.router.HandleFunc("/api/approvals", s.handleApprovals).Methods(http.MethodGet)
	s.router.HandleFunc("/api/approvals/{approvalId}", s.handleApprovalDecision).Methods(http.MethodPost)
	s.router.HandleFunc("/api/approvals/{approvalId}", s.handleApprovalCancel).Methods(http.MethodDelete)

	// OPTIONS handlers to allow CORS pre-flight.
	preflight := func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}
	s.router.HandleFunc("/api/chat", preflight).Methods(http.MethodOptions)
	s.router.HandleFunc("/api/chat/stream", preflight).Methods(http.MethodOptions)
	s.router.HandleFunc("/api/actions/execute", preflight).Methods(http.MethodOptions)
	s.router.HandleFunc("/api/approvals/{approvalId}", preflight).Methods(http.MethodOptions)
}

// ---- Health / actions ----------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"version":   s.version,
	}
	if a := s.runtime.Adapter(); a != nil {
		resp["provider"] = a.ProviderName()
		resp["model"] = a.ModelName()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleActions(w http.ResponseWriter, r *http.Request) {
	actions := s.runtime.Actions(r.Context())
	descriptors := make([]any, 0, len(actions))
	for _, a := range actions {
		descriptors = append(descriptors, a.Descriptor())
	}
	s.writeJSON(w, http.StatusOK, descriptors)
}

// executeRequest is the body of POST /api/actions/execute. Arguments may be
// a JSON object or a JSON-encoded object string.
type executeRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *Server) handleExecuteAction(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()
	if req.Name == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("action name is required"))
		return
	}

	args, err := decodeArguments(req.Arguments)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	started := time.Now()
	result, err := s.runtime.ExecuteAction(r.Context(), req.Name, args)
	elapsed := time.Since(started).Seconds()
	switch {
	case errors.Is(err, runtime.ErrUnknownAction):
		s.writeError(w, http.StatusNotFound, err)
		return
	case errors.Is(err, runtime.ErrActionNotExecutable):
		s.writeError(w, http.StatusBadRequest, err)
		return
	case err != nil:
		s.writeJSON(w, http.StatusOK, map[string]any{
			"success":        false,
			"error":          err.Error(),
			"execution_time": elapsed,
		})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"result":         result,
		"execution_time": elapsed,
	})
}

// decodeArguments accepts an argument object directly or as a JSON-encoded
// string, matching the tolerance of action-execution messages.
func decodeArguments(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var quoted string
	if err := json.Unmarshal(raw, &quoted); err == nil {
		raw = json.RawMessage(quoted)
	}
	args := map[string]any{}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return args, nil
}

// ---- Agents ---------------------------------------------------------------

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	type agentInfo struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
	}
	infos := []agentInfo{}
	if s.agents != nil {
		for _, a := range s.agents.Agents() {
			infos = append(infos, agentInfo{Name: a.Name, Description: a.Description})
		}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

// agentState is the stub state shape for both reads and echoed writes. The
// runtime keeps no per-agent state between requests.
type agentState struct {
	ThreadID  string          `json:"threadId"`
	AgentName string          `json:"agentName"`
	NodeName  string          `json:"nodeName"`
	RunID     string          `json:"runId"`
	Active    bool            `json:"active"`
	Running   bool            `json:"running"`
	State     json.RawMessage `json:"state"`
}

func (s *Server) lookupAgent(w http.ResponseWriter, r *http.Request) (agent.Agent, bool) {
	name := mux.Vars(r)["name"]
	if s.agents == nil {
		s.writeError(w, http.StatusNotFound, errors.New("unknown agent: "+name))
		return agent.Agent{}, false
	}
	a, ok := s.agents.Lookup(name)
	if !ok {
		s.writeError(w, http.StatusNotFound, errors.New("unknown agent: "+name))
		return agent.Agent{}, false
	}
	return a, true
}

func (s *Server) handleAgentState(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, agentState{
		ThreadID:  r.URL.Query().Get("threadId"),
		AgentName: a.Name,
		State:     json.RawMessage(`{}`),
	})
}

func (s *Server) handleAgentStateUpdate(w http.ResponseWriter, r *http.Request) {
	a, ok := s.lookupAgent(w, r)
	if !ok {
		return
	}
	var req struct {
		ThreadID string          `json:"threadId"`
		NodeName string          `json:"nodeName"`
		State    json.RawMessage `json:"state"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	state := req.State
	if len(state) == 0 {
		state = json.RawMessage(`{}`)
	}
	// Accepted but not persisted.
	s.writeJSON(w, http.StatusOK, agentState{
		ThreadID:  req.ThreadID,
		AgentName: a.Name,
		NodeName:  req.NodeName,
		State:     state,
	})
}

// ---- Approvals -------------------------------------------------------------

func (s *Server) handleApprovals(w http.ResponseWriter, r *http.Request) {
	if s.approvals == nil {
		s.writeJSON(w, http.StatusOK, []any{})
		return
	}
	s.writeJSON(w, http.StatusOK, s.approvals.PendingList())
}

func (s *Server) handleApprovalDecision(w http.ResponseWriter, r *http.Request) {
	approvalID := mux.Vars(r)["approvalId"]
	if s.approvals == nil {
		s.writeError(w, http.StatusNotFound, errors.New("unknown approval id: "+approvalID))
		return
	}
	var req struct {
		Approved bool   `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	defer r.Body.Close()

	decision := s.approvals.Decide(r.Context(), approvalID, req.Approved, req.Reason)
	if decision == nil {
		s.writeError(w, http.StatusNotFound, errors.New("unknown approval id: "+approvalID))
		return
	}
	s.writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleApprovalCancel(w http.ResponseWriter, r *http.Request) {
	approvalID := mux.Vars(r)["approvalId"]
	if s.approvals == nil || !s.approvals.Cancel(approvalID) {
		s.writeError(w, http.StatusNotFound, errors.New("unknown approval id: "+approvalID))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ---- Shared helpers --------------------------------------------------------

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Errorf("encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// rejectionStatus maps a request rejection onto its HTTP status.
func rejectionStatus(err error) int {
	switch {
	case errors.Is(err, middleware.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, middleware.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
