// Package api exposes the orchestrator over HTTP: a JSON REST surface,
// a text command endpoint and a websocket event feed.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/flockmind/flockmind/internal/agents"
	"github.com/flockmind/flockmind/internal/command"
	"github.com/flockmind/flockmind/internal/config"
	"github.com/flockmind/flockmind/internal/events"
	"github.com/flockmind/flockmind/internal/evolution"
	"github.com/flockmind/flockmind/internal/journal"
	"github.com/flockmind/flockmind/internal/orchestrator"
	"github.com/flockmind/flockmind/internal/security"
)

const journalTailLimit = 100

// Server is the HTTP API server.
type Server struct {
	host       string
	port       int
	orch       *orchestrator.Orchestrator
	dispatcher *command.Dispatcher
	bus        *events.Bus
	reader     journal.Reader
	secret     []byte
	logger     *slog.Logger
	httpServer *http.Server
}

// NewServer creates an API server over the orchestrator. bus and reader
// may be nil; the event feed and journal endpoints then report as
// disabled.
func NewServer(cfg *config.Config, orch *orchestrator.Orchestrator, bus *events.Bus, reader journal.Reader, logger *slog.Logger) *Server {
	var secret []byte
	if s := cfg.JWTSecret(); s != "" {
		secret = []byte(s)
	}
	return &Server{
		host:       cfg.Server.Host,
		port:       cfg.Server.Port,
		orch:       orch,
		dispatcher: command.NewDispatcher(orch, logger),
		bus:        bus,
		reader:     reader,
		secret:     secret,
		logger:     logger.With("component", "api"),
	}
}

// Handler builds the full route table with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.handleHealth)

	api := http.NewServeMux()
	api.HandleFunc("/api/status", s.handleStatus)
	api.HandleFunc("/api/agents", s.handleAgents)
	api.HandleFunc("/api/agents/", s.handleAgentRoutes)
	api.HandleFunc("/api/coordinate", s.handleCoordinate)
	api.HandleFunc("/api/graph", s.handleGraph)
	api.HandleFunc("/api/evolution", s.handleEvolution)
	api.HandleFunc("/api/evolve", s.handleEvolve)
	api.HandleFunc("/api/adapt", s.handleAdapt)
	api.HandleFunc("/api/environment", s.handleEnvironment)
	api.HandleFunc("/api/command", s.handleCommand)
	api.HandleFunc("/api/journal", s.handleJournal)
	api.HandleFunc("/api/events", s.handleEvents)

	auth := security.AuthMiddleware(s.secret, s.logger)
	mux.Handle("/api/", auth(api))

	return s.corsMiddleware(s.loggingMiddleware(mux))
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "addr", s.httpServer.Addr, "auth", s.secret != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// requireAdmin rejects viewer tokens on mutating requests.
func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	claims, err := security.GetClaims(r)
	if err != nil {
		// No claims means dev mode; AuthMiddleware already gated the rest.
		return true
	}
	if claims.Role != security.RoleAdmin {
		writeError(w, http.StatusForbidden, security.ErrInsufficientRole.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus returns the orchestrator stats snapshot.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Stats())
}

// agentView is an agent record with its fitness attached.
type agentView struct {
	agents.Record
	Fitness float64 `json:"fitness"`
}

func (s *Server) agentView(rec agents.Record) agentView {
	return agentView{Record: rec, Fitness: s.orch.Fitness(rec.ID)}
}

// handleAgents lists agents or registers a new one.
func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		recs := s.orch.Agents()
		views := make([]agentView, 0, len(recs))
		for _, rec := range recs {
			views = append(views, s.agentView(rec))
		}
		writeJSON(w, http.StatusOK, views)

	case http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}
		var req struct {
			AgentID string `json:"agent_id"`
		}
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		id, err := s.orch.RegisterAgent(r.Context(), nil, req.AgentID)
		if err != nil {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]string{"agent_id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleAgentRoutes dispatches /api/agents/{id} and its sub-resources.
func (s *Server) handleAgentRoutes(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/agents/")
	parts := strings.SplitN(path, "/", 2)
	agentID := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}
	if agentID == "" {
		writeError(w, http.StatusBadRequest, "agent id required")
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		rec, ok := s.orch.Agent(agentID)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, s.agentView(rec))

	case action == "" && r.Method == http.MethodDelete:
		if !s.requireAdmin(w, r) {
			return
		}
		if !s.orch.UnregisterAgent(r.Context(), agentID) {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"agent_id": agentID, "status": "unregistered"})

	case action == "outcome" && r.Method == http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}
		s.handleOutcome(w, r, agentID)

	case action == "fitness" && r.Method == http.MethodGet:
		rec, ok := s.orch.Agent(agentID)
		if !ok {
			writeError(w, http.StatusNotFound, "agent not found")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"agent_id": agentID,
			"fitness":  s.orch.Fitness(agentID),
			"metrics":  rec.Metrics,
		})

	default:
		writeError(w, http.StatusBadRequest, "invalid action or method")
	}
}

// handleOutcome records one task result for an agent.
func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request, agentID string) {
	var req struct {
		Success         bool    `json:"success"`
		ResponseSeconds float64 `json:"response_seconds"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ResponseSeconds < 0 {
		writeError(w, http.StatusBadRequest, "response_seconds must not be negative")
		return
	}
	if !s.orch.RecordOutcome(r.Context(), agentID, req.Success, req.ResponseSeconds) {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": agentID,
		"fitness":  s.orch.Fitness(agentID),
	})
}

// handleCoordinate assigns a task to the fittest active agents.
func (s *Server) handleCoordinate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req struct {
		Description string `json:"description"`
		NumAgents   int    `json:"num_agents"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "description is required")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Coordinate(r.Context(), req.Description, req.NumAgents))
}

// handleGraph queries relationship graph nodes by id or type.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	byID := r.URL.Query().Get("id")
	byType := r.URL.Query().Get("type")
	g := s.orch.Graph()
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":      g.Query(byID, byType),
		"node_count": g.NodeCount(),
		"edge_count": g.EdgeCount(),
	})
}

// handleEvolution returns evolution statistics.
func (s *Server) handleEvolution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.orch.EvolutionStats())
}

// handleEvolve runs one evolutionary generation.
func (s *Server) handleEvolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	writeJSON(w, http.StatusOK, s.orch.EvolveGeneration(r.Context()))
}

// handleAdapt triggers adaptation when trailing fitness warrants it.
func (s *Server) handleAdapt(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	res, ran := s.orch.AdaptToEnvironment(r.Context())
	resp := map[string]any{"ran": ran}
	if ran {
		resp["result"] = res
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleEnvironment reads or updates the environment model.
func (s *Server) handleEnvironment(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.orch.Environment())

	case http.MethodPost:
		if !s.requireAdmin(w, r) {
			return
		}
		var f evolution.Feedback
		if err := decodeBody(r, &f); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, s.orch.UpdateEnvironment(r.Context(), f))

	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCommand runs one text command through the dispatcher.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req command.Request
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response": s.dispatcher.Dispatch(r.Context(), req),
	})
}

// handleJournal tails the event journal.
func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.reader == nil {
		writeJSON(w, http.StatusOK, map[string]any{
			"enabled": false,
			"entries": []journal.Entry{},
		})
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if n > journalTailLimit {
			n = journalTailLimit
		}
		limit = n
	}

	entries, err := s.reader.Tail(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	total, err := s.reader.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"total":   total,
		"entries": entries,
	})
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
