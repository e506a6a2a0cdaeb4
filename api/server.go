package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/wricardo/deliverybot/game/config"
	"github.com/wricardo/deliverybot/game/engine"
	"github.com/wricardo/deliverybot/game/service"
	"github.com/wricardo/deliverybot/game/session"
	"github.com/wricardo/deliverybot/game/solver"
	"github.com/wricardo/deliverybot/telemetry"
	"github.com/wricardo/deliverybot/transport/websocket"
)

// Server represents the REST API server
type Server struct {
	service   service.GameService
	hub       *websocket.Hub
	router    *mux.Router
	validate  *validator.Validate
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	staticDir string
}

// Option configures the API server
type Option func(*Server)

// WithLogger sets the request logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithMetrics exposes the registry on /metrics
func WithMetrics(m *telemetry.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithStaticDir serves a browser client from dir at /
func WithStaticDir(dir string) Option {
	return func(s *Server) { s.staticDir = dir }
}

// NewServer creates a new API server. hub may be nil, which disables /ws.
func NewServer(gameService service.GameService, hub *websocket.Hub, opts ...Option) *Server {
	s := &Server{
		service:  gameService,
		hub:      hub,
		router:   mux.NewRouter(),
		validate: validator.New(),
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(s.logRequests)

	api := s.router.PathPrefix("/api").Subrouter()

	// Session management
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions", s.handleListSessions).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")

	// Game operations
	api.HandleFunc("/sessions/{id}/state", s.handleGetGameState).Methods("GET")
	api.HandleFunc("/sessions/{id}/command", s.handleCommand).Methods("POST")
	api.HandleFunc("/sessions/{id}/commands", s.handleCommands).Methods("POST")
	api.HandleFunc("/sessions/{id}/mode", s.handleSetMode).Methods("POST")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/next-level", s.handleNextLevel).Methods("POST")
	api.HandleFunc("/sessions/{id}/history", s.handleGetHistory).Methods("GET")
	api.HandleFunc("/sessions/{id}/hint", s.handleHint).Methods("GET")

	// Level packs
	api.HandleFunc("/levels", s.handleListLevels).Methods("GET")
	api.HandleFunc("/levels", s.handleCreateLevels).Methods("POST")
	api.HandleFunc("/levels/{name}", s.handleGetLevels).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler())
	}

	// WebSocket
	s.router.HandleFunc("/ws", s.handleWebSocket)

	if s.staticDir != "" {
		s.router.PathPrefix("/").Handler(http.FileServer(http.Dir(s.staticDir)))
	}
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response helpers
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]interface{}{"error": message, "code": status})
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionNotFound),
		errors.Is(err, config.ErrPackNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrReplayInProgress):
		return http.StatusConflict
	case errors.Is(err, engine.ErrUnknownMode),
		errors.Is(err, engine.ErrEmptyPack),
		errors.Is(err, engine.ErrInvalidLevel),
		errors.Is(err, config.ErrInvalidPack),
		errors.Is(err, config.ErrInvalidPackName),
		errors.Is(err, session.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, solver.ErrUnsolvable),
		errors.Is(err, solver.ErrSearchLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, engine.ErrReplayCancelled):
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}

// decode reads a JSON body into req and runs its validate tags.
// An empty body is allowed when allowEmpty is set.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, req interface{}, allowEmpty bool) bool {
	if r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(req)
		if err != nil && !(allowEmpty && errors.Is(err, io.EOF)) {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return false
		}
	}
	if err := s.validate.Struct(req); err != nil {
		respondError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

// validationMessage flattens validator errors into one line
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		} else {
			parts = append(parts, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
		}
	}
	return strings.Join(parts, "; ")
}

// Request bodies

type createSessionRequest struct {
	Pack string `json:"pack,omitempty"`
	Mode string `json:"mode,omitempty" validate:"omitempty,oneof=immediate program"`
}

type commandRequest struct {
	Command string `json:"command" validate:"required"`
	Wait    bool   `json:"wait,omitempty"`
}

type commandsRequest struct {
	Commands []string `json:"commands" validate:"required,min=1,max=100"`
	Wait     bool     `json:"wait,omitempty"`
}

type modeRequest struct {
	Mode string `json:"mode" validate:"required,oneof=immediate program"`
}

type levelPackRequest struct {
	Name        string               `json:"name" validate:"required,excludesall=/\\"`
	Description string               `json:"description,omitempty"`
	Levels      []engine.LevelRecord `json:"levels" validate:"required,min=1"`
}

// Session Handlers

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	info, err := s.service.CreateSession(r.Context(), req.Pack, engine.Mode(req.Mode))
	if err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, info)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.service.ListSessions(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}

	query := r.URL.Query()
	sortBy := query.Get("sort")    // "created", "accessed" (default)
	order := query.Get("order")    // "asc", "desc" (default: "desc")
	limitStr := query.Get("limit") // number of sessions to return

	if sortBy == "" {
		sortBy = "accessed"
	}
	if order == "" {
		order = "desc"
	}

	sort.Slice(sessions, func(i, j int) bool {
		var ti, tj time.Time
		if sortBy == "created" {
			ti, tj = sessions[i].CreatedAt, sessions[j].CreatedAt
		} else {
			ti, tj = sessions[i].LastAccessedAt, sessions[j].LastAccessedAt
		}
		if order == "asc" {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})

	total := len(sessions)
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l < len(sessions) {
			sessions = sessions[:l]
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(sessions),
		"total":    total,
		"sessions": sessions,
		"sort":     sortBy,
		"order":    order,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.service.GetSession(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	if err := s.service.DeleteSession(r.Context(), sessionID); err != nil {
		s.fail(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Session %s deleted", sessionID),
	})
}

// Game Operation Handlers

func (s *Server) handleGetGameState(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetGameState(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req commandRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	result, err := s.service.Submit(r.Context(), sessionID, req.Command, req.Wait)
	if err != nil {
		s.fail(w, err)
		return
	}

	// Compact log line per command
	ev := s.logger.Info().Str("session", sessionID).Str("command", result.Command).Bool("accepted", result.Accepted)
	if result.Step != nil {
		ev = ev.Str("from", cellString(result.Step.From)).Str("to", cellString(result.Step.To)).Int("heading", result.Step.Heading)
	}
	if result.Error != nil {
		ev = ev.Str("kind", string(result.Error.Kind))
	}
	ev.Bool("ignored", result.Ignored).Bool("replaying", result.Replaying).Msg("command")

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req commandsRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	result, err := s.service.SubmitBatch(r.Context(), sessionID, req.Commands, req.Wait)
	if err != nil {
		s.fail(w, err)
		return
	}

	s.logger.Info().
		Str("session", sessionID).
		Int("executed", result.Executed).
		Int("requested", result.RequestedCommands).
		Str("stop", result.StopReasonCode).
		Bool("level_complete", result.LevelComplete).
		Msg("batch")

	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req modeRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	state, err := s.service.SetMode(r.Context(), sessionID, engine.Mode(req.Mode))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.broadcast(sessionID, state)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": fmt.Sprintf("Mode set to %s; level restarted", req.Mode),
		"state":   state,
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	state, err := s.service.Reset(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.broadcast(sessionID, state)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Game reset successfully",
		"state":   state,
	})
}

func (s *Server) handleNextLevel(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	state, err := s.service.NextLevel(r.Context(), sessionID)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.broadcast(sessionID, state)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Next level started",
		"state":   state,
	})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	opts := service.HistoryOptions{
		Page:  1,
		Limit: 20,
		Order: "desc",
	}

	query := r.URL.Query()
	if pageStr := query.Get("page"); pageStr != "" {
		if p, err := strconv.Atoi(pageStr); err == nil && p > 0 {
			opts.Page = p
		}
	}
	if limitStr := query.Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			opts.Limit = l
		}
	}
	if order := query.Get("order"); order == "asc" || order == "desc" {
		opts.Order = order
	}

	history, err := s.service.GetHistory(r.Context(), sessionID, opts)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

func (s *Server) handleHint(w http.ResponseWriter, r *http.Request) {
	hint, err := s.service.Hint(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, hint)
}

// Level Pack Handlers

func (s *Server) handleListLevels(w http.ResponseWriter, r *http.Request) {
	packs, err := s.service.ListLevelPacks(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if packs == nil {
		packs = []*service.LevelPackInfo{}
	}
	respondJSON(w, http.StatusOK, packs)
}

func (s *Server) handleGetLevels(w http.ResponseWriter, r *http.Request) {
	pack, err := s.service.LoadLevelPack(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, pack)
}

func (s *Server) handleCreateLevels(w http.ResponseWriter, r *http.Request) {
	var req levelPackRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	pack := &engine.LevelPack{Name: req.Name, Description: req.Description, Levels: req.Levels}
	if err := s.service.SaveLevelPack(r.Context(), req.Name, pack); err != nil {
		respondError(w, statusFor(err), fmt.Sprintf("Failed to save level pack: %v", err))
		return
	}

	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Level pack saved successfully",
		"pack_id": req.Name,
	})
}

// WebSocket Handler

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.Error(w, "websocket not available", http.StatusNotFound)
		return
	}

	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		http.Error(w, "session parameter required", http.StatusBadRequest)
		return
	}

	// Lookup is case-insensitive; events are published under the canonical ID
	info, err := s.service.GetSession(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "Invalid session", http.StatusNotFound)
		return
	}

	s.hub.ServeWS(w, r, info.ID)
}

// Health check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func (s *Server) broadcast(sessionID string, state *engine.GameState) {
	if s.hub != nil {
		s.hub.BroadcastToSession(sessionID, state)
	}
}

// logRequests logs each request at debug level
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	})
}

func cellString(c engine.Cell) string {
	return fmt.Sprintf("(%d,%d)", c.Row, c.Col)
}
