// Package api exposes the engine's trigger paths and read surfaces over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tcmartin/botrunner/pkg/config"
	"github.com/tcmartin/botrunner/pkg/cronexpr"
	"github.com/tcmartin/botrunner/pkg/execution"
	"github.com/tcmartin/botrunner/pkg/middleware"
	"github.com/tcmartin/botrunner/pkg/models"
	"github.com/tcmartin/botrunner/pkg/schedule"
	"github.com/tcmartin/botrunner/pkg/storage"
	"github.com/tcmartin/botrunner/pkg/trigger"
)

// Server represents the HTTP API server
type Server struct {
	config     *config.Config
	router     *mux.Router
	server     *http.Server
	dispatcher *trigger.Dispatcher
	sweeper    *trigger.Sweeper
	machine    *execution.StateMachine
	evaluator  *schedule.Evaluator
	schedules  storage.ScheduleStore
	auth       *middleware.AuthMiddleware
	wsManager  *WebSocketManager
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, dispatcher *trigger.Dispatcher, sweeper *trigger.Sweeper, machine *execution.StateMachine, evaluator *schedule.Evaluator, schedules storage.ScheduleStore, auth *middleware.AuthMiddleware) *Server {
	s := &Server{
		config:     cfg,
		router:     mux.NewRouter(),
		dispatcher: dispatcher,
		sweeper:    sweeper,
		machine:    machine,
		evaluator:  evaluator,
		schedules:  schedules,
		auth:       auth,
		wsManager:  NewWebSocketManager(machine),
	}

	machine.SetNotifier(s.wsManager)
	s.setupRoutes()
	return s
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Printf("Starting HTTP server on %s", addr)

	err := s.server.ListenAndServe()

	// If the server was shut down gracefully, this error is expected
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Handler returns the root handler, for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	// API router with version prefix
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Public routes (no authentication required)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet, http.MethodOptions)

	// Webhook triggers carry no credentials; the bot-scoped URL is the capability
	api.HandleFunc("/hooks/{botID}", s.handleWebhook).Methods(http.MethodPost, http.MethodOptions)

	// Scheduler driver routes, protected by the shared secret
	api.HandleFunc("/scheduler/tick", s.requireSchedulerSecret(s.handleSchedulerTick)).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/scheduler/due", s.requireSchedulerSecret(s.handleSchedulerDue)).Methods(http.MethodGet, http.MethodOptions)

	// Authenticated routes
	authenticated := api.PathPrefix("").Subrouter()
	authenticated.Use(s.auth.Authenticate)

	authenticated.HandleFunc("/bots/{id}/run", s.handleManualRun).Methods(http.MethodPost, http.MethodOptions)
	authenticated.HandleFunc("/bots/{id}/schedule", s.handlePutSchedule).Methods(http.MethodPut, http.MethodOptions)
	authenticated.HandleFunc("/bots/{id}/schedule", s.handleGetSchedule).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/schedules/validate", s.handleValidateSchedule).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/executions", s.handleListExecutions).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/executions/{id}", s.handleGetExecution).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/executions/{id}/logs", s.handleGetExecutionLogs).Methods(http.MethodGet, http.MethodOptions)
	authenticated.HandleFunc("/executions/{id}/cancel", s.handleCancelExecution).Methods(http.MethodPost, http.MethodOptions)

	authenticated.HandleFunc("/ws/executions", s.handleWebSocket).Methods(http.MethodGet)

	// CORS middleware for all routes
	s.router.Use(middleware.CORS)
}

// handleHealth handles the health check endpoint
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleManualRun handles an authenticated manual trigger
func (s *Server) handleManualRun(w http.ResponseWriter, r *http.Request) {
	if _, ok := middleware.GetUserID(r); !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	botID := mux.Vars(r)["id"]

	// The trigger payload is optional
	var payload map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}

	exec, err := s.dispatcher.Dispatch(r.Context(), botID, models.TriggerManual, payload)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// handleWebhook handles an unauthenticated external webhook trigger.
// The JSON body (or query parameters) form the trigger payload; request
// metadata is merged in under the reserved "_request" key.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["botID"]

	payload := make(map[string]interface{})
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&payload)
	}
	if payload == nil {
		// Decoding a literal "null" body nils the map out.
		payload = make(map[string]interface{})
	}
	for key, values := range r.URL.Query() {
		if _, present := payload[key]; !present && len(values) > 0 {
			payload[key] = values[0]
		}
	}

	headers := make(map[string]interface{}, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	payload["_request"] = map[string]interface{}{
		"headers":   headers,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"url":       r.URL.String(),
		"method":    r.Method,
	}

	exec, err := s.dispatcher.Dispatch(r.Context(), botID, models.TriggerWebhook, payload)
	if err != nil {
		writeDispatchError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// requireSchedulerSecret guards the scheduler driver endpoints with a
// constant-time comparison of the shared secret
func (s *Server) requireSchedulerSecret(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}

		secret := s.config.Auth.SchedulerSecret
		presented := r.Header.Get("X-Scheduler-Secret")
		if secret == "" || subtle.ConstantTimeCompare([]byte(secret), []byte(presented)) != 1 {
			http.Error(w, "Invalid scheduler secret", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// handleSchedulerTick runs one due-bot sweep. The reference instant
// defaults to now and may be overridden with a `now` query parameter
// (RFC 3339) for catch-up ticks.
func (s *Server) handleSchedulerTick(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	if raw := r.URL.Query().Get("now"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			http.Error(w, "Invalid now parameter", http.StatusBadRequest)
			return
		}
		now = parsed
	}

	result, err := s.sweeper.RunDueBots(r.Context(), now)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleSchedulerDue previews the bots a sweep would dispatch
func (s *Server) handleSchedulerDue(w http.ResponseWriter, r *http.Request) {
	bots, err := s.sweeper.GetBotsToRun(time.Now().UTC())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"bots": bots,
	})
}

// handleListExecutions handles listing the caller's executions
func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	filters := storage.ExecutionFilters{
		UserID: userID,
		BotID:  r.URL.Query().Get("bot_id"),
		Status: models.ExecutionStatus(r.URL.Query().Get("status")),
		Offset: intQuery(r, "offset"),
		Limit:  intQuery(r, "limit"),
	}

	executions, err := s.dispatcherStore().ListExecutions(filters)
	if err != nil {
		http.Error(w, "Failed to list executions", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, executions)
}

// handleGetExecution handles retrieving a single execution
func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	exec, err := s.machine.Get(executionID)
	if err != nil {
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// handleGetExecutionLogs handles retrieving an execution's logs with
// level/offset/limit filtering
func (s *Server) handleGetExecutionLogs(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	logs, err := s.machine.Logs(executionID, storage.LogQuery{
		Level:  models.LogLevel(r.URL.Query().Get("level")),
		Offset: intQuery(r, "offset"),
		Limit:  intQuery(r, "limit"),
	})
	if err != nil {
		http.Error(w, "Failed to get execution logs", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, logs)
}

// handleCancelExecution handles cancelling a pending or running execution
func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	executionID := mux.Vars(r)["id"]

	exec, err := s.machine.Cancel(executionID)
	if err != nil {
		if errors.Is(err, execution.ErrInvalidTransition) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, "Execution not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, exec)
}

// scheduleRequest is the wire form of a schedule
type scheduleRequest struct {
	Type           models.ScheduleType `json:"type"`
	CronExpression string              `json:"cron_expression,omitempty"`
	OneTimeDate    *time.Time          `json:"one_time_date,omitempty"`
	Timezone       string              `json:"timezone,omitempty"`
	Enabled        bool                `json:"enabled"`
}

// toModel converts a schedule request to the stored form
func (req scheduleRequest) toModel(botID string) models.Schedule {
	sched := models.Schedule{
		BotID:          botID,
		Type:           req.Type,
		CronExpression: req.CronExpression,
		Timezone:       req.Timezone,
		Enabled:        req.Enabled,
	}
	if req.OneTimeDate != nil {
		sched.OneTimeDate = *req.OneTimeDate
	}
	return sched
}

// handlePutSchedule handles creating or replacing a bot's schedule
func (s *Server) handlePutSchedule(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["id"]

	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sched := req.toModel(botID)
	now := time.Now().UTC()

	// Configuration errors are surfaced to the caller, never accepted
	if err := s.evaluator.Validate(sched, now); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Prime the cron cache so the first sweep fires on the boundary
	if sched.Type == models.ScheduleTypeCron {
		next, err := cronexpr.NextRun(sched.CronExpression, now, sched.Location())
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sched.NextRunAt = next
	}

	if err := s.schedules.SaveSchedule(sched); err != nil {
		http.Error(w, "Failed to save schedule", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// handleGetSchedule handles retrieving a bot's schedule
func (s *Server) handleGetSchedule(w http.ResponseWriter, r *http.Request) {
	botID := mux.Vars(r)["id"]

	sched, err := s.schedules.GetSchedule(botID)
	if err != nil {
		http.Error(w, "Schedule not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, sched)
}

// validateResponse is the result of a schedule validation request
type validateResponse struct {
	Valid       bool        `json:"valid"`
	Error       string      `json:"error,omitempty"`
	Description string      `json:"description,omitempty"`
	NextRuns    []time.Time `json:"next_runs,omitempty"`
}

// handleValidateSchedule validates a schedule and previews its next runs
func (s *Server) handleValidateSchedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	sched := req.toModel("")
	now := time.Now().UTC()

	if err := s.evaluator.Validate(sched, now); err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}

	// Preview is best-effort; a disabled schedule still previews
	sched.Enabled = true
	nextRuns, err := s.evaluator.NextRuns(sched, now, 5)
	if err != nil {
		writeJSON(w, http.StatusOK, validateResponse{Valid: false, Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, validateResponse{
		Valid:       true,
		Description: s.evaluator.Describe(sched),
		NextRuns:    nextRuns,
	})
}

// handleWebSocket upgrades to a WebSocket for real-time execution updates
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserID(r)
	if !ok {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}

	s.wsManager.HandleWebSocket(w, r, userID)
}

// dispatcherStore returns the execution store behind the state machine
func (s *Server) dispatcherStore() storage.ExecutionStore {
	return s.machine.Store()
}

// writeDispatchError maps dispatcher errors to HTTP statuses
func writeDispatchError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrBotNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, trigger.ErrBotNotActive), errors.Is(err, trigger.ErrTriggerTypeMismatch):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// intQuery parses an integer query parameter, defaulting to zero
func intQuery(r *http.Request, name string) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0
	}
	var n int
	if _, err := fmt.Sscanf(raw, "%d", &n); err != nil {
		return 0
	}
	return n
}
