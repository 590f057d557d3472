// Package api provides the REST API handlers.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/automation"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
	"github.com/stusseligmini/FionaSparx-sub000/internal/timing"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// Handler handles API requests.
type Handler struct {
	manager *automation.Manager
	orch    *orchestrator.Orchestrator
	engine  *timing.Engine
	clock   clock.Clock
	logger  zerolog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(manager *automation.Manager, orch *orchestrator.Orchestrator, engine *timing.Engine, clk clock.Clock, logger zerolog.Logger) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		manager: manager,
		orch:    orch,
		engine:  engine,
		clock:   clk,
		logger:  logger.With().Str("component", "api").Logger(),
	}
}

// API Response types

// Response is a generic API response.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorInfo  `json:"error,omitempty"`
}

// ErrorInfo contains error details.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// TriggerRequest is the optional body of a manual trigger.
type TriggerRequest struct {
	Params map[string]interface{} `json:"params,omitempty"`
}

// TriggerResponse identifies the execution created by a trigger.
type TriggerResponse struct {
	ExecutionID string `json:"execution_id"`
	WorkflowID  string `json:"workflow_id"`
}

// ListWorkflowsResponse is the response for listing workflows.
type ListWorkflowsResponse struct {
	Workflows []*models.WorkflowDefinition `json:"workflows"`
	Total     int                          `json:"total"`
}

// ListExecutionsResponse is the response for listing executions.
type ListExecutionsResponse struct {
	Executions []*models.Execution `json:"executions"`
	Total      int                 `json:"total"`
	Archived   bool                `json:"archived,omitempty"`
}

// GenerateRequest is the body of POST /api/v1/content/generate.
type GenerateRequest struct {
	Platform     models.Platform    `json:"platform"`
	ContentType  models.ContentType `json:"content_type"`
	Count        int                `json:"count"`
	AutoSchedule *bool              `json:"auto_schedule,omitempty"`
}

// ABTestRequest is the body of POST /api/v1/abtests.
type ABTestRequest struct {
	Platform     models.Platform    `json:"platform"`
	ContentType  models.ContentType `json:"content_type"`
	DurationDays int                `json:"duration_days"`
	Hours        []int              `json:"hours,omitempty"`
}

// Health check

// HealthCheck handles GET /health. It reports 503 once the orchestrator has halted.
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := h.orch.Health()
	status := http.StatusOK
	if health.Status == orchestrator.HealthHalted {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, Response{
		Success: status == http.StatusOK,
		Data: map[string]interface{}{
			"status":       health.Status,
			"orchestrator": health,
			"timestamp":    h.clock.Now().UTC(),
		},
	})
}

// DetailedHealth handles GET /api/v1/health.
func (h *Handler) DetailedHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.manager.HealthCheck(r.Context())})
}

// Status handles GET /api/v1/status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	st, err := h.manager.Status()
	if h.HandleError(w, err, "get status") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: st})
}

// Workflow handlers

// ListWorkflows handles GET /api/v1/workflows.
func (h *Handler) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	defs, err := h.orch.Workflows()
	if h.HandleError(w, err, "list workflows") {
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    ListWorkflowsResponse{Workflows: defs, Total: len(defs)},
	})
}

// GetWorkflow handles GET /api/v1/workflows/{id}.
func (h *Handler) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	st, err := h.orch.WorkflowStatus(chi.URLParam(r, "id"))
	if h.HandleError(w, err, "get workflow") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: st})
}

// TriggerWorkflow handles POST /api/v1/workflows/{id}/trigger.
func (h *Handler) TriggerWorkflow(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")

	var req TriggerRequest
	if err := decodeOptional(r, &req); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}

	execID, err := h.manager.TriggerWorkflow(r.Context(), workflowID, req.Params)
	if h.HandleError(w, err, "trigger workflow") {
		return
	}

	h.logger.Info().Str("workflow_id", workflowID).Str("execution_id", execID).Msg("Workflow triggered")
	writeJSON(w, http.StatusAccepted, Response{
		Success: true,
		Data:    TriggerResponse{ExecutionID: execID, WorkflowID: workflowID},
	})
}

// EnableWorkflow handles POST /api/v1/workflows/{id}/enable.
func (h *Handler) EnableWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowEnabled(w, r, true)
}

// DisableWorkflow handles POST /api/v1/workflows/{id}/disable.
func (h *Handler) DisableWorkflow(w http.ResponseWriter, r *http.Request) {
	h.setWorkflowEnabled(w, r, false)
}

func (h *Handler) setWorkflowEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	workflowID := chi.URLParam(r, "id")
	if h.HandleError(w, h.orch.SetEnabled(workflowID, enabled), "update workflow") {
		return
	}
	def, err := h.orch.Workflow(workflowID)
	if h.HandleError(w, err, "get workflow") {
		return
	}
	h.logger.Info().Str("workflow_id", workflowID).Bool("enabled", enabled).Msg("Workflow updated")
	writeJSON(w, http.StatusOK, Response{Success: true, Data: def})
}

// Execution handlers

// ListExecutions handles GET /api/v1/workflows/{id}/executions. archived=true reads the archive.
func (h *Handler) ListExecutions(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "id")
	if _, err := h.orch.Workflow(workflowID); h.HandleError(w, err, "get workflow") {
		return
	}

	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.WriteAPIError(w, NewValidationError("limit must be a number"))
		return
	}
	archived := r.URL.Query().Get("archived") == "true"

	var execs []*models.Execution
	if archived {
		execs, err = h.orch.ArchivedExecutions(workflowID, limit)
	} else {
		execs, err = h.orch.Executions(workflowID, limit)
	}
	if h.HandleError(w, err, "list executions") {
		return
	}
	writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    ListExecutionsResponse{Executions: execs, Total: len(execs), Archived: archived},
	})
}

// GetExecution handles GET /api/v1/executions/{execId}.
func (h *Handler) GetExecution(w http.ResponseWriter, r *http.Request) {
	exec, err := h.orch.Execution(chi.URLParam(r, "execId"))
	if h.HandleError(w, err, "get execution") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: exec})
}

// PauseExecution handles POST /api/v1/executions/{execId}/pause.
func (h *Handler) PauseExecution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Pause, "pause execution")
}

// ResumeExecution handles POST /api/v1/executions/{execId}/resume.
func (h *Handler) ResumeExecution(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.orch.Resume, "resume execution")
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(string) error, operation string) {
	execID := chi.URLParam(r, "execId")
	if h.HandleError(w, op(execID), operation) {
		return
	}
	exec, err := h.orch.Execution(execID)
	if h.HandleError(w, err, "get execution") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: exec})
}

// Timing handlers

// GetSchedule handles GET /api/v1/schedule/{platform}/{contentType}?date=YYYY-MM-DD.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	target := h.clock.Now()
	if d := r.URL.Query().Get("date"); d != "" {
		parsed, err := time.ParseInLocation("2006-01-02", d, target.Location())
		if err != nil {
			h.WriteAPIError(w, NewValidationError("date must be YYYY-MM-DD"))
			return
		}
		target = parsed
	}

	rec, err := h.engine.GetOptimalSchedule(r.Context(),
		models.Platform(chi.URLParam(r, "platform")),
		models.ContentType(chi.URLParam(r, "contentType")),
		target)
	if h.HandleError(w, err, "get schedule") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: rec})
}

// GetAnalytics handles GET /api/v1/analytics?platform=&days=.
func (h *Handler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.WriteAPIError(w, NewValidationError("days must be a number"))
		return
	}
	report, err := h.engine.GetAnalytics(models.Platform(r.URL.Query().Get("platform")), days)
	if h.HandleError(w, err, "get analytics") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: report})
}

// GetPerformance handles GET /api/v1/performance?platform=&days=.
func (h *Handler) GetPerformance(w http.ResponseWriter, r *http.Request) {
	days, err := queryInt(r, "days", 30)
	if err != nil {
		h.WriteAPIError(w, NewValidationError("days must be a number"))
		return
	}
	report, err := h.manager.AnalyzePerformance(r.Context(), models.Platform(r.URL.Query().Get("platform")), days)
	if h.HandleError(w, err, "analyze performance") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: report})
}

// RecordEngagement handles POST /api/v1/engagement.
func (h *Handler) RecordEngagement(w http.ResponseWriter, r *http.Request) {
	var data models.EngagementData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}
	if data.Timestamp.IsZero() {
		data.Timestamp = h.clock.Now()
	}
	if h.HandleError(w, h.engine.Record(data), "record engagement") {
		return
	}
	writeJSON(w, http.StatusCreated, Response{
		Success: true,
		Data:    map[string]interface{}{"recorded": true, "history_size": h.engine.HistorySize()},
	})
}

// GenerateContent handles POST /api/v1/content/generate.
func (h *Handler) GenerateContent(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}
	autoSchedule := req.AutoSchedule == nil || *req.AutoSchedule

	res, err := h.manager.GenerateWithSchedule(r.Context(), req.Platform, req.ContentType, req.Count, autoSchedule)
	if h.HandleError(w, err, "generate content") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: res})
}

// A/B test handlers

// CreateABTest handles POST /api/v1/abtests.
func (h *Handler) CreateABTest(w http.ResponseWriter, r *http.Request) {
	var req ABTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.WriteAPIError(w, ErrInvalidJSON)
		return
	}

	id, err := h.manager.RunABTest(r.Context(), req.Platform, req.ContentType, req.DurationDays, req.Hours...)
	if h.HandleError(w, err, "create ab test") {
		return
	}
	test, err := h.engine.ABTest(id)
	if h.HandleError(w, err, "get ab test") {
		return
	}
	writeJSON(w, http.StatusCreated, Response{Success: true, Data: test})
}

// ListABTests handles GET /api/v1/abtests.
func (h *Handler) ListABTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, Response{Success: true, Data: h.engine.ABTests()})
}

// GetABTest handles GET /api/v1/abtests/{id}.
func (h *Handler) GetABTest(w http.ResponseWriter, r *http.Request) {
	test, err := h.engine.ABTest(chi.URLParam(r, "id"))
	if h.HandleError(w, err, "get ab test") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: test})
}

// Export handles GET /api/v1/export.
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	out, err := h.manager.ExportConfiguration()
	if h.HandleError(w, err, "export configuration") {
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// decodeOptional decodes a JSON body, treating an empty body as the zero value.
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err *APIError) {
	writeJSON(w, err.HTTPStatus, Response{
		Success: false,
		Error:   &ErrorInfo{Code: err.Code, Message: err.Message},
	})
}
