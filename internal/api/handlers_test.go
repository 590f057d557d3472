package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/automation"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/internal/timing"
	"github.com/stusseligmini/FionaSparx-sub000/internal/webhook"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

const testToken = "test-token"

type testAPI struct {
	mux  http.Handler
	orch *orchestrator.Orchestrator
}

// setupTestAPI wires the full stack without starting the orchestrator, so triggered
// executions stay SCHEDULED.
func setupTestAPI(t *testing.T) *testAPI {
	t.Helper()
	clk := clock.NewMock(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC))

	orch := orchestrator.New(storage.NewMemoryStore(), nil, zerolog.Nop(), &orchestrator.Config{
		PollInterval: 10 * time.Millisecond,
		Workers:      1,
		QueueSize:    16,
	}, orchestrator.WithClock(clk))

	tcfg := timing.DefaultConfig()
	tcfg.MinuteJitter = false
	engine := timing.NewEngine(storage.NewMemoryStore(), zerolog.Nop(), tcfg, timing.WithClock(clk))
	hooks := webhook.NewRouter(zerolog.Nop(), webhook.Config{}, webhook.WithClock(clk))

	manager := automation.New(orch, hooks, engine, zerolog.Nop(), automation.Config{}, automation.WithClock(clk))
	if err := manager.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Cleanup(func() {
		manager.Stop()
		hooks.Close()
	})

	handler := NewHandler(manager, orch, engine, clk, zerolog.Nop())
	mux := NewRouter(handler, zerolog.Nop(), RouterConfig{
		Auth:     AuthConfig{Token: testToken},
		Webhooks: hooks,
		Audit:    true,
	})
	return &testAPI{mux: mux, orch: orch}
}

func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		if err := json.NewEncoder(&buf).Encode(b); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	a.mux.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *ErrorInfo      `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, data interface{}) envelope {
	t.Helper()
	var env envelope
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", rr.Body.String(), err)
	}
	if data != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, data); err != nil {
			t.Fatalf("failed to unmarshal data: %v", err)
		}
	}
	return env
}

func expectError(t *testing.T, rr *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rr.Code != status {
		t.Fatalf("expected status %d, got %d: %s", status, rr.Code, rr.Body.String())
	}
	env := decode(t, rr, nil)
	if env.Success {
		t.Error("expected success=false")
	}
	if env.Error == nil || env.Error.Code != code {
		t.Errorf("expected error code %s, got %+v", code, env.Error)
	}
}

func TestHandler_HealthCheck(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var data map[string]interface{}
	env := decode(t, rr, &data)
	if !env.Success {
		t.Error("expected success=true")
	}
	if data["status"] != orchestrator.HealthStopped {
		t.Errorf("expected %s before start, got %v", orchestrator.HealthStopped, data["status"])
	}
}

func TestHandler_RequiresToken(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest("GET", "/api/v1/status", nil)
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	expectError(t, rr, http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestHandler_StatusAndHealth(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/status", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", rr.Code)
	}
	var st automation.Status
	decode(t, rr, &st)
	if st.Running {
		t.Error("expected manager not running")
	}
	if st.Orchestrator == nil || st.Orchestrator.Workflows != 9 {
		t.Errorf("expected 9 workflows in status, got %+v", st.Orchestrator)
	}

	rr = api.do(t, "GET", "/api/v1/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", rr.Code)
	}
	var health automation.HealthReport
	decode(t, rr, &health)
	if health.Status != automation.StatusDegraded {
		t.Errorf("expected %s before start, got %s", automation.StatusDegraded, health.Status)
	}
}

func TestHandler_Workflows(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/workflows", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var list struct {
		Workflows []map[string]interface{} `json:"workflows"`
		Total     int                      `json:"total"`
	}
	decode(t, rr, &list)
	if list.Total != 9 || len(list.Workflows) != 9 {
		t.Errorf("expected 9 workflows, got %d", list.Total)
	}

	rr = api.do(t, "GET", "/api/v1/workflows/crisis_management", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var st struct {
		Definition map[string]interface{} `json:"definition"`
	}
	decode(t, rr, &st)
	if st.Definition["priority"] != string(models.PriorityCritical) {
		t.Errorf("expected CRITICAL priority, got %v", st.Definition["priority"])
	}

	expectError(t, api.do(t, "GET", "/api/v1/workflows/nope", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestHandler_TriggerWorkflow(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "POST", "/api/v1/workflows/content_generation_pipeline/trigger",
		TriggerRequest{Params: map[string]interface{}{"count": 1}})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rr.Code, rr.Body.String())
	}
	var trig TriggerResponse
	decode(t, rr, &trig)
	if trig.ExecutionID == "" {
		t.Fatal("expected execution id")
	}

	rr = api.do(t, "GET", "/api/v1/executions/"+trig.ExecutionID, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var exec models.Execution
	decode(t, rr, &exec)
	if exec.Trigger != orchestrator.TriggerManual {
		t.Errorf("expected manual trigger, got %s", exec.Trigger)
	}
	if exec.Status != models.ExecutionScheduled {
		t.Errorf("expected %s, got %s", models.ExecutionScheduled, exec.Status)
	}

	rr = api.do(t, "GET", "/api/v1/workflows/content_generation_pipeline/executions?limit=10", nil)
	var list struct {
		Total int `json:"total"`
	}
	decode(t, rr, &list)
	if list.Total != 1 {
		t.Errorf("expected 1 execution, got %d", list.Total)
	}

	rr = api.do(t, "GET", "/api/v1/workflows/content_generation_pipeline/executions?archived=true", nil)
	decode(t, rr, &list)
	if rr.Code != http.StatusOK || list.Total != 0 {
		t.Errorf("expected empty archive, got %d (%d)", list.Total, rr.Code)
	}
}

func TestHandler_TriggerWorkflow_Errors(t *testing.T) {
	api := setupTestAPI(t)

	tests := []struct {
		name   string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"unknown workflow", "/api/v1/workflows/nope/trigger", nil, http.StatusNotFound, ErrCodeNotFound},
		{"dependency not met", "/api/v1/workflows/fanvue_content_auto/trigger", nil, http.StatusConflict, ErrCodeDependency},
		{"invalid json", "/api/v1/workflows/crisis_management/trigger", "{not json", http.StatusBadRequest, ErrCodeInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectError(t, api.do(t, "POST", tt.path, tt.body), tt.status, tt.code)
		})
	}
}

func TestHandler_EnableDisable(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "POST", "/api/v1/workflows/crisis_management/disable", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var def map[string]interface{}
	decode(t, rr, &def)
	if def["enabled"] != false {
		t.Errorf("expected disabled workflow, got %v", def["enabled"])
	}

	expectError(t, api.do(t, "POST", "/api/v1/workflows/crisis_management/trigger", nil),
		http.StatusBadRequest, ErrCodeValidation)

	if rr := api.do(t, "POST", "/api/v1/workflows/crisis_management/enable", nil); rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if rr := api.do(t, "POST", "/api/v1/workflows/crisis_management/trigger", nil); rr.Code != http.StatusAccepted {
		t.Errorf("expected 202 after enable, got %d", rr.Code)
	}
}

func TestHandler_PauseResume(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "POST", "/api/v1/workflows/engagement_analytics/trigger", nil)
	var trig TriggerResponse
	decode(t, rr, &trig)

	rr = api.do(t, "POST", "/api/v1/executions/"+trig.ExecutionID+"/pause", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("pause: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var exec models.Execution
	decode(t, rr, &exec)
	if exec.Status != models.ExecutionPaused {
		t.Errorf("expected %s, got %s", models.ExecutionPaused, exec.Status)
	}

	expectError(t, api.do(t, "POST", "/api/v1/executions/"+trig.ExecutionID+"/pause", nil),
		http.StatusConflict, ErrCodeConflict)

	rr = api.do(t, "POST", "/api/v1/executions/"+trig.ExecutionID+"/resume", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rr.Code)
	}
	decode(t, rr, &exec)
	if exec.Status != models.ExecutionScheduled {
		t.Errorf("expected %s, got %s", models.ExecutionScheduled, exec.Status)
	}

	expectError(t, api.do(t, "POST", "/api/v1/executions/missing/resume", nil), http.StatusNotFound, ErrCodeNotFound)
}

func TestHandler_Schedule(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/schedule/instagram/lifestyle?date=2024-03-02", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var rec models.ScheduleRecommendation
	decode(t, rr, &rec)
	if rec.Platform != "instagram" {
		t.Errorf("expected instagram, got %s", rec.Platform)
	}
	if !rec.OptimalTime.After(time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)) {
		t.Errorf("expected a future slot, got %s", rec.OptimalTime)
	}

	expectError(t, api.do(t, "GET", "/api/v1/schedule/instagram/lifestyle?date=03-02-2024", nil),
		http.StatusBadRequest, ErrCodeValidation)
}

func TestHandler_EngagementAndAnalytics(t *testing.T) {
	api := setupTestAPI(t)

	expectError(t, api.do(t, "GET", "/api/v1/analytics?platform=instagram&days=7", nil),
		http.StatusNotFound, ErrCodeNoData)

	rr := api.do(t, "POST", "/api/v1/engagement", map[string]interface{}{
		"platform":        "instagram",
		"content_type":    "lifestyle",
		"engagement_rate": 0.05,
		"views":           100,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	if rr := api.do(t, "GET", "/api/v1/analytics?platform=instagram&days=7", nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200 after recording, got %d: %s", rr.Code, rr.Body.String())
	}

	expectError(t, api.do(t, "GET", "/api/v1/analytics?days=week", nil), http.StatusBadRequest, ErrCodeValidation)
	expectError(t, api.do(t, "POST", "/api/v1/engagement", "[]"), http.StatusBadRequest, ErrCodeInvalidJSON)
	expectError(t, api.do(t, "POST", "/api/v1/engagement", map[string]interface{}{
		"platform":        "instagram",
		"engagement_rate": 2.5,
	}), http.StatusBadRequest, ErrCodeValidation)
}

func TestHandler_GenerateContent(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "POST", "/api/v1/content/generate", GenerateRequest{Platform: "fanvue", Count: 2})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var res automation.GenerationResult
	decode(t, rr, &res)
	if res.GeneratedContent != 2 {
		t.Errorf("expected 2 items, got %d", res.GeneratedContent)
	}
	if len(res.Schedule) != 2 {
		t.Errorf("expected 2 scheduled items, got %d", len(res.Schedule))
	}

	off := false
	rr = api.do(t, "POST", "/api/v1/content/generate", GenerateRequest{Platform: "fanvue", Count: 1, AutoSchedule: &off})
	var plain automation.GenerationResult
	decode(t, rr, &plain)
	if plain.GeneratedContent != 1 || len(plain.Schedule) != 0 {
		t.Errorf("expected 1 unscheduled item, got %d items and %d slots", plain.GeneratedContent, len(plain.Schedule))
	}

	expectError(t, api.do(t, "POST", "/api/v1/content/generate", GenerateRequest{Count: 1}),
		http.StatusBadRequest, ErrCodeValidation)
}

func TestHandler_ABTests(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "POST", "/api/v1/abtests", ABTestRequest{Platform: "instagram", ContentType: "lifestyle", DurationDays: 3})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var test models.ABTest
	decode(t, rr, &test)
	if len(test.CandidateTimes) != len(automation.DefaultABTestHours) {
		t.Errorf("expected %d candidates, got %d", len(automation.DefaultABTestHours), len(test.CandidateTimes))
	}

	rr = api.do(t, "GET", "/api/v1/abtests", nil)
	var tests []models.ABTest
	decode(t, rr, &tests)
	if len(tests) != 1 {
		t.Errorf("expected 1 test, got %d", len(tests))
	}

	if rr := api.do(t, "GET", "/api/v1/abtests/"+test.ID, nil); rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
	expectError(t, api.do(t, "GET", "/api/v1/abtests/missing", nil), http.StatusNotFound, ErrCodeNotFound)
	expectError(t, api.do(t, "POST", "/api/v1/abtests", ABTestRequest{Platform: "instagram", Hours: []int{9, 25}}),
		http.StatusBadRequest, ErrCodeValidation)
}

func TestHandler_PerformanceAndExport(t *testing.T) {
	api := setupTestAPI(t)

	rr := api.do(t, "GET", "/api/v1/performance?days=7", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("performance: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	rr = api.do(t, "GET", "/api/v1/export", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var out map[string]interface{}
	decode(t, rr, &out)
	if len(out) == 0 {
		t.Error("expected a non-empty export")
	}
}

func TestRouter_MountsWebhooks(t *testing.T) {
	api := setupTestAPI(t)

	req := httptest.NewRequest("GET", "/webhooks/health", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	rr := httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	req = httptest.NewRequest("POST", "/webhooks/alert", bytes.NewBufferString(`{"severity":"low"}`))
	rr = httptest.NewRecorder()
	api.mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without webhook token, got %d", rr.Code)
	}
}

func TestRouter_CORSAllowsSignatureHeader(t *testing.T) {
	tests := []struct {
		name   string
		header string
		expect string
	}{
		{"default header", "", "X-Signature"},
		{"configured header", "X-Hub-Signature-256", "X-Hub-Signature-256"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := NewRouter(&Handler{}, zerolog.Nop(), RouterConfig{SignatureHeader: tt.header})

			req := httptest.NewRequest(http.MethodOptions, "/webhooks/alert", nil)
			req.Header.Set("Origin", "https://dashboard.example.com")
			req.Header.Set("Access-Control-Request-Method", http.MethodPost)
			req.Header.Set("Access-Control-Request-Headers", tt.expect)
			rr := httptest.NewRecorder()
			mux.ServeHTTP(rr, req)

			got := rr.Header().Get("Access-Control-Allow-Headers")
			if got != tt.expect {
				t.Errorf("Access-Control-Allow-Headers = %q, want %q", got, tt.expect)
			}
		})
	}

	mux := NewRouter(&Handler{}, zerolog.Nop(), RouterConfig{})
	req := httptest.NewRequest(http.MethodOptions, "/webhooks/alert", nil)
	req.Header.Set("Origin", "https://dashboard.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "X-Webhook-Signature")
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if got := rr.Header().Get("Access-Control-Allow-Headers"); got != "" {
		t.Errorf("expected unknown signature header to be refused, got %q", got)
	}
}

func TestMapDomainError(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{models.ErrWorkflowNotFound, http.StatusNotFound, ErrCodeNotFound},
		{models.NewValidationError("workflow_id", "unknown", models.ErrWorkflowNotFound), http.StatusNotFound, ErrCodeNotFound},
		{models.NewValidationError("platform", "required", nil), http.StatusBadRequest, ErrCodeValidation},
		{&models.DependencyNotMetError{WorkflowID: "a", Missing: []string{"b"}}, http.StatusConflict, ErrCodeDependency},
		{models.ErrOrchestratorHalted, http.StatusServiceUnavailable, ErrCodeHalted},
		{models.ErrNoAnalyticsData, http.StatusNotFound, ErrCodeNoData},
		{&models.TimeoutError{ExecutionID: "x", Timeout: time.Second}, http.StatusInternalServerError, ErrCodeExecutionError},
		{bytes.ErrTooLarge, http.StatusInternalServerError, ErrCodeInternalError},
	}

	for _, tt := range tests {
		got := MapDomainError(tt.err)
		if got.HTTPStatus != tt.status || got.Code != tt.code {
			t.Errorf("MapDomainError(%v) = %d %s, want %d %s", tt.err, got.HTTPStatus, got.Code, tt.status, tt.code)
		}
	}
	if MapDomainError(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
