package webhook

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
)

// Workflows triggered by the default endpoints.
const (
	WorkflowContentGeneration   = "content_generation_pipeline"
	WorkflowEngagementAnalytics = "engagement_analytics"
	WorkflowRevenueOptimization = "revenue_optimization"
	WorkflowCrisisManagement    = "crisis_management"
)

// Executor is the part of the orchestrator the default handlers drive.
type Executor interface {
	ExecuteWithTrigger(ctx context.Context, workflowID, trigger string, params map[string]interface{}) (string, error)
	SystemStatus() (*orchestrator.SystemStatus, error)
	Health() orchestrator.HealthReport
}

// EngagementRecorder ingests engagement observations.
type EngagementRecorder interface {
	Record(data models.EngagementData) error
}

type defaultHandlers struct {
	router   *Router
	exec     Executor
	recorder EngagementRecorder
}

// RegisterDefaults registers the canonical endpoints. recorder may be nil, in which
// case engagement payloads only drive the analytics trigger.
func (r *Router) RegisterDefaults(exec Executor, recorder EngagementRecorder) error {
	h := &defaultHandlers{router: r, exec: exec, recorder: recorder}

	endpoints := []*Endpoint{
		{
			ID:           "content_generation_trigger",
			Path:         "/webhooks/generate-content",
			Method:       http.MethodPost,
			EventType:    EventContentRequest,
			Handler:      h.contentGeneration,
			AuthRequired: true,
		},
		{
			ID:           "engagement_update",
			Path:         "/webhooks/engagement",
			Method:       http.MethodPost,
			EventType:    EventEngagementUpdate,
			Handler:      h.engagementUpdate,
			AuthRequired: true,
		},
		{
			ID:           "revenue_event",
			Path:         "/webhooks/revenue",
			Method:       http.MethodPost,
			EventType:    EventRevenue,
			Handler:      h.revenueEvent,
			AuthRequired: true,
		},
		{
			ID:           "system_alert",
			Path:         "/webhooks/alert",
			Method:       http.MethodPost,
			EventType:    EventSystemAlert,
			Handler:      h.systemAlert,
			AuthRequired: true,
		},
		{
			ID:           "manual_trigger",
			Path:         "/webhooks/trigger/{workflow_id}",
			Method:       http.MethodPost,
			EventType:    EventManualTrigger,
			Handler:      h.manualTrigger,
			AuthRequired: true,
		},
		{
			ID:        "health_check",
			Path:      "/webhooks/health",
			Method:    http.MethodGet,
			EventType: EventSystemAlert,
			Handler:   h.healthCheck,
		},
	}

	for _, ep := range endpoints {
		if err := r.Register(ep); err != nil {
			return err
		}
	}
	r.logger.Info().Int("count", len(endpoints)).Msg("Registered default webhook endpoints")
	return nil
}

func (h *defaultHandlers) trigger(ctx context.Context, workflowID string, event *Event, params map[string]interface{}) (string, error) {
	if params == nil {
		params = make(map[string]interface{})
	}
	params["event_id"] = event.ID
	return h.exec.ExecuteWithTrigger(ctx, workflowID, orchestrator.TriggerWebhook, params)
}

func (h *defaultHandlers) contentGeneration(ctx context.Context, event *Event) (map[string]interface{}, error) {
	platform := stringField(event.Body, "platform", "fanvue")
	contentType := stringField(event.Body, "content_type", "lifestyle")
	count := 1
	if n, ok := numberField(event.Body, "count"); ok && n >= 1 {
		count = int(n)
	}

	parameters := map[string]interface{}{
		"platform":     platform,
		"content_type": contentType,
		"count":        count,
	}
	execID, err := h.trigger(ctx, WorkflowContentGeneration, event, copyParams(parameters))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message":      "Content generation triggered",
		"execution_id": execID,
		"parameters":   parameters,
	}, nil
}

// engagementUpdate records the observation with the timing engine and runs the
// analytics workflow when growth_rate exceeds the configured threshold.
func (h *defaultHandlers) engagementUpdate(ctx context.Context, event *Event) (map[string]interface{}, error) {
	platform := stringField(event.Body, "platform", "")
	postID := stringField(event.Body, "post_id", "")
	engagement, _ := event.Body["engagement"].(map[string]interface{})
	if engagement == nil {
		engagement = map[string]interface{}{}
	}

	result := map[string]interface{}{
		"message":             "Engagement data processed",
		"recorded":            false,
		"triggered_analytics": false,
	}

	if h.recorder != nil {
		rate, ok := engagementRate(engagement, event.Body, h.router.config.NominalReach)
		if ok {
			contentType := stringField(event.Body, "content_type", stringField(engagement, "content_type", ""))
			if contentType == "" {
				contentType = string(h.router.config.DefaultContentType)
			}
			views := intField(engagement, "views")
			if views == 0 {
				views = intField(engagement, "reach")
			}
			data := models.EngagementData{
				Timestamp:      timeField(event.Body, "timestamp", event.Timestamp),
				Platform:       models.Platform(strings.ToLower(platform)),
				ContentType:    models.ContentType(strings.ToLower(contentType)),
				PostID:         postID,
				EngagementRate: rate,
				Views:          views,
				Likes:          intField(engagement, "likes"),
				Comments:       intField(engagement, "comments"),
				Shares:         intField(engagement, "shares"),
			}
			if revenue, ok := numberField(engagement, "revenue_impact"); ok {
				data.RevenueImpact = revenue
			}
			if err := h.recorder.Record(data); err != nil {
				return nil, err
			}
			result["recorded"] = true
		} else {
			h.router.logger.Warn().
				Str("event_id", event.ID).
				Str("platform", platform).
				Str("post_id", postID).
				Msg("Engagement update has no engagement_rate or interaction counts, nothing recorded")
		}
	}

	growth, _ := numberField(engagement, "growth_rate")
	if growth > h.router.config.GrowthThreshold {
		execID, err := h.trigger(ctx, WorkflowEngagementAnalytics, event, map[string]interface{}{
			"platform":    platform,
			"post_id":     postID,
			"growth_rate": growth,
		})
		if err != nil {
			return nil, err
		}
		result["triggered_analytics"] = true
		result["execution_id"] = execID
	}
	return result, nil
}

func (h *defaultHandlers) revenueEvent(ctx context.Context, event *Event) (map[string]interface{}, error) {
	amount, _ := numberField(event.Body, "amount")
	execID, err := h.trigger(ctx, WorkflowRevenueOptimization, event, map[string]interface{}{
		"event_type": stringField(event.Body, "event_type", ""),
		"amount":     amount,
		"platform":   stringField(event.Body, "platform", ""),
		"source":     stringField(event.Body, "source", ""),
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message":        "Revenue event processed",
		"execution_id":   execID,
		"revenue_impact": amount,
	}, nil
}

func (h *defaultHandlers) systemAlert(ctx context.Context, event *Event) (map[string]interface{}, error) {
	alertType := stringField(event.Body, "type", "unknown")
	severity := strings.ToLower(stringField(event.Body, "severity", "medium"))
	message := stringField(event.Body, "message", "No message provided")

	if severity != "critical" && severity != "high" {
		h.router.logger.Info().
			Str("alert_type", alertType).
			Str("severity", severity).
			Str("message", message).
			Msg("Alert logged")
		return map[string]interface{}{
			"message":       "Alert logged",
			"alert_handled": false,
		}, nil
	}

	execID, err := h.trigger(ctx, WorkflowCrisisManagement, event, map[string]interface{}{
		"type":     alertType,
		"severity": severity,
		"message":  message,
	})
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message":       "Critical alert processed",
		"execution_id":  execID,
		"alert_handled": true,
	}, nil
}

func (h *defaultHandlers) manualTrigger(ctx context.Context, event *Event) (map[string]interface{}, error) {
	workflowID := event.Params["workflow_id"]
	if workflowID == "" {
		return nil, models.NewValidationError("workflow_id", "workflow id not provided in path", nil)
	}

	execID, err := h.trigger(ctx, workflowID, event, copyParams(event.Body))
	if err != nil {
		return nil, err
	}
	return map[string]interface{}{
		"message":      fmt.Sprintf("Workflow %s triggered manually", workflowID),
		"execution_id": execID,
	}, nil
}

func (h *defaultHandlers) healthCheck(ctx context.Context, event *Event) (map[string]interface{}, error) {
	health := h.exec.Health()
	status, err := h.exec.SystemStatus()
	if err != nil {
		return nil, err
	}
	stats := h.router.Stats()

	overall := "healthy"
	if health.Status != orchestrator.HealthOK {
		overall = "degraded"
	}
	return map[string]interface{}{
		"status":    overall,
		"timestamp": event.Timestamp.Format(time.RFC3339),
		"server": map[string]interface{}{
			"running":   true,
			"uptime":    stats.Uptime,
			"endpoints": stats.TotalEndpoints,
		},
		"orchestrator": map[string]interface{}{
			"health": health,
			"status": status,
		},
	}, nil
}

// engagementRate returns the explicit engagement_rate, or derives it as
// (likes+comments+shares) over views, reach or the nominal reach. It reports
// false when the update carries neither a rate nor any interaction count.
func engagementRate(engagement, body map[string]interface{}, nominalReach int) (float64, bool) {
	if rate, ok := numberField(engagement, "engagement_rate"); ok {
		return rate, true
	}

	var interactions float64
	counted := false
	for _, key := range []string{"likes", "comments", "shares"} {
		if n, ok := numberField(engagement, key); ok {
			interactions += n
			counted = true
		}
	}
	if !counted {
		return 0, false
	}

	reach := 0.0
	for _, m := range []map[string]interface{}{engagement, body} {
		for _, key := range []string{"views", "reach"} {
			if n, ok := numberField(m, key); ok && n > 0 && reach == 0 {
				reach = n
			}
		}
	}
	if reach == 0 {
		reach = float64(nominalReach)
	}
	if reach <= 0 {
		return 0, false
	}
	return math.Max(0, math.Min(1, interactions/reach)), true
}

func copyParams(m map[string]interface{}) map[string]interface{} {
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func stringField(m map[string]interface{}, key, def string) string {
	switch v := m[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

// numberField reads JSON numbers and numeric strings.
func numberField(m map[string]interface{}, key string) (float64, bool) {
	switch v := m[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func intField(m map[string]interface{}, key string) int {
	n, _ := numberField(m, key)
	return int(n)
}

func timeField(m map[string]interface{}, key string, def time.Time) time.Time {
	if s, ok := m[key].(string); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t
		}
	}
	return def
}
