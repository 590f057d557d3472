package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/notify"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
)

// Default workflow ids.
const (
	WorkflowContentGeneration       = "content_generation_pipeline"
	WorkflowSmartScheduling         = "smart_scheduling_engine"
	WorkflowEngagementAnalytics     = "engagement_analytics"
	WorkflowRevenueOptimization     = "revenue_optimization"
	WorkflowCrisisManagement        = "crisis_management"
	WorkflowFanvueContent           = "fanvue_content_auto"
	WorkflowLoyalfansContent        = "loyalfans_content_auto"
	WorkflowQualityAssessment       = "quality_assessment_auto"
	WorkflowPerformanceOptimization = "performance_optimization"
)

type workflowSpec struct {
	def  *models.WorkflowDefinition
	body orchestrator.Body
}

func describe(def *models.WorkflowDefinition, description string) *models.WorkflowDefinition {
	def.Description = description
	return def
}

// defaultWorkflows lists the built-in workflows in registration order; dependencies
// come before their dependents.
func (m *Manager) defaultWorkflows() []workflowSpec {
	return []workflowSpec{
		{
			def: describe(models.NewWorkflow(WorkflowContentGeneration, "Content Generation Pipeline",
				models.PriorityHigh, "0 */6 * * *"), "Parallel content generation for all platforms"),
			body: m.contentGeneration,
		},
		{
			def: describe(models.NewWorkflow(WorkflowSmartScheduling, "Smart Scheduling Engine",
				models.PriorityMedium, "0 */1 * * *"), "Optimal posting times per platform"),
			body: m.smartScheduling,
		},
		{
			def: describe(models.NewWorkflow(WorkflowEngagementAnalytics, "Engagement Analytics Pipeline",
				models.PriorityHigh, "*/15 * * * *"), "Learning from recent engagement"),
			body: m.engagementAnalytics,
		},
		{
			def: describe(models.NewWorkflow(WorkflowRevenueOptimization, "Revenue Optimization Workflow",
				models.PriorityCritical, "*/30 * * * *"), "Track revenue by platform and content type"),
			body: m.revenueOptimization,
		},
		{
			def: describe(models.NewWorkflow(WorkflowCrisisManagement, "Crisis Management Workflow",
				models.PriorityCritical, "*/5 * * * *"), "Handle failures and alerts"),
			body: m.crisisManagement,
		},
		{
			def: describe(models.NewWorkflow(WorkflowFanvueContent, "Fanvue Content Auto-Generation",
				models.PriorityHigh, "0 */4 * * *", WorkflowSmartScheduling), "Generate, schedule and publish Fanvue content"),
			body: m.platformContent(models.PlatformFanvue),
		},
		{
			def: describe(models.NewWorkflow(WorkflowLoyalfansContent, "LoyalFans Content Auto-Generation",
				models.PriorityHigh, "0 */6 * * *", WorkflowSmartScheduling), "Generate, schedule and publish LoyalFans content"),
			body: m.platformContent(models.PlatformLoyalfans),
		},
		{
			def: describe(models.NewWorkflow(WorkflowQualityAssessment, "Automated Quality Assessment",
				models.PriorityMedium, "0 */2 * * *"), "Regular quality assessment of generated content"),
			body: m.qualityAssessment,
		},
		{
			def: describe(models.NewWorkflow(WorkflowPerformanceOptimization, "Performance Optimization Workflow",
				models.PriorityMedium, "0 0 * * *"), "Analyze and optimize content performance"),
			body: m.performanceOptimization,
		},
	}
}

func paramString(params map[string]interface{}, key, def string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return def
}

func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// contentGeneration generates for the platform in params, or for every configured platform.
func (m *Manager) contentGeneration(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	contentType := models.ContentType(strings.ToLower(paramString(run.Params, "content_type", string(models.ContentLifestyle))))
	platforms := m.config.Platforms
	if p := paramString(run.Params, "platform", ""); p != "" {
		platforms = []models.Platform{models.Platform(strings.ToLower(p))}
	}

	count := paramInt(run.Params, "count", 0)
	if count > MaxItemsPerRequest {
		count = MaxItemsPerRequest
	}
	byPlatform, err := m.generateAll(ctx, platforms, contentType, count)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int, len(byPlatform))
	for p, items := range byPlatform {
		counts[string(p)] = len(items)
	}
	return map[string]interface{}{
		"generated_content": counts,
		"content_type":      string(contentType),
	}, nil
}

func (m *Manager) smartScheduling(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	now := m.clock.Now()
	times := make(map[string]string, len(m.config.Platforms))
	confidence := make(map[string]string, len(m.config.Platforms))
	for _, p := range m.config.Platforms {
		rec, err := m.engine.GetOptimalSchedule(ctx, p, models.ContentLifestyle, now)
		if err != nil {
			return nil, err
		}
		times[string(p)] = rec.OptimalTime.Format("15:04")
		confidence[string(p)] = string(rec.Confidence)
	}
	return map[string]interface{}{
		"optimal_times": times,
		"confidence":    confidence,
	}, nil
}

// engagementAnalytics prunes expired history and summarizes the last day.
func (m *Manager) engagementAnalytics(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	pruned, err := m.engine.Prune()
	if err != nil {
		return nil, err
	}

	result := map[string]interface{}{"pruned_records": pruned}
	if growth, ok := run.Params["growth_rate"]; ok {
		result["growth_rate"] = growth
	}

	report, err := m.engine.GetAnalytics(models.Platform(paramString(run.Params, "platform", "")), 1)
	if errors.Is(err, models.ErrNoAnalyticsData) {
		result["total_posts"] = 0
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	result["total_posts"] = report.TotalPosts
	result["average_engagement"] = report.AverageEngagement
	if top := topContentType(report); top != "" {
		result["top_content_type"] = top
	}
	if len(report.BestHours) > 0 {
		result["best_hour"] = report.BestHours[0].Hour
	}
	return result, nil
}

func topContentType(report *models.AnalyticsReport) models.ContentType {
	var top models.ContentType
	best := -1.0
	for ct, perf := range report.ContentPerformance {
		if perf.AverageEngagement > best || perf.AverageEngagement == best && ct < top {
			top, best = ct, perf.AverageEngagement
		}
	}
	return top
}

func (m *Manager) revenueOptimization(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	result := map[string]interface{}{}
	if amount, ok := run.Params["amount"]; ok {
		result["event_amount"] = amount
		result["event_source"] = paramString(run.Params, "source", "")
	}

	report, err := m.engine.GetAnalytics("", 7)
	if errors.Is(err, models.ErrNoAnalyticsData) {
		result["weekly_revenue"] = 0.0
		return result, nil
	}
	if err != nil {
		return nil, err
	}

	byType := make(map[string]float64, len(report.ContentPerformance))
	for ct, perf := range report.ContentPerformance {
		byType[string(ct)] = perf.TotalRevenue
	}
	result["weekly_revenue"] = report.TotalRevenue
	result["revenue_by_content_type"] = byType
	if top := topContentType(report); top != "" {
		result["recommendation"] = fmt.Sprintf("Schedule more %s content", top)
	}
	return result, nil
}

// crisisManagement inspects orchestrator health and acknowledges alerts passed in params.
func (m *Manager) crisisManagement(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	status, err := m.orch.SystemStatus()
	if err != nil {
		return nil, err
	}

	actions := []string{}
	severity := paramString(run.Params, "severity", "unknown")
	msg := paramString(run.Params, "message", "")
	if msg != "" {
		actions = append(actions, fmt.Sprintf("acknowledged %s alert: %s", severity, msg))
	}
	failed := status.Executions[models.ExecutionFailed]
	if failed > 0 {
		actions = append(actions, fmt.Sprintf("review %d failed executions", failed))
	}

	if m.notifier != nil && (msg != "" || status.Halted) {
		n := &notify.Notification{
			Event:       notify.EventSystemAlert,
			Title:       "Crisis management: " + severity + " alert",
			Message:     msg,
			Severity:    notify.ParseSeverity(severity),
			WorkflowID:  run.WorkflowID,
			ExecutionID: run.ExecutionID,
			Details:     map[string]interface{}{"failed_executions": failed, "queue_depth": status.QueueDepth},
		}
		if status.Halted {
			n.Event = notify.EventOrchestratorHalted
			n.Severity = notify.SeverityCritical
			n.Message = status.Fault
		}
		delivered, err := m.notifier.Notify(ctx, n)
		if err != nil {
			m.logger.Warn().Err(err).Msg("Alert notification incomplete")
		}
		if delivered > 0 {
			actions = append(actions, fmt.Sprintf("notified %d channels", delivered))
		}
	}
	if failed > 0 || len(actions) > 0 {
		m.logger.Warn().Strs("actions", actions).Int("failed", failed).Msg("Crisis management actions")
	}

	return map[string]interface{}{
		"system_health": map[string]interface{}{
			"halted":            status.Halted,
			"failed_executions": failed,
			"queue_depth":       status.QueueDepth,
		},
		"actions_taken": actions,
	}, nil
}

// platformContent generates, schedules and publishes content for one platform.
func (m *Manager) platformContent(platform models.Platform) orchestrator.Body {
	return func(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
		contentType := models.ContentType(paramString(run.Params, "content_type", string(models.ContentLifestyle)))
		gen, err := m.GenerateWithSchedule(ctx, platform, contentType, m.config.ItemsPerRun, true)
		if err != nil {
			return nil, err
		}

		published := 0
		for _, item := range gen.Items {
			ok, err := m.publisher.Publish(ctx, platform, item)
			if err != nil {
				return nil, fmt.Errorf("publish %s: %w", item.ID, err)
			}
			if ok {
				published++
			}
		}
		return map[string]interface{}{
			"platform":  string(platform),
			"generated": gen.GeneratedContent,
			"published": published,
			"scheduled": len(gen.Schedule),
		}, nil
	}
}

// qualityAssessment checks recently generated items for missing captions or media.
func (m *Manager) qualityAssessment(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	items := m.recentItems()
	flagged := []string{}
	for _, item := range items {
		if strings.TrimSpace(item.Caption) == "" || item.MediaPath == "" {
			flagged = append(flagged, item.ID)
		}
	}
	score := 1.0
	if len(items) > 0 {
		score = float64(len(items)-len(flagged)) / float64(len(items))
	}
	return map[string]interface{}{
		"assessed":      len(items),
		"flagged_items": flagged,
		"quality_score": score,
	}, nil
}

func (m *Manager) performanceOptimization(ctx context.Context, run *orchestrator.Run) (map[string]interface{}, error) {
	report, err := m.AnalyzePerformance(ctx, "", 30)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{
		"total_executions": report.AutomationStats.TotalExecutions,
		"success_rate":     report.AutomationStats.SuccessRate,
	}
	if a := report.SchedulingAnalytics; a != nil {
		result["average_engagement"] = a.AverageEngagement
		if len(a.BestHours) > 0 {
			result["best_hour"] = a.BestHours[0].Hour
		}
	}
	return result, nil
}
