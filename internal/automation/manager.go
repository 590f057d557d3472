// Package automation ties the orchestrator, the ingress router and the timing
// engine together: it registers the default workflows and exposes the
// operator-level operations.
package automation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
	"github.com/stusseligmini/FionaSparx-sub000/internal/timing"
	"github.com/stusseligmini/FionaSparx-sub000/internal/webhook"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Config holds facade configuration.
type Config struct {
	// GenerationWorkers bounds concurrent Generate calls across the process.
	GenerationWorkers int
	Platforms         []models.Platform
	ItemsPerRun       int
	// Settings is the sanitized configuration included in exports.
	Settings map[string]interface{}
}

// DefaultConfig returns the default facade configuration.
func DefaultConfig() Config {
	return Config{
		GenerationWorkers: 2,
		Platforms:         []models.Platform{models.PlatformFanvue, models.PlatformLoyalfans, models.PlatformInstagram},
		ItemsPerRun:       3,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithGenerator sets the content generator.
func WithGenerator(g Generator) Option {
	return func(m *Manager) {
		m.generator = g
	}
}

// WithPublisher sets the content publisher.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) {
		m.publisher = p
	}
}

// WithNotifier sets where crisis alerts are forwarded.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) {
		m.notifier = n
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		m.clock = c
	}
}

// Manager is the automation facade.
type Manager struct {
	orch      *orchestrator.Orchestrator
	router    *webhook.Router
	engine    *timing.Engine
	generator Generator
	publisher Publisher
	notifier  Notifier
	config    Config
	clock     clock.Clock
	logger    zerolog.Logger

	// generation bounds concurrent Generate calls across all callers.
	generation *semaphore.Weighted

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
	recent    []ContentItem
}

// recentItemsLimit caps the items kept for quality assessment.
const recentItemsLimit = 100

// MaxItemsPerRequest bounds how many items one generation request may ask for.
const MaxItemsPerRequest = 50

// New creates a facade over the given components.
func New(orch *orchestrator.Orchestrator, router *webhook.Router, engine *timing.Engine, logger zerolog.Logger, cfg Config, opts ...Option) *Manager {
	defaults := DefaultConfig()
	if cfg.GenerationWorkers <= 0 {
		cfg.GenerationWorkers = defaults.GenerationWorkers
	}
	if len(cfg.Platforms) == 0 {
		cfg.Platforms = defaults.Platforms
	}
	if cfg.ItemsPerRun <= 0 {
		cfg.ItemsPerRun = defaults.ItemsPerRun
	}

	m := &Manager{
		orch:       orch,
		router:     router,
		engine:     engine,
		config:     cfg,
		clock:      clock.New(),
		logger:     logger.With().Str("component", "automation").Logger(),
		generation: semaphore.NewWeighted(int64(cfg.GenerationWorkers)),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.generator == nil {
		m.generator = &StaticGenerator{Items: cfg.ItemsPerRun, Clock: m.clock}
	}
	if m.publisher == nil {
		m.publisher = &LogPublisher{Logger: m.logger}
	}
	return m
}

// Setup registers the default workflows and the canonical webhook endpoints.
func (m *Manager) Setup() error {
	for _, wf := range m.defaultWorkflows() {
		if err := m.orch.Register(wf.def, wf.body); err != nil {
			return fmt.Errorf("failed to register workflow %s: %w", wf.def.ID, err)
		}
	}
	if m.router != nil {
		if err := m.router.RegisterDefaults(m.orch, m.engine); err != nil {
			return fmt.Errorf("failed to register webhook endpoints: %w", err)
		}
	}
	m.logger.Info().Msg("Automation setup complete")
	return nil
}

// Start starts the orchestrator.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return nil
	}
	if err := m.orch.Start(ctx); err != nil {
		return err
	}
	m.running = true
	m.startedAt = m.clock.Now()
	m.logger.Info().Msg("Automation started")
	return nil
}

// Stop stops the orchestrator and the router's background work.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	// Bodies still draining may need mu.
	m.orch.Stop()
	if m.router != nil {
		m.router.Close()
	}
	m.logger.Info().Msg("Automation stopped")
}

func (m *Manager) uptime() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return "0s"
	}
	return m.clock.Since(m.startedAt).Round(time.Second).String()
}

func (m *Manager) isRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// TriggerWorkflow runs a workflow now and returns the execution id.
func (m *Manager) TriggerWorkflow(ctx context.Context, workflowID string, params map[string]interface{}) (string, error) {
	m.logger.Info().Str("workflow_id", workflowID).Msg("Manual workflow trigger")
	return m.orch.ExecuteWithTrigger(ctx, workflowID, orchestrator.TriggerManual, params)
}

// ScheduledItem is a generated item with its recommended publishing slot.
type ScheduledItem struct {
	ContentID          string            `json:"content_id"`
	OptimalTime        time.Time         `json:"optimal_time"`
	Confidence         models.Confidence `json:"confidence"`
	ExpectedEngagement float64           `json:"expected_engagement"`
}

// GenerationResult is the outcome of GenerateWithSchedule.
type GenerationResult struct {
	Platform         models.Platform    `json:"platform"`
	ContentType      models.ContentType `json:"content_type"`
	GeneratedContent int                `json:"generated_content"`
	Items            []ContentItem      `json:"content_items"`
	Schedule         []ScheduledItem    `json:"scheduling,omitempty"`
}

// GenerateWithSchedule generates up to count items and, when autoSchedule is set,
// recommends a slot for each. Item i targets now + (i+1) hours.
func (m *Manager) GenerateWithSchedule(ctx context.Context, platform models.Platform, contentType models.ContentType, count int, autoSchedule bool) (*GenerationResult, error) {
	platform = models.Platform(strings.ToLower(strings.TrimSpace(string(platform))))
	if platform == "" {
		return nil, models.NewValidationError("platform", "platform is required", nil)
	}
	if contentType == "" {
		contentType = models.ContentLifestyle
	}

	if count > MaxItemsPerRequest {
		return nil, models.NewValidationError("count", fmt.Sprintf("count must be at most %d", MaxItemsPerRequest), nil)
	}

	items, err := m.generate(ctx, platform, contentType, count)
	if err != nil {
		return nil, err
	}

	result := &GenerationResult{
		Platform:         platform,
		ContentType:      contentType,
		GeneratedContent: len(items),
		Items:            items,
	}
	if !autoSchedule || len(items) == 0 {
		return result, nil
	}

	now := m.clock.Now()
	for i, item := range items {
		rec, err := m.engine.GetOptimalSchedule(ctx, platform, contentType, now.Add(time.Duration(i+1)*time.Hour))
		if err != nil {
			return nil, fmt.Errorf("failed to schedule %s: %w", item.ID, err)
		}
		result.Schedule = append(result.Schedule, ScheduledItem{
			ContentID:          item.ID,
			OptimalTime:        rec.OptimalTime,
			Confidence:         rec.Confidence,
			ExpectedEngagement: rec.ExpectedEngagement,
		})
	}
	return result, nil
}

// generate produces exactly count items under the shared generation bound, calling
// the generator as often as needed. A count of zero or less takes one batch as is.
func (m *Manager) generate(ctx context.Context, platform models.Platform, contentType models.ContentType, count int) ([]ContentItem, error) {
	if err := m.generation.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer m.generation.Release(1)

	var items []ContentItem
	for {
		batch, err := m.generator.Generate(ctx, platform, contentType)
		if err != nil {
			return nil, fmt.Errorf("generation for %s failed: %w", platform, err)
		}
		items = append(items, batch...)
		if count <= 0 || len(items) >= count || len(batch) == 0 {
			break
		}
	}
	if count > 0 && len(items) > count {
		items = items[:count]
	}
	m.remember(items)
	return items, nil
}

// generateAll generates count items for every platform concurrently.
func (m *Manager) generateAll(ctx context.Context, platforms []models.Platform, contentType models.ContentType, count int) (map[models.Platform][]ContentItem, error) {
	out := make(map[models.Platform][]ContentItem, len(platforms))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.GenerationWorkers)
	for _, p := range platforms {
		p := p
		g.Go(func() error {
			items, err := m.generate(gctx, p, contentType, count)
			if err != nil {
				return err
			}
			mu.Lock()
			out[p] = items
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (m *Manager) remember(items []ContentItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recent = append(m.recent, items...)
	if over := len(m.recent) - recentItemsLimit; over > 0 {
		m.recent = append([]ContentItem(nil), m.recent[over:]...)
	}
}

func (m *Manager) recentItems() []ContentItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]ContentItem(nil), m.recent...)
}

// SystemHealth is the system part of a performance report.
type SystemHealth struct {
	AutomationRunning bool                       `json:"automation_running"`
	Uptime            string                     `json:"uptime"`
	Orchestrator      *orchestrator.SystemStatus `json:"workflows"`
	WebhookEndpoints  int                        `json:"webhook_endpoints"`
}

// AutomationStats summarizes execution outcomes and ingress activity.
type AutomationStats struct {
	TotalExecutions int            `json:"total_executions"`
	SuccessRate     float64        `json:"success_rate"`
	WebhookActivity map[string]int `json:"webhook_activity"`
}

// PerformanceReport combines engagement analytics with system state.
type PerformanceReport struct {
	AnalysisPeriod      string                  `json:"analysis_period"`
	Platform            string                  `json:"platform"`
	SchedulingAnalytics *models.AnalyticsReport `json:"scheduling_analytics,omitempty"`
	SystemHealth        SystemHealth            `json:"system_health"`
	AutomationStats     AutomationStats         `json:"automation_stats"`
}

// AnalyzePerformance reports engagement analytics and execution outcomes. An empty
// platform covers every platform; an empty analytics window is not an error.
func (m *Manager) AnalyzePerformance(ctx context.Context, platform models.Platform, days int) (*PerformanceReport, error) {
	if days <= 0 {
		days = 30
	}
	analytics, err := m.engine.GetAnalytics(platform, days)
	if err != nil && !errors.Is(err, models.ErrNoAnalyticsData) {
		return nil, err
	}

	status, err := m.orch.SystemStatus()
	if err != nil {
		return nil, err
	}

	label := string(platform)
	if label == "" {
		label = "all"
	}
	report := &PerformanceReport{
		AnalysisPeriod:      fmt.Sprintf("%d days", days),
		Platform:            label,
		SchedulingAnalytics: analytics,
		SystemHealth: SystemHealth{
			AutomationRunning: m.isRunning(),
			Uptime:            m.uptime(),
			Orchestrator:      status,
		},
		AutomationStats: AutomationStats{
			TotalExecutions: totalExecutions(status.Executions),
			SuccessRate:     successRate(status.Executions),
		},
	}
	if m.router != nil {
		stats := m.router.Stats()
		report.SystemHealth.WebhookEndpoints = stats.TotalEndpoints
		report.AutomationStats.WebhookActivity = stats.RateLimitStatus
	}
	return report, nil
}

func totalExecutions(counts map[models.ExecutionStatus]int) int {
	total := 0
	for _, n := range counts {
		total += n
	}
	return total
}

// successRate is completed over all executions, 1.0 when there are none.
func successRate(counts map[models.ExecutionStatus]int) float64 {
	total := totalExecutions(counts)
	if total == 0 {
		return 1.0
	}
	return float64(counts[models.ExecutionCompleted]) / float64(total)
}

// Component health values.
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
	StatusCritical = "critical"
	StatusStopped  = "stopped"
	StatusError    = "error"
)

// HealthReport is the facade-level health check.
type HealthReport struct {
	Status     string            `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components"`
	Issues     []string          `json:"issues"`
}

// HealthCheck inspects every component. One or two issues degrade the system;
// more make it critical.
func (m *Manager) HealthCheck(ctx context.Context) *HealthReport {
	report := &HealthReport{
		Status:     StatusHealthy,
		Timestamp:  m.clock.Now(),
		Components: make(map[string]string),
		Issues:     []string{},
	}

	if m.isRunning() {
		report.Components["automation_manager"] = StatusHealthy
	} else {
		report.Components["automation_manager"] = StatusStopped
		report.Issues = append(report.Issues, "Automation manager is not running")
	}

	switch h := m.orch.Health(); h.Status {
	case orchestrator.HealthOK:
		report.Components["orchestrator"] = StatusHealthy
	case orchestrator.HealthHalted:
		report.Components["orchestrator"] = orchestrator.HealthHalted
		report.Issues = append(report.Issues, "Orchestrator halted: "+h.Fault)
	default:
		report.Components["orchestrator"] = StatusStopped
		report.Issues = append(report.Issues, "Orchestrator is not running")
	}

	if m.router != nil {
		report.Components["webhook_router"] = StatusHealthy
	} else {
		report.Components["webhook_router"] = StatusStopped
		report.Issues = append(report.Issues, "Webhook router is not configured")
	}

	for name, c := range map[string]interface{}{"generator": m.generator, "publisher": m.publisher} {
		checker, ok := c.(Checker)
		if !ok {
			continue
		}
		if err := checker.Check(ctx); err != nil {
			report.Components[name] = StatusError
			report.Issues = append(report.Issues, fmt.Sprintf("%s error: %v", name, err))
			continue
		}
		report.Components[name] = StatusHealthy
	}
	sort.Strings(report.Issues)

	switch n := len(report.Issues); {
	case n > 2:
		report.Status = StatusCritical
	case n > 0:
		report.Status = StatusDegraded
	}
	return report
}

// WorkflowExport is the exported form of a workflow definition.
type WorkflowExport struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Description  string          `json:"description,omitempty"`
	Priority     models.Priority `json:"priority"`
	Schedule     string          `json:"schedule"`
	Dependencies []string        `json:"dependencies,omitempty"`
	Enabled      bool            `json:"enabled"`
}

// ConfigurationExport is a backup of the system configuration and learned data.
type ConfigurationExport struct {
	Config           map[string]interface{}    `json:"config"`
	Workflows        map[string]WorkflowExport `json:"workflows"`
	WebhookEndpoints *webhook.Stats            `json:"webhook_endpoints,omitempty"`
	SchedulingData   *timing.Export            `json:"scheduling_data"`
}

// ExportConfiguration snapshots settings, workflows, endpoints and timing data.
func (m *Manager) ExportConfiguration() (*ConfigurationExport, error) {
	defs, err := m.orch.Workflows()
	if err != nil {
		return nil, err
	}

	out := &ConfigurationExport{
		Config:         m.config.Settings,
		Workflows:      make(map[string]WorkflowExport, len(defs)),
		SchedulingData: m.engine.Export(),
	}
	if out.Config == nil {
		out.Config = map[string]interface{}{}
	}
	for _, d := range defs {
		out.Workflows[d.ID] = WorkflowExport{
			ID:           d.ID,
			Name:         d.Name,
			Description:  d.Description,
			Priority:     d.Priority,
			Schedule:     d.Schedule,
			Dependencies: d.Dependencies,
			Enabled:      d.Enabled,
		}
	}
	if m.router != nil {
		stats := m.router.Stats()
		out.WebhookEndpoints = &stats
	}
	return out, nil
}

// DefaultABTestHours are the candidate hours used when none are given.
var DefaultABTestHours = []int{9, 15, 19, 22}

// RunABTest registers a timing experiment with candidates at the given hours of
// today, or DefaultABTestHours when none are given.
func (m *Manager) RunABTest(ctx context.Context, platform models.Platform, contentType models.ContentType, durationDays int, hours ...int) (string, error) {
	if len(hours) == 0 {
		hours = DefaultABTestHours
	}
	now := m.clock.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	candidates := make([]time.Time, 0, len(hours))
	for _, h := range hours {
		if h < 0 || h > 23 {
			return "", models.NewValidationError("hours", fmt.Sprintf("hour %d outside 0-23", h), nil)
		}
		candidates = append(candidates, day.Add(time.Duration(h)*time.Hour))
	}

	m.logger.Info().
		Str("platform", string(platform)).
		Str("content_type", string(contentType)).
		Ints("hours", hours).
		Msg("Starting A/B test")
	return m.engine.RunABTest(platform, contentType, candidates, durationDays)
}

// Status is the combined status of every component.
type Status struct {
	Running      bool                       `json:"running"`
	StartedAt    *time.Time                 `json:"start_time,omitempty"`
	Uptime       string                     `json:"uptime"`
	Orchestrator *orchestrator.SystemStatus `json:"orchestrator"`
	Webhooks     *webhook.Stats             `json:"webhooks,omitempty"`
	Timing       TimingStatus               `json:"timing"`
}

// TimingStatus summarizes the timing engine.
type TimingStatus struct {
	HistorySize         int `json:"total_historical_data"`
	PlatformsConfigured int `json:"platforms_configured"`
	ActiveABTests       int `json:"active_ab_tests"`
}

// Status returns the combined status of every component.
func (m *Manager) Status() (*Status, error) {
	sys, err := m.orch.SystemStatus()
	if err != nil {
		return nil, err
	}

	st := &Status{
		Running:      m.isRunning(),
		Uptime:       m.uptime(),
		Orchestrator: sys,
		Timing: TimingStatus{
			HistorySize:         m.engine.HistorySize(),
			PlatformsConfigured: len(m.engine.Profiles()),
			ActiveABTests:       len(m.engine.ABTests()),
		},
	}
	m.mu.RLock()
	if m.running {
		started := m.startedAt
		st.StartedAt = &started
	}
	m.mu.RUnlock()

	if m.router != nil {
		stats := m.router.Stats()
		st.Webhooks = &stats
	}
	return st, nil
}
