package automation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/notify"
	"github.com/stusseligmini/FionaSparx-sub000/internal/orchestrator"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/internal/timing"
	"github.com/stusseligmini/FionaSparx-sub000/internal/webhook"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

var start = time.Date(2024, 3, 1, 8, 30, 0, 0, time.UTC)

type testEnv struct {
	manager *Manager
	orch    *orchestrator.Orchestrator
	engine  *timing.Engine
	router  *webhook.Router
	clock   *clock.MockClock
}

func setupTestManager(t *testing.T, cfg Config, opts ...Option) *testEnv {
	t.Helper()
	clk := clock.NewMock(start)

	orch := orchestrator.New(storage.NewMemoryStore(), nil, zerolog.Nop(), &orchestrator.Config{
		PollInterval: 10 * time.Millisecond,
		Workers:      2,
		QueueSize:    16,
		Retry: orchestrator.RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}, orchestrator.WithClock(clk))

	tcfg := timing.DefaultConfig()
	tcfg.MinuteJitter = false
	engine := timing.NewEngine(storage.NewMemoryStore(), zerolog.Nop(), tcfg, timing.WithClock(clk))
	router := webhook.NewRouter(zerolog.Nop(), webhook.Config{}, webhook.WithClock(clk))

	opts = append([]Option{WithClock(clk)}, opts...)
	m := New(orch, router, engine, zerolog.Nop(), cfg, opts...)
	if err := m.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	t.Cleanup(func() {
		m.Stop()
		orch.Stop()
		router.Close()
	})
	return &testEnv{manager: m, orch: orch, engine: engine, router: router, clock: clk}
}

func (env *testEnv) start(t *testing.T) {
	t.Helper()
	if err := env.manager.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
}

func waitForCompletion(t *testing.T, o *orchestrator.Orchestrator, execID string) *models.Execution {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		exec, err := o.Execution(execID)
		if err == nil && exec.Status.IsTerminal() {
			if exec.Status != models.ExecutionCompleted {
				t.Fatalf("execution %s ended %s: %s", execID, exec.Status, exec.Error)
			}
			return exec
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for execution %s", execID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

type recordingPublisher struct {
	mu    sync.Mutex
	items []ContentItem
}

func (p *recordingPublisher) Publish(ctx context.Context, platform models.Platform, item ContentItem) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.items = append(p.items, item)
	return true, nil
}

type failingGenerator struct{}

func (failingGenerator) Generate(ctx context.Context, platform models.Platform, contentType models.ContentType) ([]ContentItem, error) {
	return nil, errors.New("model offline")
}

func (failingGenerator) Check(ctx context.Context) error { return errors.New("model offline") }

// countingGenerator records the peak number of concurrent Generate calls.
type countingGenerator struct {
	active int32
	peak   int32
}

func (g *countingGenerator) Generate(ctx context.Context, platform models.Platform, contentType models.ContentType) ([]ContentItem, error) {
	n := atomic.AddInt32(&g.active, 1)
	defer atomic.AddInt32(&g.active, -1)
	for {
		peak := atomic.LoadInt32(&g.peak)
		if n <= peak || atomic.CompareAndSwapInt32(&g.peak, peak, n) {
			break
		}
	}
	time.Sleep(20 * time.Millisecond)
	return []ContentItem{{ID: string(platform) + "-1", Platform: platform, ContentType: contentType, Caption: "c", MediaPath: "m"}}, nil
}

func TestSetup_RegistersDefaults(t *testing.T) {
	env := setupTestManager(t, Config{})

	defs, err := env.orch.Workflows()
	if err != nil {
		t.Fatalf("Workflows failed: %v", err)
	}
	if len(defs) != 9 {
		t.Errorf("expected 9 workflows, got %d", len(defs))
	}

	fanvue, err := env.orch.Workflow(WorkflowFanvueContent)
	if err != nil {
		t.Fatalf("Workflow failed: %v", err)
	}
	if len(fanvue.Dependencies) != 1 || fanvue.Dependencies[0] != WorkflowSmartScheduling {
		t.Errorf("expected fanvue to depend on %s, got %v", WorkflowSmartScheduling, fanvue.Dependencies)
	}

	crisis, _ := env.orch.Workflow(WorkflowCrisisManagement)
	if crisis.Priority != models.PriorityCritical || crisis.Schedule != "*/5 * * * *" {
		t.Errorf("unexpected crisis definition %+v", crisis)
	}

	if got := env.router.Stats().TotalEndpoints; got != 6 {
		t.Errorf("expected 6 webhook endpoints, got %d", got)
	}

	if err := env.manager.Setup(); !errors.Is(err, models.ErrWorkflowExists) {
		t.Errorf("expected ErrWorkflowExists on second setup, got %v", err)
	}
}

func TestTriggerWorkflow_ContentGeneration(t *testing.T) {
	env := setupTestManager(t, Config{ItemsPerRun: 3})
	env.start(t)

	tests := []struct {
		name   string
		params map[string]interface{}
		want   map[string]int
	}{
		{"single platform", map[string]interface{}{"platform": "LoyalFans"}, map[string]int{"loyalfans": 3}},
		{"count limit", map[string]interface{}{"platform": "fanvue", "count": 2}, map[string]int{"fanvue": 2}},
		{"count above batch size", map[string]interface{}{"platform": "fanvue", "count": 10}, map[string]int{"fanvue": 10}},
		{"count capped", map[string]interface{}{"platform": "fanvue", "count": float64(500)}, map[string]int{"fanvue": MaxItemsPerRequest}},
		{"all platforms", nil, map[string]int{"fanvue": 3, "loyalfans": 3, "instagram": 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := env.manager.TriggerWorkflow(context.Background(), WorkflowContentGeneration, tt.params)
			if err != nil {
				t.Fatalf("TriggerWorkflow failed: %v", err)
			}
			exec := waitForCompletion(t, env.orch, id)
			if exec.Trigger != orchestrator.TriggerManual {
				t.Errorf("expected manual trigger, got %q", exec.Trigger)
			}
			got, ok := exec.Result["generated_content"].(map[string]int)
			if !ok {
				t.Fatalf("unexpected result %v", exec.Result)
			}
			if len(got) != len(tt.want) {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
			for p, n := range tt.want {
				if got[p] != n {
					t.Errorf("%s: expected %d items, got %d", p, n, got[p])
				}
			}
		})
	}
}

func TestTriggerWorkflow_Unknown(t *testing.T) {
	env := setupTestManager(t, Config{})
	_, err := env.manager.TriggerWorkflow(context.Background(), "ghost", nil)
	if !errors.Is(err, models.ErrWorkflowNotFound) {
		t.Errorf("expected ErrWorkflowNotFound, got %v", err)
	}
}

func TestPlatformContent_PublishesAfterScheduling(t *testing.T) {
	pub := &recordingPublisher{}
	env := setupTestManager(t, Config{ItemsPerRun: 2}, WithPublisher(pub))
	env.start(t)

	id, err := env.manager.TriggerWorkflow(context.Background(), WorkflowSmartScheduling, nil)
	if err != nil {
		t.Fatalf("TriggerWorkflow failed: %v", err)
	}
	sched := waitForCompletion(t, env.orch, id)
	times, ok := sched.Result["optimal_times"].(map[string]string)
	if !ok || times["fanvue"] == "" {
		t.Errorf("expected optimal times per platform, got %v", sched.Result)
	}

	id, err = env.manager.TriggerWorkflow(context.Background(), WorkflowFanvueContent, nil)
	if err != nil {
		t.Fatalf("TriggerWorkflow failed: %v", err)
	}
	exec := waitForCompletion(t, env.orch, id)
	if exec.Result["published"] != 2 || exec.Result["scheduled"] != 2 {
		t.Errorf("unexpected result %v", exec.Result)
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.items) != 2 {
		t.Fatalf("expected 2 published items, got %d", len(pub.items))
	}
	for _, item := range pub.items {
		if item.Platform != models.PlatformFanvue {
			t.Errorf("unexpected platform %s", item.Platform)
		}
	}
}

func TestGenerateWithSchedule(t *testing.T) {
	env := setupTestManager(t, Config{ItemsPerRun: 3})

	res, err := env.manager.GenerateWithSchedule(context.Background(), "Fanvue", "", 2, true)
	if err != nil {
		t.Fatalf("GenerateWithSchedule failed: %v", err)
	}
	if res.Platform != models.PlatformFanvue || res.ContentType != models.ContentLifestyle {
		t.Errorf("unexpected platform/content type %s/%s", res.Platform, res.ContentType)
	}
	if res.GeneratedContent != 2 || len(res.Items) != 2 || len(res.Schedule) != 2 {
		t.Fatalf("expected 2 items and 2 slots, got %+v", res)
	}
	for i, slot := range res.Schedule {
		if slot.ContentID != res.Items[i].ID {
			t.Errorf("slot %d: expected content id %s, got %s", i, res.Items[i].ID, slot.ContentID)
		}
		if slot.OptimalTime.Before(start) {
			t.Errorf("slot %d: recommendation %v is in the past", i, slot.OptimalTime)
		}
	}

	res, err = env.manager.GenerateWithSchedule(context.Background(), models.PlatformLoyalfans, models.ContentFitness, 0, false)
	if err != nil {
		t.Fatalf("GenerateWithSchedule failed: %v", err)
	}
	if len(res.Items) != 3 || res.Schedule != nil {
		t.Errorf("expected 3 unscheduled items, got %+v", res)
	}

	res, err = env.manager.GenerateWithSchedule(context.Background(), models.PlatformInstagram, "", 7, true)
	if err != nil {
		t.Fatalf("GenerateWithSchedule failed: %v", err)
	}
	if res.GeneratedContent != 7 || len(res.Items) != 7 || len(res.Schedule) != 7 {
		t.Errorf("expected 7 items and 7 slots, got %d items and %d slots", len(res.Items), len(res.Schedule))
	}
	ids := make(map[string]bool, len(res.Items))
	for _, item := range res.Items {
		ids[item.ID] = true
	}
	if len(ids) != 7 {
		t.Errorf("expected 7 distinct items, got %d", len(ids))
	}

	if _, err := env.manager.GenerateWithSchedule(context.Background(), " ", "", 1, true); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error for empty platform, got %v", err)
	}
	if _, err := env.manager.GenerateWithSchedule(context.Background(), models.PlatformFanvue, "", MaxItemsPerRequest+1, false); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error for oversized count, got %v", err)
	}
}

func TestGenerateWithSchedule_GeneratorFailure(t *testing.T) {
	env := setupTestManager(t, Config{}, WithGenerator(failingGenerator{}))

	_, err := env.manager.GenerateWithSchedule(context.Background(), models.PlatformFanvue, "", 1, true)
	if err == nil {
		t.Fatal("expected generator error")
	}
}

func TestGenerateAll_BoundedConcurrency(t *testing.T) {
	gen := &countingGenerator{}
	env := setupTestManager(t, Config{GenerationWorkers: 1}, WithGenerator(gen))

	out, err := env.manager.generateAll(context.Background(), env.manager.config.Platforms, models.ContentLifestyle, 0)
	if err != nil {
		t.Fatalf("generateAll failed: %v", err)
	}
	if len(out) != 3 {
		t.Errorf("expected 3 platforms, got %d", len(out))
	}
	if peak := atomic.LoadInt32(&gen.peak); peak != 1 {
		t.Errorf("expected at most 1 concurrent generation, got %d", peak)
	}
}

func TestAnalyzePerformance(t *testing.T) {
	env := setupTestManager(t, Config{})

	report, err := env.manager.AnalyzePerformance(context.Background(), "", 0)
	if err != nil {
		t.Fatalf("AnalyzePerformance failed: %v", err)
	}
	if report.SchedulingAnalytics != nil {
		t.Errorf("expected no analytics for an empty history")
	}
	if report.Platform != "all" || report.AnalysisPeriod != "30 days" {
		t.Errorf("unexpected labels %q / %q", report.Platform, report.AnalysisPeriod)
	}
	if report.AutomationStats.SuccessRate != 1.0 {
		t.Errorf("expected success rate 1.0 without executions, got %v", report.AutomationStats.SuccessRate)
	}
	if report.SystemHealth.WebhookEndpoints != 6 {
		t.Errorf("expected 6 endpoints, got %d", report.SystemHealth.WebhookEndpoints)
	}

	err = env.engine.Record(models.EngagementData{
		Timestamp:      start.Add(-time.Hour),
		Platform:       models.PlatformFanvue,
		ContentType:    models.ContentLifestyle,
		EngagementRate: 0.2,
		RevenueImpact:  15,
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	report, err = env.manager.AnalyzePerformance(context.Background(), models.PlatformFanvue, 7)
	if err != nil {
		t.Fatalf("AnalyzePerformance failed: %v", err)
	}
	if report.SchedulingAnalytics == nil || report.SchedulingAnalytics.TotalPosts != 1 {
		t.Errorf("expected analytics over one post, got %+v", report.SchedulingAnalytics)
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name   string
		counts map[models.ExecutionStatus]int
		want   float64
	}{
		{"empty", nil, 1.0},
		{"all completed", map[models.ExecutionStatus]int{models.ExecutionCompleted: 4}, 1.0},
		{"mixed", map[models.ExecutionStatus]int{models.ExecutionCompleted: 3, models.ExecutionFailed: 1}, 0.75},
		{"none completed", map[models.ExecutionStatus]int{models.ExecutionRunning: 2}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := successRate(tt.counts); got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("stopped", func(t *testing.T) {
		env := setupTestManager(t, Config{})
		report := env.manager.HealthCheck(context.Background())
		if report.Status != StatusDegraded {
			t.Errorf("expected degraded, got %s (%v)", report.Status, report.Issues)
		}
		if report.Components["orchestrator"] != StatusStopped {
			t.Errorf("expected stopped orchestrator, got %s", report.Components["orchestrator"])
		}
	})

	t.Run("running", func(t *testing.T) {
		env := setupTestManager(t, Config{})
		env.start(t)
		report := env.manager.HealthCheck(context.Background())
		if report.Status != StatusHealthy || len(report.Issues) != 0 {
			t.Errorf("expected healthy, got %s (%v)", report.Status, report.Issues)
		}
		if report.Components["generator"] != StatusHealthy {
			t.Errorf("expected generator check, got %v", report.Components)
		}
	})

	t.Run("critical", func(t *testing.T) {
		env := setupTestManager(t, Config{}, WithGenerator(failingGenerator{}))
		report := env.manager.HealthCheck(context.Background())
		if report.Status != StatusCritical {
			t.Errorf("expected critical with 3 issues, got %s (%v)", report.Status, report.Issues)
		}
		if report.Components["generator"] != StatusError {
			t.Errorf("expected generator error, got %s", report.Components["generator"])
		}
	})
}

func TestExportConfiguration(t *testing.T) {
	env := setupTestManager(t, Config{Settings: map[string]interface{}{"storage": "memory"}})

	out, err := env.manager.ExportConfiguration()
	if err != nil {
		t.Fatalf("ExportConfiguration failed: %v", err)
	}
	if len(out.Workflows) != 9 {
		t.Errorf("expected 9 workflows, got %d", len(out.Workflows))
	}
	if wf := out.Workflows[WorkflowPerformanceOptimization]; wf.Schedule != "0 0 * * *" || !wf.Enabled {
		t.Errorf("unexpected export %+v", wf)
	}
	if out.WebhookEndpoints == nil || out.WebhookEndpoints.TotalEndpoints != 6 {
		t.Errorf("expected endpoint stats, got %+v", out.WebhookEndpoints)
	}
	if out.SchedulingData == nil || len(out.SchedulingData.AudienceProfiles) == 0 {
		t.Errorf("expected timing export with profiles")
	}
	if out.Config["storage"] != "memory" {
		t.Errorf("expected settings in export, got %v", out.Config)
	}
}

func TestRunABTest(t *testing.T) {
	env := setupTestManager(t, Config{})

	id, err := env.manager.RunABTest(context.Background(), models.PlatformFanvue, models.ContentFashion, 0)
	if err != nil {
		t.Fatalf("RunABTest failed: %v", err)
	}
	test, err := env.engine.ABTest(id)
	if err != nil {
		t.Fatalf("ABTest failed: %v", err)
	}
	if len(test.CandidateTimes) != 4 {
		t.Fatalf("expected 4 candidates, got %d", len(test.CandidateTimes))
	}
	for i, h := range DefaultABTestHours {
		want := time.Date(2024, 3, 1, h, 0, 0, 0, time.UTC)
		if !test.CandidateTimes[i].Equal(want) {
			t.Errorf("candidate %d: expected %v, got %v", i, want, test.CandidateTimes[i])
		}
	}
	if test.DurationDays != 7 {
		t.Errorf("expected default duration 7, got %d", test.DurationDays)
	}

	if _, err := env.manager.RunABTest(context.Background(), models.PlatformFanvue, models.ContentFashion, 3, 10, 24); !errors.Is(err, models.ErrValidation) {
		t.Errorf("expected validation error for hour 24, got %v", err)
	}
}

func TestCrisisManagement_AcknowledgesAlert(t *testing.T) {
	env := setupTestManager(t, Config{})
	env.start(t)

	id, err := env.orch.ExecuteWithTrigger(context.Background(), WorkflowCrisisManagement, orchestrator.TriggerWebhook,
		map[string]interface{}{"severity": "critical", "message": "publisher API down"})
	if err != nil {
		t.Fatalf("ExecuteWithTrigger failed: %v", err)
	}
	exec := waitForCompletion(t, env.orch, id)
	actions, ok := exec.Result["actions_taken"].([]string)
	if !ok || len(actions) != 1 || actions[0] != "acknowledged critical alert: publisher API down" {
		t.Errorf("unexpected actions %v", exec.Result["actions_taken"])
	}
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []*notify.Notification
}

func (n *recordingNotifier) Notify(ctx context.Context, note *notify.Notification) (int, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, note)
	return 2, nil
}

func TestCrisisManagement_ForwardsAlert(t *testing.T) {
	notifier := &recordingNotifier{}
	env := setupTestManager(t, Config{}, WithNotifier(notifier))
	env.start(t)

	id, err := env.orch.ExecuteWithTrigger(context.Background(), WorkflowCrisisManagement, orchestrator.TriggerWebhook,
		map[string]interface{}{"severity": "high", "message": "payout delayed"})
	if err != nil {
		t.Fatalf("ExecuteWithTrigger failed: %v", err)
	}
	exec := waitForCompletion(t, env.orch, id)

	actions, _ := exec.Result["actions_taken"].([]string)
	if len(actions) != 2 || actions[1] != "notified 2 channels" {
		t.Errorf("unexpected actions %v", actions)
	}

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.sent) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(notifier.sent))
	}
	sent := notifier.sent[0]
	if sent.Severity != notify.SeverityHigh || sent.Message != "payout delayed" || sent.ExecutionID != id {
		t.Errorf("unexpected notification %+v", sent)
	}
}

func TestQualityAssessment_FlagsIncompleteItems(t *testing.T) {
	env := setupTestManager(t, Config{})
	env.manager.remember([]ContentItem{
		{ID: "good", Caption: "hello", MediaPath: "a.png"},
		{ID: "no-caption", MediaPath: "b.png"},
	})

	res, err := env.manager.qualityAssessment(context.Background(), &orchestrator.Run{})
	if err != nil {
		t.Fatalf("qualityAssessment failed: %v", err)
	}
	flagged := res["flagged_items"].([]string)
	if len(flagged) != 1 || flagged[0] != "no-caption" {
		t.Errorf("expected no-caption flagged, got %v", flagged)
	}
	if res["quality_score"] != 0.5 {
		t.Errorf("expected score 0.5, got %v", res["quality_score"])
	}
}

func TestStatus(t *testing.T) {
	env := setupTestManager(t, Config{})
	env.start(t)

	st, err := env.manager.Status()
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if !st.Running || st.StartedAt == nil {
		t.Errorf("expected running status with start time, got %+v", st)
	}
	if st.Orchestrator.Workflows != 9 {
		t.Errorf("expected 9 workflows, got %d", st.Orchestrator.Workflows)
	}
	if st.Timing.PlatformsConfigured == 0 {
		t.Errorf("expected default profiles")
	}
}
