package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

var start = time.Date(2024, 3, 1, 8, 1, 0, 0, time.UTC)

func testConfig() *Config {
	return &Config{
		PollInterval:    10 * time.Millisecond,
		Workers:         2,
		QueueSize:       16,
		FreshnessWindow: time.Hour,
		Retention:       24 * time.Hour,
		StatusHistory:   10,
		Retry: RetryPolicy{
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func setupTestOrchestrator(t *testing.T, opts ...Option) (*Orchestrator, *storage.MemoryStore) {
	t.Helper()
	store := storage.NewMemoryStore()
	o := New(store, nil, zerolog.Nop(), testConfig(), opts...)
	t.Cleanup(o.Stop)
	return o, store
}

// newDef returns a workflow whose cadence never fires during a test.
func newDef(id string, deps ...string) *models.WorkflowDefinition {
	return models.NewWorkflow(id, id, models.PriorityMedium, "@yearly", deps...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForStatus(t *testing.T, o *Orchestrator, execID string, want models.ExecutionStatus) *models.Execution {
	t.Helper()
	var exec *models.Execution
	waitFor(t, "execution "+execID+" to reach "+string(want), func() bool {
		e, err := o.Execution(execID)
		if err != nil {
			return false
		}
		exec = e
		return e.Status == want
	})
	return exec
}

func TestNew_AppliesDefaults(t *testing.T) {
	o := New(storage.NewMemoryStore(), nil, zerolog.Nop(), &Config{})
	defaults := DefaultConfig()

	if o.config.PollInterval != defaults.PollInterval {
		t.Errorf("expected poll interval %v, got %v", defaults.PollInterval, o.config.PollInterval)
	}
	if o.config.Workers != defaults.Workers {
		t.Errorf("expected %d workers, got %d", defaults.Workers, o.config.Workers)
	}
	if o.config.FreshnessWindow != time.Hour {
		t.Errorf("expected freshness window 1h, got %v", o.config.FreshnessWindow)
	}
	if o.config.Retry.Multiplier != 2 {
		t.Errorf("expected multiplier 2, got %v", o.config.Retry.Multiplier)
	}
	if cap(o.work) != defaults.QueueSize {
		t.Errorf("expected work queue of %d, got %d", defaults.QueueSize, cap(o.work))
	}
}

func TestRegister_Validation(t *testing.T) {
	o, _ := setupTestOrchestrator(t)
	if err := o.Register(newDef("existing"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	tests := []struct {
		name     string
		def      func() *models.WorkflowDefinition
		sentinel error
	}{
		{"nil definition", func() *models.WorkflowDefinition { return nil }, nil},
		{"empty id", func() *models.WorkflowDefinition { return newDef("") }, nil},
		{"duplicate id", func() *models.WorkflowDefinition { return newDef("existing") }, models.ErrWorkflowExists},
		{"unknown dependency", func() *models.WorkflowDefinition { return newDef("child", "ghost") }, models.ErrUnknownDependency},
		{"zero timeout", func() *models.WorkflowDefinition {
			d := newDef("zero-timeout")
			d.Timeout = 0
			return d
		}, nil},
		{"negative retries", func() *models.WorkflowDefinition {
			d := newDef("negative")
			d.MaxRetries = -1
			return d
		}, nil},
		{"invalid priority", func() *models.WorkflowDefinition {
			d := newDef("urgent")
			d.Priority = "urgent"
			return d
		}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Register(tt.def(), nil)
			if !errors.Is(err, models.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("expected %v, got %v", tt.sentinel, err)
			}
		})
	}

	defs, _ := o.Workflows()
	if len(defs) != 1 {
		t.Errorf("rejected definitions must not be stored, got %d workflows", len(defs))
	}
}

func TestExecute_AlwaysFailingWorkflow(t *testing.T) {
	o, _ := setupTestOrchestrator(t)

	var calls atomic.Int32
	def := models.NewWorkflow("daily_report", "Daily report", models.PriorityHigh, "@yearly")
	def.MaxRetries = 2
	def.Timeout = models.Duration(5 * time.Second)
	err := o.Register(def, func(ctx context.Context, run *Run) (map[string]interface{}, error) {
		calls.Add(1)
		return nil, errors.New("report backend unavailable")
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id, err := o.Execute(context.Background(), "daily_report")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	exec := waitForStatus(t, o, id, models.ExecutionFailed)
	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
	if len(exec.Attempts) != 3 {
		t.Fatalf("expected 3 recorded attempts, got %d", len(exec.Attempts))
	}
	for i, a := range exec.Attempts {
		if a.Number != i+1 {
			t.Errorf("attempt %d has number %d", i, a.Number)
		}
		if a.EndedAt == nil || a.Error == "" {
			t.Errorf("attempt %d not resolved: %+v", i, a)
		}
	}
	if exec.RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", exec.RetryCount)
	}
	if exec.ErrorKind != "handler" {
		t.Errorf("expected handler error kind, got %q", exec.ErrorKind)
	}
	if exec.EndTime == nil {
		t.Error("expected end time on failed execution")
	}

	time.Sleep(50 * time.Millisecond)
	if got := calls.Load(); got != 3 {
		t.Errorf("failed execution was attempted again: %d attempts", got)
	}
}

func TestExecute_Rejections(t *testing.T) {
	o, store := setupTestOrchestrator(t)

	disabled := newDef("disabled")
	disabled.Enabled = false
	if err := o.Register(disabled, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	_, err := o.Execute(context.Background(), "ghost")
	if !errors.Is(err, models.ErrValidation) || !errors.Is(err, models.ErrWorkflowNotFound) {
		t.Errorf("expected validation error for unknown workflow, got %v", err)
	}

	_, err = o.Execute(context.Background(), "disabled")
	if !errors.Is(err, models.ErrValidation) || !errors.Is(err, models.ErrWorkflowDisabled) {
		t.Errorf("expected validation error for disabled workflow, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Execute(ctx, "disabled"); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}

	execs, _ := store.ListExecutions("", 0)
	if len(execs) != 0 {
		t.Errorf("rejected triggers must not create executions, got %d", len(execs))
	}
}

func TestExecute_DependencyGating(t *testing.T) {
	o, store := setupTestOrchestrator(t)

	if err := o.Register(newDef("upstream"), nil); err != nil {
		t.Fatalf("Register upstream failed: %v", err)
	}
	if err := o.Register(newDef("downstream", "upstream"), nil); err != nil {
		t.Fatalf("Register downstream failed: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	_, err := o.Execute(context.Background(), "downstream")
	var depErr *models.DependencyNotMetError
	if !errors.As(err, &depErr) {
		t.Fatalf("expected DependencyNotMetError, got %v", err)
	}
	if len(depErr.Missing) != 1 || depErr.Missing[0] != "upstream" {
		t.Errorf("expected upstream missing, got %v", depErr.Missing)
	}
	if models.ErrorKind(err) != "dependency" {
		t.Errorf("expected dependency kind, got %q", models.ErrorKind(err))
	}
	if execs, _ := store.ListExecutions("downstream", 0); len(execs) != 0 {
		t.Fatalf("unmet dependency must not create a record, got %d", len(execs))
	}

	upID, err := o.Execute(context.Background(), "upstream")
	if err != nil {
		t.Fatalf("Execute upstream failed: %v", err)
	}
	up := waitForStatus(t, o, upID, models.ExecutionCompleted)

	downID, err := o.ExecuteWithParams(context.Background(), "downstream", map[string]interface{}{"source": "test"})
	if err != nil {
		t.Fatalf("Execute downstream failed: %v", err)
	}
	down := waitForStatus(t, o, downID, models.ExecutionCompleted)

	if down.StartTime.Before(*up.EndTime) {
		t.Errorf("downstream started at %v before upstream ended at %v", down.StartTime, up.EndTime)
	}
	if down.Params["source"] != "test" || down.Trigger != TriggerManual {
		t.Errorf("unexpected params %v / trigger %q", down.Params, down.Trigger)
	}
}

func TestRunAttempt_DeferralExpires(t *testing.T) {
	clk := clock.NewMock(start)
	o, store := setupTestOrchestrator(t, WithClock(clk))

	if err := o.Register(newDef("upstream"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Register(newDef("downstream", "upstream"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	stale := start.Add(-2 * time.Hour)
	if err := store.SaveExecution(&models.Execution{
		ID: "up-1", WorkflowID: "upstream", Status: models.ExecutionCompleted,
		CreatedAt: stale, StartTime: &stale, EndTime: &stale,
	}); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}
	if err := store.SaveExecution(&models.Execution{
		ID: "down-1", WorkflowID: "downstream", Status: models.ExecutionScheduled, CreatedAt: start,
	}); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	o.runAttempt("down-1")

	exec, _ := store.GetExecution("down-1")
	if exec.Status != models.ExecutionScheduled {
		t.Fatalf("expected deferred execution to stay scheduled, got %s", exec.Status)
	}
	if len(exec.Attempts) != 0 || exec.RetryCount != 0 {
		t.Errorf("deferral must not consume an attempt: attempts=%d retries=%d", len(exec.Attempts), exec.RetryCount)
	}
	if exec.NextAttemptAt == nil {
		t.Error("expected next attempt time on deferred execution")
	}
	if o.queue.FindExecution("down-1") < 0 {
		t.Error("expected deferred execution on the heap")
	}

	clk.Add(61 * time.Minute)
	o.runAttempt("down-1")

	exec, _ = store.GetExecution("down-1")
	if exec.Status != models.ExecutionFailed {
		t.Fatalf("expected failure after freshness window, got %s", exec.Status)
	}
	if exec.ErrorKind != "dependency" {
		t.Errorf("expected dependency error kind, got %q", exec.ErrorKind)
	}
	if len(exec.Attempts) != 0 {
		t.Errorf("expected no attempts, got %d", len(exec.Attempts))
	}
}

func TestRunAttempt_DeferredRunsOnceDependencyCompletes(t *testing.T) {
	clk := clock.NewMock(start)
	o, store := setupTestOrchestrator(t, WithClock(clk))

	if err := o.Register(newDef("upstream"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Register(newDef("downstream", "upstream"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := store.SaveExecution(&models.Execution{
		ID: "down-1", WorkflowID: "downstream", Status: models.ExecutionScheduled, CreatedAt: start,
	}); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	o.runAttempt("down-1")
	if exec, _ := store.GetExecution("down-1"); exec.Status != models.ExecutionScheduled {
		t.Fatalf("expected deferral, got %s", exec.Status)
	}

	clk.Add(time.Minute)
	fresh := clk.Now()
	if err := store.SaveExecution(&models.Execution{
		ID: "up-1", WorkflowID: "upstream", Status: models.ExecutionCompleted,
		CreatedAt: fresh, StartTime: &fresh, EndTime: &fresh,
	}); err != nil {
		t.Fatalf("SaveExecution failed: %v", err)
	}

	o.runAttempt("down-1")
	exec, _ := store.GetExecution("down-1")
	if exec.Status != models.ExecutionCompleted {
		t.Fatalf("expected completion once dependency is fresh, got %s", exec.Status)
	}
	if len(exec.Attempts) != 1 {
		t.Errorf("expected 1 attempt, got %d", len(exec.Attempts))
	}
	if _, deferred := o.deferredSince["down-1"]; deferred {
		t.Error("deferral bookkeeping not cleared")
	}
}

func TestTimeout_NeverCompletes(t *testing.T) {
	o, _ := setupTestOrchestrator(t)

	def := newDef("slow")
	def.MaxRetries = 0
	def.Timeout = models.Duration(20 * time.Millisecond)
	err := o.Register(def, func(ctx context.Context, run *Run) (map[string]interface{}, error) {
		<-ctx.Done()
		return map[string]interface{}{"late": true}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id, err := o.Execute(context.Background(), "slow")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	exec := waitForStatus(t, o, id, models.ExecutionFailed)
	if exec.ErrorKind != "timeout" {
		t.Errorf("expected timeout error kind, got %q (%s)", exec.ErrorKind, exec.Error)
	}
	if exec.Result != nil {
		t.Errorf("timed out execution must not keep a result, got %v", exec.Result)
	}
}

func TestTimeoutMonitor_DiscardsLateResult(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	release := make(chan struct{})
	started := make(chan struct{})
	def := newDef("stuck")
	def.MaxRetries = 0
	def.Timeout = models.Duration(time.Minute)
	err := o.Register(def, func(ctx context.Context, run *Run) (map[string]interface{}, error) {
		close(started)
		<-release
		return map[string]interface{}{"ok": true}, nil
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	id, err := o.Execute(context.Background(), "stuck")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	done := make(chan struct{})
	go func() {
		o.runAttempt(id)
		close(done)
	}()
	<-started

	clk.Add(2 * time.Minute)
	if err := o.tick(); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	exec, _ := o.Execution(id)
	if exec.Status != models.ExecutionFailed || exec.ErrorKind != "timeout" {
		t.Fatalf("expected timeout failure, got %s / %q", exec.Status, exec.ErrorKind)
	}

	close(release)
	<-done

	exec, _ = o.Execution(id)
	if exec.Status != models.ExecutionFailed {
		t.Errorf("late result changed status to %s", exec.Status)
	}
	if exec.Result != nil {
		t.Errorf("late result was recorded: %v", exec.Result)
	}
}

func TestExecute_PanickingBody(t *testing.T) {
	o, _ := setupTestOrchestrator(t)

	def := newDef("explodes")
	def.MaxRetries = 0
	err := o.Register(def, func(ctx context.Context, run *Run) (map[string]interface{}, error) {
		panic("boom")
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	id, err := o.Execute(context.Background(), "explodes")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	exec := waitForStatus(t, o, id, models.ExecutionFailed)
	if exec.ErrorKind != "handler" || !strings.Contains(exec.Error, "panicked") {
		t.Errorf("expected handler panic, got %q / %q", exec.ErrorKind, exec.Error)
	}
}

func TestCleanup_ArchivesExpiredExecutions(t *testing.T) {
	clk := clock.NewMock(start)
	live := storage.NewMemoryStore()
	archive := storage.NewMemoryStore()
	o := New(live, archive, zerolog.Nop(), testConfig(), WithClock(clk))
	t.Cleanup(o.Stop)

	old := start.Add(-25 * time.Hour)
	recent := start.Add(-time.Hour)
	for _, e := range []*models.Execution{
		{ID: "old-done", WorkflowID: "report", Status: models.ExecutionCompleted, CreatedAt: old, EndTime: &old},
		{ID: "old-failed", WorkflowID: "report", Status: models.ExecutionFailed, CreatedAt: old, EndTime: &old},
		{ID: "recent", WorkflowID: "report", Status: models.ExecutionCompleted, CreatedAt: recent, EndTime: &recent},
		{ID: "waiting", WorkflowID: "report", Status: models.ExecutionScheduled, CreatedAt: old},
	} {
		if err := live.SaveExecution(e); err != nil {
			t.Fatalf("SaveExecution failed: %v", err)
		}
	}

	if err := o.tick(); err != nil {
		t.Fatalf("tick failed: %v", err)
	}

	for _, id := range []string{"old-done", "old-failed"} {
		if _, err := live.GetExecution(id); !errors.Is(err, models.ErrExecutionNotFound) {
			t.Errorf("expected %s removed from live table, got %v", id, err)
		}
	}
	for _, id := range []string{"recent", "waiting"} {
		if _, err := live.GetExecution(id); err != nil {
			t.Errorf("expected %s kept, got %v", id, err)
		}
	}

	archived, err := o.ArchivedExecutions("report", 0)
	if err != nil {
		t.Fatalf("ArchivedExecutions failed: %v", err)
	}
	if len(archived) != 2 {
		t.Errorf("expected 2 archived executions, got %d", len(archived))
	}
}

type faultyStore struct {
	*storage.MemoryStore
	err error
}

func (s *faultyStore) ListExecutionsByStatus(models.ExecutionStatus) ([]*models.Execution, error) {
	return nil, s.err
}

func TestFault_HaltsOrchestrator(t *testing.T) {
	clk := clock.NewMock(start)
	store := &faultyStore{MemoryStore: storage.NewMemoryStore(), err: errors.New("disk gone")}
	o := New(store, nil, zerolog.Nop(), testConfig(), WithClock(clk))
	t.Cleanup(o.Stop)

	if err := o.Register(newDef("report"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := o.tick()
	if !errors.Is(err, models.ErrOrchestratorHalted) {
		t.Fatalf("expected halt, got %v", err)
	}
	if !strings.Contains(err.Error(), "disk gone") {
		t.Errorf("fault should carry the cause, got %v", err)
	}

	health := o.Health()
	if health.Status != HealthHalted || health.Fault == "" {
		t.Errorf("expected halted health, got %+v", health)
	}

	status, err := o.SystemStatus()
	if err != nil {
		t.Fatalf("SystemStatus failed: %v", err)
	}
	if !status.Halted || status.Fault == "" {
		t.Errorf("expected fault in system status, got %+v", status)
	}

	if _, err := o.Execute(context.Background(), "report"); !errors.Is(err, models.ErrOrchestratorHalted) {
		t.Errorf("expected halted orchestrator to refuse work, got %v", err)
	}
	if err := o.tick(); !errors.Is(err, models.ErrOrchestratorHalted) {
		t.Errorf("expected halted loop to stay halted, got %v", err)
	}
}

func TestPauseResume(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	if err := o.Register(newDef("report"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	id, err := o.Execute(context.Background(), "report")
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	if err := o.Pause(id); err != nil {
		t.Fatalf("Pause failed: %v", err)
	}
	o.runAttempt(id)
	if exec, _ := o.Execution(id); exec.Status != models.ExecutionPaused {
		t.Fatalf("paused execution was run: %s", exec.Status)
	}
	if err := o.Pause(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected invalid transition pausing twice, got %v", err)
	}

	if err := o.Resume(id); err != nil {
		t.Fatalf("Resume failed: %v", err)
	}
	if err := o.Resume(id); !errors.Is(err, models.ErrInvalidTransition) {
		t.Errorf("expected invalid transition resuming a scheduled execution, got %v", err)
	}

	o.runAttempt(id)
	if exec, _ := o.Execution(id); exec.Status != models.ExecutionCompleted {
		t.Errorf("expected resumed execution to complete, got %s", exec.Status)
	}

	if err := o.Pause("ghost"); !errors.Is(err, models.ErrExecutionNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestSetEnabled(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	def := models.NewWorkflow("crisis", "Crisis", models.PriorityCritical, "*/5 * * * *")
	if err := o.Register(def, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if o.queue.FindWorkflow("crisis") < 0 {
		t.Fatal("expected cadence entry after registration")
	}

	if err := o.SetEnabled("crisis", false); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if o.queue.FindWorkflow("crisis") >= 0 {
		t.Error("expected cadence entry removed when disabled")
	}
	if _, err := o.Execute(context.Background(), "crisis"); !errors.Is(err, models.ErrWorkflowDisabled) {
		t.Errorf("expected disabled error, got %v", err)
	}

	if err := o.SetEnabled("crisis", true); err != nil {
		t.Fatalf("SetEnabled failed: %v", err)
	}
	if o.queue.FindWorkflow("crisis") < 0 {
		t.Error("expected cadence entry restored when enabled")
	}
	if err := o.SetEnabled("ghost", true); !errors.Is(err, models.ErrWorkflowNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestLoop_RunsCadenceWorkflows(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	def := models.NewWorkflow("crisis", "Crisis", models.PriorityCritical, "*/5 * * * *")
	if err := o.Register(def, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	status, err := o.WorkflowStatus("crisis")
	if err != nil {
		t.Fatalf("WorkflowStatus failed: %v", err)
	}
	if want := time.Date(2024, 3, 1, 8, 5, 0, 0, time.UTC); status.NextRun == nil || !status.NextRun.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, status.NextRun)
	}
	if status.PriorityCadence {
		t.Error("valid cron expression should not use the priority cadence")
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	clk.Add(5 * time.Minute)

	waitFor(t, "scheduled execution to complete", func() bool {
		execs, _ := o.Executions("crisis", 0)
		return len(execs) == 1 && execs[0].Status == models.ExecutionCompleted
	})

	execs, _ := o.Executions("crisis", 0)
	if execs[0].Trigger != TriggerSchedule {
		t.Errorf("expected schedule trigger, got %q", execs[0].Trigger)
	}
	status, _ = o.WorkflowStatus("crisis")
	if want := time.Date(2024, 3, 1, 8, 10, 0, 0, time.UTC); status.NextRun == nil || !status.NextRun.Equal(want) {
		t.Errorf("expected re-armed next run %v, got %v", want, status.NextRun)
	}
	if len(status.RecentExecutions) != 1 {
		t.Errorf("expected 1 recent execution, got %d", len(status.RecentExecutions))
	}
}

func TestStart_Twice(t *testing.T) {
	o, _ := setupTestOrchestrator(t)
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Error("expected error starting twice")
	}
	if h := o.Health(); h.Status != HealthOK {
		t.Errorf("expected healthy, got %+v", h)
	}
	o.Stop()
	if h := o.Health(); h.Status != HealthStopped {
		t.Errorf("expected stopped after Stop, got %+v", h)
	}
}

func TestSystemStatus(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	if err := o.Register(newDef("a"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	b := newDef("b")
	b.Enabled = false
	if err := o.Register(b, nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := o.Execute(context.Background(), "a"); err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
	}

	status, err := o.SystemStatus()
	if err != nil {
		t.Fatalf("SystemStatus failed: %v", err)
	}
	if status.Workflows != 2 || status.EnabledWorkflows != 1 {
		t.Errorf("expected 2 workflows with 1 enabled, got %d/%d", status.Workflows, status.EnabledWorkflows)
	}
	if status.Executions[models.ExecutionScheduled] != 2 {
		t.Errorf("expected 2 scheduled executions, got %d", status.Executions[models.ExecutionScheduled])
	}
	if status.QueueDepth != 3 {
		t.Errorf("expected queue depth 3 (one cadence entry, two pending), got %d", status.QueueDepth)
	}
	if status.Halted {
		t.Error("unexpected halt")
	}
	if h := o.Health(); h.Status != HealthStopped {
		t.Errorf("expected stopped before Start, got %+v", h)
	}
}

func TestWorkflowStatus_HistoryLimit(t *testing.T) {
	clk := clock.NewMock(start)
	o, _ := setupTestOrchestrator(t, WithClock(clk))

	if err := o.Register(newDef("report"), nil); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	for i := 0; i < 12; i++ {
		clk.Add(time.Second)
		if _, err := o.Execute(context.Background(), "report"); err != nil {
			t.Fatalf("Execute %d failed: %v", i, err)
		}
	}

	status, err := o.WorkflowStatus("report")
	if err != nil {
		t.Fatalf("WorkflowStatus failed: %v", err)
	}
	if len(status.RecentExecutions) != 10 {
		t.Errorf("expected 10 recent executions, got %d", len(status.RecentExecutions))
	}
	if _, err := o.WorkflowStatus("ghost"); !errors.Is(err, models.ErrWorkflowNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
