// Package orchestrator runs registered workflows on their cadence with dependency
// gating, bounded retries and per-attempt timeouts.
package orchestrator

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stusseligmini/FionaSparx-sub000/internal/metrics"
	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/storage"
	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
	"github.com/stusseligmini/FionaSparx-sub000/pkg/clock"
)

// Trigger sources recorded on executions.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerWebhook  = "webhook"
)

// Body is the work a workflow performs. It must honour ctx cancellation; a body
// that outlives its timeout has its result discarded.
type Body func(ctx context.Context, run *Run) (map[string]interface{}, error)

// Run is what a body sees of the execution it serves.
type Run struct {
	ExecutionID string
	WorkflowID  string
	Attempt     int
	Trigger     string
	Params      map[string]interface{}
}

// RetryPolicy is the exponential backoff between attempts of one execution.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// Config holds orchestrator configuration.
type Config struct {
	PollInterval time.Duration
	Workers      int
	QueueSize    int
	// FreshnessWindow is how recent a dependency's last completion must be.
	FreshnessWindow time.Duration
	// Retention is how long finished executions stay in the live table.
	Retention     time.Duration
	StatusHistory int
	Retry         RetryPolicy
	// Cadence overrides the per-priority fallback intervals.
	Cadence map[models.Priority]time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() *Config {
	return &Config{
		PollInterval:    10 * time.Second,
		Workers:         4,
		QueueSize:       256,
		FreshnessWindow: time.Hour,
		Retention:       24 * time.Hour,
		StatusHistory:   10,
		Retry: RetryPolicy{
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2.0,
		},
	}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock sets the time source for scheduling, deadlines and retention.
func WithClock(c clock.Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// inflight tracks the attempt currently running for an execution.
type inflight struct {
	workflowID string
	attempt    int
	cancel     context.CancelFunc
	started    time.Time
	deadline   time.Time
	timeout    time.Duration
}

// Orchestrator owns the workflow and execution tables, the scheduling heap and the worker pool.
// All state transitions happen under mu, so attempts of one execution are strictly sequential.
type Orchestrator struct {
	store   storage.LiveStore
	archive storage.ArchiveStore
	logger  zerolog.Logger
	metrics *metrics.Metrics
	clock   clock.Clock
	config  Config

	mu            sync.RWMutex
	bodies        map[string]Body
	cadences      map[string]cadence
	queue         *PriorityQueue
	seq           uint64
	running       map[string]*inflight
	deferredSince map[string]time.Time
	workflowCount int
	fault         error

	work     chan string
	ticker   clock.Ticker
	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	started  bool
	wg       sync.WaitGroup
}

// New creates an orchestrator. archive may be nil, in which case expired executions are dropped.
func New(store storage.LiveStore, archive storage.ArchiveStore, logger zerolog.Logger, cfg *Config, opts ...Option) *Orchestrator {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.Workers <= 0 {
		c.Workers = defaults.Workers
	}
	if c.QueueSize <= 0 {
		c.QueueSize = defaults.QueueSize
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = defaults.FreshnessWindow
	}
	if c.Retention <= 0 {
		c.Retention = defaults.Retention
	}
	if c.StatusHistory <= 0 {
		c.StatusHistory = defaults.StatusHistory
	}
	if c.Retry.InitialInterval <= 0 {
		c.Retry.InitialInterval = defaults.Retry.InitialInterval
	}
	if c.Retry.MaxInterval <= 0 {
		c.Retry.MaxInterval = defaults.Retry.MaxInterval
	}
	if c.Retry.Multiplier < 1 {
		c.Retry.Multiplier = defaults.Retry.Multiplier
	}

	pq := &PriorityQueue{}
	heap.Init(pq)

	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		store:         store,
		archive:       archive,
		logger:        logger.With().Str("component", "orchestrator").Logger(),
		clock:         clock.New(),
		config:        c,
		bodies:        make(map[string]Body),
		cadences:      make(map[string]cadence),
		queue:         pq,
		running:       make(map[string]*inflight),
		deferredSince: make(map[string]time.Time),
		work:          make(chan string, c.QueueSize),
		ctx:           ctx,
		cancel:        cancel,
		stopCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register validates and stores a workflow definition. A nil body completes immediately.
func (o *Orchestrator) Register(def *models.WorkflowDefinition, body Body) error {
	if def == nil {
		return models.NewValidationError("workflow", "definition is required", nil)
	}
	d := def.Clone()
	if err := d.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	if _, err := o.store.GetWorkflow(d.ID); err == nil {
		return models.NewValidationError("id", "duplicate workflow "+d.ID, models.ErrWorkflowExists)
	} else if !errors.Is(err, models.ErrWorkflowNotFound) {
		return fmt.Errorf("failed to check workflow: %w", err)
	}
	for _, dep := range d.Dependencies {
		if _, err := o.store.GetWorkflow(dep); errors.Is(err, models.ErrWorkflowNotFound) {
			return models.NewValidationError("dependencies", "unknown dependency "+dep, models.ErrUnknownDependency)
		} else if err != nil {
			return fmt.Errorf("failed to check dependency: %w", err)
		}
	}

	now := o.clock.Now()
	d.CreatedAt = now
	if err := o.store.CreateWorkflow(d); err != nil {
		return fmt.Errorf("failed to store workflow: %w", err)
	}
	o.bodies[d.ID] = body
	o.workflowCount++

	if d.Enabled {
		o.pushLocked(&queueEntry{
			Kind:       entryWorkflow,
			WorkflowID: d.ID,
			DueAt:      o.nextRun(d, now),
			Rank:       d.Priority.Rank(),
		})
	}
	o.updateGaugesLocked()

	o.logger.Info().
		Str("workflow_id", d.ID).
		Str("priority", string(d.Priority)).
		Str("schedule", d.Schedule).
		Bool("priority_cadence", o.cadenceFor(d).fallback).
		Strs("dependencies", d.Dependencies).
		Msg("Workflow registered")
	return nil
}

// Start launches the worker pool and the scheduling loop. The orchestrator stops when ctx is done.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.started {
		o.mu.Unlock()
		return errors.New("orchestrator already started")
	}
	o.started = true
	o.ticker = o.clock.NewTicker(o.config.PollInterval)
	o.mu.Unlock()

	context.AfterFunc(ctx, o.cancel)

	o.logger.Info().
		Int("workers", o.config.Workers).
		Dur("poll_interval", o.config.PollInterval).
		Msg("Starting orchestrator")

	for i := 0; i < o.config.Workers; i++ {
		o.wg.Add(1)
		go o.worker()
	}

	o.wg.Add(1)
	go o.run()
	return nil
}

// Stop cancels running attempts and waits for the loop and the workers to exit.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		o.logger.Info().Msg("Stopping orchestrator")
		o.cancel()
		close(o.stopCh)
		o.mu.RLock()
		if o.ticker != nil {
			o.ticker.Stop()
		}
		o.mu.RUnlock()
	})
	o.wg.Wait()
}

// run is the main scheduling loop.
func (o *Orchestrator) run() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-o.ticker.C():
			if err := o.tick(); err != nil {
				o.logger.Error().Err(err).Msg("Scheduling loop halted")
				return
			}
		}
	}
}

func (o *Orchestrator) worker() {
	defer o.wg.Done()
	for {
		select {
		case <-o.ctx.Done():
			return
		case execID := <-o.work:
			func() {
				defer func() {
					if r := recover(); r != nil {
						o.logger.Error().
							Interface("panic", r).
							Str("execution_id", execID).
							Msg("Attempt processing panicked")
					}
				}()
				o.runAttempt(execID)
			}()
		}
	}
}

// tick pops due heap entries, expires overrunning attempts and archives old executions.
// It returns the recorded fault once a repository error has halted the orchestrator.
func (o *Orchestrator) tick() error {
	started := time.Now()
	_, span := tracing.StartTickSpan(o.ctx)
	defer span.End()

	type expiredAttempt struct {
		execID  string
		attempt int
		timeout time.Duration
	}
	var (
		runs     []string
		resubmit []*queueEntry
		expired  []expiredAttempt
	)

	o.mu.Lock()
	if o.fault != nil {
		err := o.fault
		o.mu.Unlock()
		return err
	}
	now := o.clock.Now()
	for o.queue.Len() > 0 {
		item, _ := o.queue.Peek()
		if item.DueAt.After(now) {
			break
		}
		heap.Pop(o.queue)

		if item.Kind == entryRetry {
			resubmit = append(resubmit, item)
			continue
		}

		def, err := o.store.GetWorkflow(item.WorkflowID)
		if errors.Is(err, models.ErrWorkflowNotFound) {
			continue
		}
		if err != nil {
			err = o.haltLocked(err)
			o.mu.Unlock()
			tracing.RecordError(span, err)
			return err
		}
		if !def.Enabled {
			continue
		}
		o.pushLocked(&queueEntry{
			Kind:       entryWorkflow,
			WorkflowID: def.ID,
			DueAt:      o.nextRun(def, now),
			Rank:       def.Priority.Rank(),
		})
		runs = append(runs, def.ID)
	}
	for id, inf := range o.running {
		if now.After(inf.deadline) {
			expired = append(expired, expiredAttempt{execID: id, attempt: inf.attempt, timeout: inf.timeout})
		}
	}
	o.mu.Unlock()

	for _, x := range expired {
		o.logger.Warn().
			Str("execution_id", x.execID).
			Int("attempt", x.attempt).
			Dur("timeout", x.timeout).
			Msg("Attempt exceeded timeout")
		o.resolve(x.execID, x.attempt, nil, &models.TimeoutError{ExecutionID: x.execID, Timeout: x.timeout})
	}

	for _, id := range runs {
		if _, err := o.execute(o.ctx, id, nil, TriggerSchedule); err != nil {
			if errors.Is(err, models.ErrDependencyNotMet) {
				o.logger.Debug().Err(err).Str("workflow_id", id).Msg("Skipping scheduled run")
				continue
			}
			o.logger.Warn().Err(err).Str("workflow_id", id).Msg("Scheduled run not started")
		}
	}

	for _, item := range resubmit {
		o.dispatch(item.ExecutionID, item.WorkflowID, item.Rank)
	}

	if err := o.cleanup(now); err != nil {
		err = o.halt(err)
		tracing.RecordError(span, err)
		return err
	}

	o.mu.Lock()
	o.updateGaugesLocked()
	err := o.fault
	o.mu.Unlock()

	o.metrics.ObserveTick(time.Since(started).Seconds())
	return err
}

// Execute triggers a manual run of a workflow and returns the execution id.
func (o *Orchestrator) Execute(ctx context.Context, workflowID string) (string, error) {
	return o.execute(ctx, workflowID, nil, TriggerManual)
}

// ExecuteWithParams triggers a manual run carrying params to the body.
func (o *Orchestrator) ExecuteWithParams(ctx context.Context, workflowID string, params map[string]interface{}) (string, error) {
	return o.execute(ctx, workflowID, params, TriggerManual)
}

// ExecuteWithTrigger is ExecuteWithParams with an explicit trigger source.
func (o *Orchestrator) ExecuteWithTrigger(ctx context.Context, workflowID, trigger string, params map[string]interface{}) (string, error) {
	return o.execute(ctx, workflowID, params, trigger)
}

// execute creates a SCHEDULED execution and hands it to the pool. Dependencies that are
// not met reject the trigger without creating a record.
func (o *Orchestrator) execute(ctx context.Context, workflowID string, params map[string]interface{}, trigger string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	o.mu.Lock()
	if o.fault != nil {
		err := o.fault
		o.mu.Unlock()
		return "", err
	}

	def, err := o.store.GetWorkflow(workflowID)
	if err != nil {
		o.mu.Unlock()
		if errors.Is(err, models.ErrWorkflowNotFound) {
			return "", models.NewValidationError("workflow_id", "unknown workflow "+workflowID, models.ErrWorkflowNotFound)
		}
		return "", fmt.Errorf("failed to load workflow: %w", err)
	}
	if !def.Enabled {
		o.mu.Unlock()
		return "", models.NewValidationError("workflow_id", "workflow "+workflowID+" is disabled", models.ErrWorkflowDisabled)
	}

	now := o.clock.Now()
	missing, err := o.missingDependenciesLocked(def, now)
	if err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("failed to check dependencies: %w", err)
	}
	if len(missing) > 0 {
		o.mu.Unlock()
		return "", &models.DependencyNotMetError{WorkflowID: workflowID, Missing: missing}
	}

	exec := &models.Execution{
		ID:         uuid.New().String(),
		WorkflowID: def.ID,
		Status:     models.ExecutionScheduled,
		Trigger:    trigger,
		Params:     params,
		CreatedAt:  now,
	}
	if err := o.store.SaveExecution(exec); err != nil {
		o.mu.Unlock()
		return "", fmt.Errorf("failed to save execution: %w", err)
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("workflow_id", def.ID).
		Str("execution_id", exec.ID).
		Str("trigger", trigger).
		Msg("Execution scheduled")

	o.dispatch(exec.ID, def.ID, def.Priority.Rank())
	return exec.ID, nil
}

// dispatch hands an execution to the worker pool. When the pool's queue is full the
// execution goes back on the heap and the next tick re-submits it.
func (o *Orchestrator) dispatch(execID, workflowID string, rank int) {
	select {
	case o.work <- execID:
	default:
		o.mu.Lock()
		o.pushLocked(&queueEntry{
			Kind:        entryRetry,
			WorkflowID:  workflowID,
			ExecutionID: execID,
			DueAt:       o.clock.Now(),
			Rank:        rank,
		})
		o.mu.Unlock()
		o.logger.Debug().Str("execution_id", execID).Msg("Worker queue full, execution re-queued")
	}
}

// missingDependenciesLocked lists dependencies without a completion inside the freshness window.
func (o *Orchestrator) missingDependenciesLocked(def *models.WorkflowDefinition, now time.Time) ([]string, error) {
	var missing []string
	for _, dep := range def.Dependencies {
		last, err := o.store.LatestCompleted(dep)
		if errors.Is(err, models.ErrExecutionNotFound) {
			missing = append(missing, dep)
			continue
		}
		if err != nil {
			return nil, err
		}
		if last.EndTime == nil || now.Sub(*last.EndTime) > o.config.FreshnessWindow {
			missing = append(missing, dep)
		}
	}
	return missing, nil
}

func (o *Orchestrator) pushLocked(e *queueEntry) {
	o.seq++
	e.seq = o.seq
	heap.Push(o.queue, e)
}

// halt records err as the orchestrator fault. Only the first fault is kept.
func (o *Orchestrator) halt(err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.haltLocked(err)
}

func (o *Orchestrator) haltLocked(err error) error {
	if o.fault == nil {
		o.fault = fmt.Errorf("%w: %v", models.ErrOrchestratorHalted, err)
		o.logger.Error().Err(err).Msg("Repository error, halting orchestrator")
	}
	return o.fault
}

func (o *Orchestrator) updateGaugesLocked() {
	o.metrics.SetQueueState(o.queue.Len(), len(o.running), o.workflowCount)
}
