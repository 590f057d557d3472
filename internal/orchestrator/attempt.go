package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
	"github.com/stusseligmini/FionaSparx-sub000/internal/tracing"
)

// runAttempt performs one attempt of a SCHEDULED execution. Anything else is skipped:
// paused, already running, finished, or not yet due.
func (o *Orchestrator) runAttempt(execID string) {
	o.mu.Lock()
	if o.fault != nil {
		o.mu.Unlock()
		return
	}
	if _, busy := o.running[execID]; busy {
		o.mu.Unlock()
		return
	}

	exec, err := o.store.GetExecution(execID)
	if err != nil {
		if !errors.Is(err, models.ErrExecutionNotFound) {
			o.haltLocked(err)
		}
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	if exec.Status != models.ExecutionScheduled {
		o.mu.Unlock()
		return
	}
	if exec.NextAttemptAt != nil && now.Before(*exec.NextAttemptAt) {
		o.mu.Unlock()
		return
	}

	def, err := o.store.GetWorkflow(exec.WorkflowID)
	if err != nil {
		o.haltLocked(err)
		o.mu.Unlock()
		return
	}

	missing, err := o.missingDependenciesLocked(def, now)
	if err != nil {
		o.haltLocked(err)
		o.mu.Unlock()
		return
	}
	if len(missing) > 0 {
		o.deferLocked(exec, def, missing, now)
		o.mu.Unlock()
		return
	}
	delete(o.deferredSince, execID)

	number := len(exec.Attempts) + 1
	exec.Attempts = append(exec.Attempts, models.Attempt{Number: number, StartedAt: now})
	exec.Status = models.ExecutionRunning
	if exec.StartTime == nil {
		start := now
		exec.StartTime = &start
	}
	exec.NextAttemptAt = nil
	if err := o.store.SaveExecution(exec); err != nil {
		o.haltLocked(err)
		o.mu.Unlock()
		return
	}

	timeout := def.Timeout.Duration()
	ctx, cancel := context.WithTimeout(o.ctx, timeout)
	o.running[execID] = &inflight{
		workflowID: def.ID,
		attempt:    number,
		cancel:     cancel,
		started:    now,
		deadline:   now.Add(timeout),
		timeout:    timeout,
	}
	o.updateGaugesLocked()
	body := o.bodies[def.ID]
	run := &Run{
		ExecutionID: execID,
		WorkflowID:  def.ID,
		Attempt:     number,
		Trigger:     exec.Trigger,
		Params:      exec.Params,
	}
	o.mu.Unlock()

	o.logger.Info().
		Str("workflow_id", def.ID).
		Str("execution_id", execID).
		Int("attempt", number).
		Msg("Attempt started")

	ctx, span := tracing.StartAttemptSpan(ctx, def.ID, execID, number)
	result, runErr := invoke(ctx, body, run, timeout)
	cancel()

	if runErr != nil {
		tracing.RecordError(span, runErr)
	} else {
		tracing.SetSpanOK(span)
	}
	tracing.AddExecutionAttributes(span, statusOf(runErr), o.clock.Since(now))
	span.End()

	o.resolve(execID, number, result, runErr)
}

// invoke runs body and waits for it or for ctx. A body that ignores cancellation is
// abandoned; its result lands in a buffered channel nobody reads.
func invoke(ctx context.Context, body Body, run *Run, timeout time.Duration) (map[string]interface{}, error) {
	if body == nil {
		return nil, nil
	}

	type outcome struct {
		result map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: &models.HandlerError{Panic: r}}
			}
		}()
		result, err := body(ctx, run)
		if err != nil && !errors.Is(err, models.ErrHandler) && !errors.Is(err, models.ErrTimeout) {
			err = &models.HandlerError{Cause: err}
		}
		done <- outcome{result: result, err: err}
	}()

	timedOut := func() error {
		return &models.TimeoutError{ExecutionID: run.ExecutionID, Timeout: timeout}
	}
	select {
	case out := <-done:
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return out.result, out.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, timedOut()
		}
		return nil, &models.HandlerError{Cause: ctx.Err()}
	}
}

// resolve applies the outcome of an attempt. Outcomes for an attempt that is no longer
// the running one (already expired by the timeout monitor) are discarded.
func (o *Orchestrator) resolve(execID string, attempt int, result map[string]interface{}, runErr error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	inf, ok := o.running[execID]
	if !ok || inf.attempt != attempt {
		o.logger.Debug().
			Str("execution_id", execID).
			Int("attempt", attempt).
			Msg("Discarding result of resolved attempt")
		return
	}
	delete(o.running, execID)
	inf.cancel()
	defer o.updateGaugesLocked()

	exec, err := o.store.GetExecution(execID)
	if err != nil {
		o.haltLocked(err)
		return
	}
	def, err := o.store.GetWorkflow(exec.WorkflowID)
	if err != nil {
		o.haltLocked(err)
		return
	}

	now := o.clock.Now()
	elapsed := now.Sub(inf.started).Seconds()
	if n := len(exec.Attempts); n > 0 {
		end := now
		exec.Attempts[n-1].EndedAt = &end
		if runErr != nil {
			exec.Attempts[n-1].Error = runErr.Error()
		}
	}

	kind := models.ErrorKind(runErr)
	log := o.logger.With().
		Str("workflow_id", def.ID).
		Str("execution_id", execID).
		Int("attempt", attempt).
		Logger()

	switch {
	case runErr == nil:
		exec.Status = models.ExecutionCompleted
		exec.Result = result
		exec.Error = ""
		exec.ErrorKind = ""
		exec.EndTime = &now
		o.metrics.RecordAttempt(def.ID, string(models.ExecutionCompleted), "", elapsed)
		log.Info().Msg("Execution completed")

	case exec.RetryCount < def.MaxRetries:
		exec.RetryCount++
		exec.Status = models.ExecutionScheduled
		exec.Error = runErr.Error()
		exec.ErrorKind = kind
		due := now.Add(o.backoff(exec.RetryCount))
		exec.NextAttemptAt = &due
		o.pushLocked(&queueEntry{
			Kind:        entryRetry,
			WorkflowID:  def.ID,
			ExecutionID: execID,
			DueAt:       due,
			Rank:        def.Priority.Rank(),
		})
		o.metrics.RecordAttempt(def.ID, string(models.ExecutionFailed), kind, elapsed)
		o.metrics.RecordRetry(def.ID)
		log.Warn().
			Err(runErr).
			Int("retry", exec.RetryCount).
			Time("next_attempt", due).
			Msg("Attempt failed, retry scheduled")

	default:
		exec.Status = models.ExecutionFailed
		exec.Error = runErr.Error()
		exec.ErrorKind = kind
		exec.EndTime = &now
		o.metrics.RecordAttempt(def.ID, string(models.ExecutionFailed), kind, elapsed)
		log.Error().Err(runErr).Int("retries", exec.RetryCount).Msg("Execution failed")
	}

	if err := o.store.SaveExecution(exec); err != nil {
		o.haltLocked(err)
	}
}

// deferLocked puts an execution whose dependencies went stale back on the heap without
// consuming a retry. Deferral beyond the freshness window fails it for good.
func (o *Orchestrator) deferLocked(exec *models.Execution, def *models.WorkflowDefinition, missing []string, now time.Time) {
	depErr := &models.DependencyNotMetError{WorkflowID: def.ID, Missing: missing}

	first, ok := o.deferredSince[exec.ID]
	if !ok {
		first = now
		o.deferredSince[exec.ID] = now
	}

	if now.Sub(first) > o.config.FreshnessWindow {
		delete(o.deferredSince, exec.ID)
		exec.Status = models.ExecutionFailed
		exec.Error = depErr.Error()
		exec.ErrorKind = models.ErrorKind(depErr)
		exec.EndTime = &now
		exec.NextAttemptAt = nil
		if err := o.store.SaveExecution(exec); err != nil {
			o.haltLocked(err)
			return
		}
		o.metrics.RecordAttempt(def.ID, string(models.ExecutionFailed), exec.ErrorKind, 0)
		o.logger.Warn().
			Str("workflow_id", def.ID).
			Str("execution_id", exec.ID).
			Strs("missing", missing).
			Msg("Dependencies stayed unmet, execution failed")
		return
	}

	due := now.Add(o.config.PollInterval)
	exec.NextAttemptAt = &due
	if err := o.store.SaveExecution(exec); err != nil {
		o.haltLocked(err)
		return
	}
	o.pushLocked(&queueEntry{
		Kind:        entryRetry,
		WorkflowID:  def.ID,
		ExecutionID: exec.ID,
		DueAt:       due,
		Rank:        def.Priority.Rank(),
	})
	o.metrics.RecordDeferral(def.ID)
	o.logger.Debug().
		Str("workflow_id", def.ID).
		Str("execution_id", exec.ID).
		Strs("missing", missing).
		Msg("Attempt deferred on dependencies")
}

func statusOf(err error) string {
	if err != nil {
		return string(models.ExecutionFailed)
	}
	return string(models.ExecutionCompleted)
}
