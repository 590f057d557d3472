package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// Pause moves a SCHEDULED execution to PAUSED and takes it off the heap.
func (o *Orchestrator) Pause(execID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	exec, err := o.store.GetExecution(execID)
	if err != nil {
		return err
	}
	if exec.Status != models.ExecutionScheduled {
		return fmt.Errorf("%w: cannot pause %s execution", models.ErrInvalidTransition, exec.Status)
	}

	if i := o.queue.FindExecution(execID); i >= 0 {
		o.queue.Remove(i)
	}
	delete(o.deferredSince, execID)
	exec.Status = models.ExecutionPaused
	exec.NextAttemptAt = nil
	if err := o.store.SaveExecution(exec); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}

	o.logger.Info().Str("execution_id", execID).Msg("Execution paused")
	return nil
}

// Resume returns a PAUSED execution to SCHEDULED and re-submits it.
func (o *Orchestrator) Resume(execID string) error {
	o.mu.Lock()
	exec, err := o.store.GetExecution(execID)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	if exec.Status != models.ExecutionPaused {
		o.mu.Unlock()
		return fmt.Errorf("%w: cannot resume %s execution", models.ErrInvalidTransition, exec.Status)
	}
	exec.Status = models.ExecutionScheduled
	if err := o.store.SaveExecution(exec); err != nil {
		o.mu.Unlock()
		return fmt.Errorf("failed to save execution: %w", err)
	}
	rank := models.PriorityLow.Rank()
	if def, err := o.store.GetWorkflow(exec.WorkflowID); err == nil {
		rank = def.Priority.Rank()
	}
	o.mu.Unlock()

	o.logger.Info().Str("execution_id", execID).Msg("Execution resumed")
	o.dispatch(execID, exec.WorkflowID, rank)
	return nil
}

// SetEnabled toggles a workflow. Disabling removes its cadence entry; running and
// already scheduled executions are left alone.
func (o *Orchestrator) SetEnabled(workflowID string, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	def, err := o.store.GetWorkflow(workflowID)
	if err != nil {
		return err
	}
	if def.Enabled == enabled {
		return nil
	}
	def.Enabled = enabled
	if err := o.store.UpdateWorkflow(def); err != nil {
		return fmt.Errorf("failed to update workflow: %w", err)
	}

	i := o.queue.FindWorkflow(workflowID)
	switch {
	case enabled && i < 0:
		o.pushLocked(&queueEntry{
			Kind:       entryWorkflow,
			WorkflowID: def.ID,
			DueAt:      o.nextRun(def, o.clock.Now()),
			Rank:       def.Priority.Rank(),
		})
	case !enabled && i >= 0:
		o.queue.Remove(i)
	}
	o.updateGaugesLocked()

	o.logger.Info().Str("workflow_id", workflowID).Bool("enabled", enabled).Msg("Workflow toggled")
	return nil
}

// cleanup archives finished executions older than the retention window and drops
// them from the live table.
func (o *Orchestrator) cleanup(now time.Time) error {
	cutoff := now.Add(-o.config.Retention)

	o.mu.Lock()
	defer o.mu.Unlock()

	var expired []*models.Execution
	for _, status := range []models.ExecutionStatus{models.ExecutionCompleted, models.ExecutionFailed} {
		execs, err := o.store.ListExecutionsByStatus(status)
		if err != nil {
			return fmt.Errorf("failed to list %s executions: %w", status, err)
		}
		for _, e := range execs {
			if e.EndTime != nil && e.EndTime.Before(cutoff) {
				expired = append(expired, e)
			}
		}
	}
	if len(expired) == 0 {
		return nil
	}

	if o.archive != nil {
		if err := o.archive.ArchiveExecutions(expired); err != nil {
			return fmt.Errorf("failed to archive executions: %w", err)
		}
	}
	for _, e := range expired {
		if err := o.store.DeleteExecution(e.ID); err != nil && !errors.Is(err, models.ErrExecutionNotFound) {
			return fmt.Errorf("failed to delete execution: %w", err)
		}
	}

	o.metrics.RecordArchived(len(expired))
	o.logger.Info().Int("count", len(expired)).Time("cutoff", cutoff).Msg("Archived expired executions")
	return nil
}
