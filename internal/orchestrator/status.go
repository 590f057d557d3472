package orchestrator

import (
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// WorkflowStatus is a workflow definition with its recent history.
type WorkflowStatus struct {
	Definition       *models.WorkflowDefinition `json:"definition"`
	RecentExecutions []*models.Execution        `json:"recent_executions"`
	NextRun          *time.Time                 `json:"next_run,omitempty"`
	PriorityCadence  bool                       `json:"priority_cadence"`
	Running          bool                       `json:"running"`
}

// SystemStatus summarizes the orchestrator.
type SystemStatus struct {
	Workflows        int                            `json:"workflows"`
	EnabledWorkflows int                            `json:"enabled_workflows"`
	Executions       map[models.ExecutionStatus]int `json:"executions"`
	Running          int                            `json:"running"`
	InFlight         int                            `json:"in_flight"`
	QueueDepth       int                            `json:"queue_depth"`
	Halted           bool                           `json:"halted"`
	Fault            string                         `json:"fault,omitempty"`
	Timestamp        time.Time                      `json:"timestamp"`
}

// Health status values.
const (
	HealthOK      = "healthy"
	HealthHalted  = "halted"
	HealthStopped = "stopped"
)

// HealthReport is the orchestrator's liveness as seen by health endpoints.
type HealthReport struct {
	Status  string `json:"status"`
	Fault   string `json:"fault,omitempty"`
	Started bool   `json:"started"`
}

// Workflow returns a registered definition.
func (o *Orchestrator) Workflow(id string) (*models.WorkflowDefinition, error) {
	return o.store.GetWorkflow(id)
}

// Workflows lists registered definitions ordered by id.
func (o *Orchestrator) Workflows() ([]*models.WorkflowDefinition, error) {
	return o.store.ListWorkflows()
}

// Execution returns a live execution.
func (o *Orchestrator) Execution(id string) (*models.Execution, error) {
	return o.store.GetExecution(id)
}

// Executions lists live executions of a workflow, newest first. An empty id lists all.
func (o *Orchestrator) Executions(workflowID string, limit int) ([]*models.Execution, error) {
	return o.store.ListExecutions(workflowID, limit)
}

// ArchivedExecutions lists executions moved out of the live table, newest first.
func (o *Orchestrator) ArchivedExecutions(workflowID string, limit int) ([]*models.Execution, error) {
	if o.archive == nil {
		return []*models.Execution{}, nil
	}
	return o.archive.ListArchivedExecutions(workflowID, limit)
}

// WorkflowStatus returns a definition, its latest executions and its next cadence run.
func (o *Orchestrator) WorkflowStatus(id string) (*WorkflowStatus, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	def, err := o.store.GetWorkflow(id)
	if err != nil {
		return nil, err
	}
	recent, err := o.store.ListExecutions(id, o.config.StatusHistory)
	if err != nil {
		return nil, err
	}

	status := &WorkflowStatus{
		Definition:       def,
		RecentExecutions: recent,
		PriorityCadence:  o.cadenceFor(def).fallback,
	}
	if i := o.queue.FindWorkflow(id); i >= 0 {
		next := (*o.queue)[i].DueAt
		status.NextRun = &next
	}
	for _, inf := range o.running {
		if inf.workflowID == id {
			status.Running = true
			break
		}
	}
	return status, nil
}

// SystemStatus returns counts per status, workflow totals, queue depth and any fault.
func (o *Orchestrator) SystemStatus() (*SystemStatus, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	defs, err := o.store.ListWorkflows()
	if err != nil {
		return nil, err
	}
	counts, err := o.store.CountByStatus()
	if err != nil {
		return nil, err
	}

	status := &SystemStatus{
		Workflows:  len(defs),
		Executions: make(map[models.ExecutionStatus]int, len(models.AllExecutionStatuses)),
		Running:    counts[models.ExecutionRunning],
		InFlight:   len(o.running),
		QueueDepth: o.queue.Len() + len(o.work),
		Halted:     o.fault != nil,
		Timestamp:  o.clock.Now(),
	}
	for _, s := range models.AllExecutionStatuses {
		status.Executions[s] = counts[s]
	}
	for _, d := range defs {
		if d.Enabled {
			status.EnabledWorkflows++
		}
	}
	if o.fault != nil {
		status.Fault = o.fault.Error()
	}
	return status, nil
}

// Fault returns the error that halted the orchestrator, or nil.
func (o *Orchestrator) Fault() error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.fault
}

// Health reports whether the loop is running and any recorded fault.
func (o *Orchestrator) Health() HealthReport {
	o.mu.RLock()
	defer o.mu.RUnlock()

	report := HealthReport{Status: HealthOK, Started: o.started}
	switch {
	case o.fault != nil:
		report.Status = HealthHalted
		report.Fault = o.fault.Error()
	case !o.started || o.ctx.Err() != nil:
		report.Status = HealthStopped
	}
	return report
}
