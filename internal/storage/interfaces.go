// Package storage provides repository interfaces and their in-memory and BadgerDB implementations.
package storage

import (
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// WorkflowStore persists workflow definitions.
type WorkflowStore interface {
	// CreateWorkflow stores a new definition. Returns ErrWorkflowExists if the id is taken.
	CreateWorkflow(def *models.WorkflowDefinition) error
	// UpdateWorkflow replaces an existing definition. Returns ErrWorkflowNotFound if absent.
	UpdateWorkflow(def *models.WorkflowDefinition) error
	// GetWorkflow retrieves a definition by id. Returns ErrWorkflowNotFound if absent.
	GetWorkflow(id string) (*models.WorkflowDefinition, error)
	// ListWorkflows returns all definitions ordered by id.
	ListWorkflows() ([]*models.WorkflowDefinition, error)
}

// ExecutionStore is the live execution table.
type ExecutionStore interface {
	// SaveExecution inserts or replaces an execution record.
	SaveExecution(exec *models.Execution) error
	// GetExecution retrieves an execution by id. Returns ErrExecutionNotFound if absent.
	GetExecution(id string) (*models.Execution, error)
	// ListExecutions returns a workflow's executions, newest first. An empty workflowID lists all.
	// A limit <= 0 means no limit.
	ListExecutions(workflowID string, limit int) ([]*models.Execution, error)
	// ListExecutionsByStatus returns every live execution in the given status.
	ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.Execution, error)
	// LatestCompleted returns the most recently finished COMPLETED execution of a workflow.
	// Returns ErrExecutionNotFound if there is none.
	LatestCompleted(workflowID string) (*models.Execution, error)
	// CountByStatus counts live executions per status.
	CountByStatus() (map[models.ExecutionStatus]int, error)
	// DeleteExecution removes an execution. Returns ErrExecutionNotFound if absent.
	DeleteExecution(id string) error
}

// LiveStore is what the orchestrator needs for its live tables.
type LiveStore interface {
	WorkflowStore
	ExecutionStore
}

// ArchiveStore keeps executions after they leave the live table.
type ArchiveStore interface {
	// ArchiveExecutions appends finished executions to the archive.
	ArchiveExecutions(execs []*models.Execution) error
	// ListArchivedExecutions returns archived executions, newest first. An empty workflowID lists all.
	ListArchivedExecutions(workflowID string, limit int) ([]*models.Execution, error)
}

// EngagementStore persists the append-only engagement history.
type EngagementStore interface {
	// AppendEngagement appends one observation.
	AppendEngagement(data *models.EngagementData) error
	// ListEngagement returns observations at or after since, oldest first.
	ListEngagement(since time.Time) ([]*models.EngagementData, error)
	// PruneEngagement deletes observations older than before and returns how many were removed.
	PruneEngagement(before time.Time) (int, error)
}

// ABTestStore persists registered A/B tests.
type ABTestStore interface {
	SaveABTest(test *models.ABTest) error
	ListABTests() ([]*models.ABTest, error)
}

// HistoryStore combines the durable stores used by the timing engine and cleanup.
type HistoryStore interface {
	ArchiveStore
	EngagementStore
	ABTestStore

	// Close releases resources.
	Close() error
}
