package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// Compile-time check that MemoryStore implements all storage interfaces.
var (
	_ LiveStore    = (*MemoryStore)(nil)
	_ HistoryStore = (*MemoryStore)(nil)
)

// MemoryStore implements every store using in-memory data structures.
// Executions live in an arena addressed by slot; the id and workflow indexes
// point into it so lookups never scan the whole table.
// Records are copied on the way in and on the way out.
type MemoryStore struct {
	workflows map[string]*models.WorkflowDefinition

	arena      []*models.Execution
	free       []int
	index      map[string]int   // execution id -> slot
	byWorkflow map[string][]int // workflow id -> slots in creation order

	archived   []*models.Execution
	engagement []*models.EngagementData
	abTests    map[string]*models.ABTest

	mu sync.RWMutex
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		workflows:  make(map[string]*models.WorkflowDefinition),
		index:      make(map[string]int),
		byWorkflow: make(map[string][]int),
		abTests:    make(map[string]*models.ABTest),
	}
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}

// CreateWorkflow stores a new workflow definition.
func (s *MemoryStore) CreateWorkflow(def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[def.ID]; exists {
		return models.ErrWorkflowExists
	}
	s.workflows[def.ID] = def.Clone()
	return nil
}

// UpdateWorkflow replaces an existing workflow definition.
func (s *MemoryStore) UpdateWorkflow(def *models.WorkflowDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[def.ID]; !exists {
		return models.ErrWorkflowNotFound
	}
	s.workflows[def.ID] = def.Clone()
	return nil
}

// GetWorkflow retrieves a workflow definition by id.
func (s *MemoryStore) GetWorkflow(id string) (*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	def, exists := s.workflows[id]
	if !exists {
		return nil, models.ErrWorkflowNotFound
	}
	return def.Clone(), nil
}

// ListWorkflows returns all workflow definitions ordered by id.
func (s *MemoryStore) ListWorkflows() ([]*models.WorkflowDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	defs := make([]*models.WorkflowDefinition, 0, len(s.workflows))
	for _, def := range s.workflows {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].ID < defs[j].ID })
	return defs, nil
}

// SaveExecution inserts or replaces an execution.
func (s *MemoryStore) SaveExecution(exec *models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if slot, exists := s.index[exec.ID]; exists {
		s.arena[slot] = exec.Clone()
		return nil
	}

	var slot int
	if n := len(s.free); n > 0 {
		slot = s.free[n-1]
		s.free = s.free[:n-1]
		s.arena[slot] = exec.Clone()
	} else {
		slot = len(s.arena)
		s.arena = append(s.arena, exec.Clone())
	}
	s.index[exec.ID] = slot
	s.byWorkflow[exec.WorkflowID] = append(s.byWorkflow[exec.WorkflowID], slot)
	return nil
}

// GetExecution retrieves an execution by id.
func (s *MemoryStore) GetExecution(id string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	slot, exists := s.index[id]
	if !exists {
		return nil, models.ErrExecutionNotFound
	}
	return s.arena[slot].Clone(), nil
}

// ListExecutions returns executions newest first.
func (s *MemoryStore) ListExecutions(workflowID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if workflowID != "" {
		slots := s.byWorkflow[workflowID]
		result := make([]*models.Execution, 0, len(slots))
		for i := len(slots) - 1; i >= 0; i-- {
			if limit > 0 && len(result) >= limit {
				break
			}
			result = append(result, s.arena[slots[i]].Clone())
		}
		return result, nil
	}

	result := make([]*models.Execution, 0, len(s.index))
	for _, slot := range s.index {
		result = append(result, s.arena[slot].Clone())
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// ListExecutionsByStatus returns every live execution in the given status, oldest first.
func (s *MemoryStore) ListExecutionsByStatus(status models.ExecutionStatus) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Execution
	for _, slot := range s.index {
		if exec := s.arena[slot]; exec.Status == status {
			result = append(result, exec.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// LatestCompleted returns the completed execution with the latest end time.
func (s *MemoryStore) LatestCompleted(workflowID string) (*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *models.Execution
	for _, slot := range s.byWorkflow[workflowID] {
		exec := s.arena[slot]
		if exec.Status != models.ExecutionCompleted || exec.EndTime == nil {
			continue
		}
		if latest == nil || exec.EndTime.After(*latest.EndTime) {
			latest = exec
		}
	}
	if latest == nil {
		return nil, models.ErrExecutionNotFound
	}
	return latest.Clone(), nil
}

// CountByStatus counts live executions per status.
func (s *MemoryStore) CountByStatus() (map[models.ExecutionStatus]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[models.ExecutionStatus]int, len(models.AllExecutionStatuses))
	for _, status := range models.AllExecutionStatuses {
		counts[status] = 0
	}
	for _, slot := range s.index {
		counts[s.arena[slot].Status]++
	}
	return counts, nil
}

// DeleteExecution removes an execution and releases its slot.
func (s *MemoryStore) DeleteExecution(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, exists := s.index[id]
	if !exists {
		return models.ErrExecutionNotFound
	}

	workflowID := s.arena[slot].WorkflowID
	slots := s.byWorkflow[workflowID]
	for i, v := range slots {
		if v == slot {
			slots = append(slots[:i], slots[i+1:]...)
			break
		}
	}
	if len(slots) == 0 {
		delete(s.byWorkflow, workflowID)
	} else {
		s.byWorkflow[workflowID] = slots
	}

	delete(s.index, id)
	s.arena[slot] = nil
	s.free = append(s.free, slot)
	return nil
}

// ArchiveExecutions appends executions to the archive.
func (s *MemoryStore) ArchiveExecutions(execs []*models.Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, exec := range execs {
		s.archived = append(s.archived, exec.Clone())
	}
	return nil
}

// ListArchivedExecutions returns archived executions newest first.
func (s *MemoryStore) ListArchivedExecutions(workflowID string, limit int) ([]*models.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Execution
	for i := len(s.archived) - 1; i >= 0; i-- {
		exec := s.archived[i]
		if workflowID != "" && exec.WorkflowID != workflowID {
			continue
		}
		result = append(result, exec.Clone())
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// AppendEngagement appends an engagement observation.
func (s *MemoryStore) AppendEngagement(data *models.EngagementData) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record := *data
	s.engagement = append(s.engagement, &record)
	return nil
}

// ListEngagement returns observations at or after since, oldest first.
func (s *MemoryStore) ListEngagement(since time.Time) ([]*models.EngagementData, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.EngagementData
	for _, data := range s.engagement {
		if data.Timestamp.Before(since) {
			continue
		}
		record := *data
		result = append(result, &record)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// PruneEngagement drops observations older than before.
func (s *MemoryStore) PruneEngagement(before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.engagement[:0]
	removed := 0
	for _, data := range s.engagement {
		if data.Timestamp.Before(before) {
			removed++
			continue
		}
		kept = append(kept, data)
	}
	for i := len(kept); i < len(s.engagement); i++ {
		s.engagement[i] = nil
	}
	s.engagement = kept
	return removed, nil
}

// SaveABTest stores or replaces an A/B test.
func (s *MemoryStore) SaveABTest(test *models.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *test
	c.CandidateTimes = append([]time.Time(nil), test.CandidateTimes...)
	s.abTests[test.ID] = &c
	return nil
}

// ListABTests returns all A/B tests ordered by start date.
func (s *MemoryStore) ListABTests() ([]*models.ABTest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.ABTest, 0, len(s.abTests))
	for _, test := range s.abTests {
		c := *test
		c.CandidateTimes = append([]time.Time(nil), test.CandidateTimes...)
		result = append(result, &c)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].StartDate.Equal(result[j].StartDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].StartDate.Before(result[j].StartDate)
	})
	return result, nil
}

// sortNewestFirst orders executions by creation time, newest first.
func sortNewestFirst(execs []*models.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].CreatedAt.After(execs[j].CreatedAt)
	})
}
