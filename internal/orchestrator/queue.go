package orchestrator

import "time"

// entryKind distinguishes cadence runs from re-submissions of an existing execution.
type entryKind int

const (
	// entryWorkflow triggers a new execution of WorkflowID and is re-armed from its cadence.
	entryWorkflow entryKind = iota
	// entryRetry re-submits ExecutionID after a backoff or a dependency deferral.
	entryRetry
)

func (k entryKind) String() string {
	if k == entryRetry {
		return "retry"
	}
	return "workflow"
}

// queueEntry is one item on the scheduling heap.
type queueEntry struct {
	Kind        entryKind
	WorkflowID  string
	ExecutionID string
	DueAt       time.Time
	Rank        int
	seq         uint64
	index       int
}

// PriorityQueue is a min-heap ordered by due time, then priority rank, then insertion order.
type PriorityQueue []*queueEntry

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	a, b := pq[i], pq[j]
	if !a.DueAt.Equal(b.DueAt) {
		return a.DueAt.Before(b.DueAt)
	}
	if a.Rank != b.Rank {
		return a.Rank < b.Rank
	}
	return a.seq < b.seq
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*queueEntry)
	item.index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*pq = old[0 : n-1]
	return item
}

// Remove removes the entry at index i from the heap.
func (pq *PriorityQueue) Remove(i int) *queueEntry {
	n := pq.Len() - 1
	if n != i {
		pq.Swap(i, n)
		item := (*pq)[n]
		*pq = (*pq)[:n]
		if i < n {
			pq.fix(i)
		}
		item.index = -1
		return item
	}
	item := (*pq)[n]
	*pq = (*pq)[:n]
	item.index = -1
	return item
}

// fix re-establishes the heap ordering after the element at index i has changed its value.
func (pq *PriorityQueue) fix(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !pq.Less(i, parent) {
			break
		}
		pq.Swap(i, parent)
		i = parent
	}

	n := pq.Len()
	for {
		left := 2*i + 1
		if left >= n {
			break
		}
		j := left
		if right := left + 1; right < n && pq.Less(right, left) {
			j = right
		}
		if !pq.Less(j, i) {
			break
		}
		pq.Swap(i, j)
		i = j
	}
}

// FindWorkflow returns the index of the cadence entry for workflowID, or -1.
func (pq *PriorityQueue) FindWorkflow(workflowID string) int {
	for i, item := range *pq {
		if item.Kind == entryWorkflow && item.WorkflowID == workflowID {
			return i
		}
	}
	return -1
}

// FindExecution returns the index of the retry entry for execID, or -1.
func (pq *PriorityQueue) FindExecution(execID string) int {
	for i, item := range *pq {
		if item.Kind == entryRetry && item.ExecutionID == execID {
			return i
		}
	}
	return -1
}

// Peek returns the next due entry without removing it.
func (pq *PriorityQueue) Peek() (*queueEntry, bool) {
	if len(*pq) == 0 {
		return nil, false
	}
	return (*pq)[0], true
}
