package models

import "time"

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionScheduled ExecutionStatus = "scheduled"
	ExecutionRunning   ExecutionStatus = "running"
	ExecutionCompleted ExecutionStatus = "completed"
	ExecutionFailed    ExecutionStatus = "failed"
	ExecutionPaused    ExecutionStatus = "paused"
)

// AllExecutionStatuses lists every status in lifecycle order.
var AllExecutionStatuses = []ExecutionStatus{
	ExecutionScheduled,
	ExecutionRunning,
	ExecutionCompleted,
	ExecutionFailed,
	ExecutionPaused,
}

// IsTerminal returns true if the execution will not change state again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionCompleted || s == ExecutionFailed
}

// Execution is one triggered run of a workflow. Retries reuse the record;
// each try is appended to Attempts.
type Execution struct {
	ID            string                 `json:"id"`
	WorkflowID    string                 `json:"workflow_id"`
	Status        ExecutionStatus        `json:"status"`
	Trigger       string                 `json:"trigger,omitempty"`
	Params        map[string]interface{} `json:"params,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
	StartTime     *time.Time             `json:"start_time,omitempty"`
	EndTime       *time.Time             `json:"end_time,omitempty"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	RetryCount    int                    `json:"retry_count"`
	NextAttemptAt *time.Time             `json:"next_attempt_at,omitempty"`
	Attempts      []Attempt              `json:"attempts,omitempty"`
}

// Attempt records one try of an execution.
type Attempt struct {
	Number    int        `json:"number"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// CurrentAttempt returns the number of the latest attempt, or 0 before the first one starts.
func (e *Execution) CurrentAttempt() int {
	return len(e.Attempts)
}

// Duration is the wall time between the first start and the end, zero while unfinished.
func (e *Execution) Duration() time.Duration {
	if e.StartTime == nil || e.EndTime == nil {
		return 0
	}
	return e.EndTime.Sub(*e.StartTime)
}

// Clone returns a deep copy so callers never share mutable state with the live table.
func (e *Execution) Clone() *Execution {
	c := *e
	c.Params = cloneMap(e.Params)
	c.Result = cloneMap(e.Result)
	c.StartTime = cloneTime(e.StartTime)
	c.EndTime = cloneTime(e.EndTime)
	c.NextAttemptAt = cloneTime(e.NextAttemptAt)
	if e.Attempts != nil {
		c.Attempts = make([]Attempt, len(e.Attempts))
		for i, a := range e.Attempts {
			a.EndedAt = cloneTime(a.EndedAt)
			c.Attempts[i] = a
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	c := make(map[string]interface{}, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}
