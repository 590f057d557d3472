package models

import (
	"strings"
	"time"

	"github.com/stusseligmini/FionaSparx-sub000/pkg/duration"
)

// Duration is an alias for the shared duration.Duration type.
type Duration = duration.Duration

// Priority ranks workflows and selects the fallback cadence.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// ParsePriority accepts any casing of the four priority names.
func ParsePriority(s string) (Priority, error) {
	p := Priority(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", NewValidationError("priority", "unknown priority "+s, nil)
	}
	return p, nil
}

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// Rank orders priorities; lower runs first.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityMedium:
		return 2
	default:
		return 3
	}
}

// DefaultCadence is the run interval used when a workflow has no usable schedule expression.
func (p Priority) DefaultCadence() time.Duration {
	switch p {
	case PriorityCritical:
		return 5 * time.Minute
	case PriorityHigh:
		return 15 * time.Minute
	case PriorityMedium:
		return 30 * time.Minute
	default:
		return 6 * time.Hour
	}
}

// Workflow defaults.
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 300 * time.Second
)

// WorkflowDefinition describes a registered unit of recurring work.
// Only Enabled may change after registration.
type WorkflowDefinition struct {
	ID           string    `json:"id" yaml:"id"`
	Name         string    `json:"name" yaml:"name"`
	Description  string    `json:"description,omitempty" yaml:"description,omitempty"`
	Priority     Priority  `json:"priority" yaml:"priority"`
	Schedule     string    `json:"schedule,omitempty" yaml:"schedule,omitempty"`
	Dependencies []string  `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	MaxRetries   int       `json:"max_retries" yaml:"max_retries"`
	Timeout      Duration  `json:"timeout" yaml:"timeout"`
	Enabled      bool      `json:"enabled" yaml:"enabled"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// NewWorkflow returns an enabled definition with the default retry and timeout settings.
func NewWorkflow(id, name string, priority Priority, schedule string, deps ...string) *WorkflowDefinition {
	return &WorkflowDefinition{
		ID:           id,
		Name:         name,
		Priority:     priority,
		Schedule:     schedule,
		Dependencies: deps,
		MaxRetries:   DefaultMaxRetries,
		Timeout:      Duration(DefaultTimeout),
		Enabled:      true,
	}
}

// Validate checks the fields that do not depend on other registered workflows.
func (w *WorkflowDefinition) Validate() error {
	if strings.TrimSpace(w.ID) == "" {
		return NewValidationError("id", "workflow id is required", nil)
	}
	if w.Name == "" {
		w.Name = w.ID
	}
	if !w.Priority.Valid() {
		return NewValidationError("priority", "unknown priority "+string(w.Priority), nil)
	}
	if w.MaxRetries < 0 {
		return NewValidationError("max_retries", "must be >= 0", nil)
	}
	if w.Timeout.Duration() <= 0 {
		return NewValidationError("timeout", "must be positive", nil)
	}
	seen := make(map[string]struct{}, len(w.Dependencies))
	for _, dep := range w.Dependencies {
		if dep == w.ID {
			return NewValidationError("dependencies", "workflow cannot depend on itself", nil)
		}
		if _, dup := seen[dep]; dup {
			return NewValidationError("dependencies", "duplicate dependency "+dep, nil)
		}
		seen[dep] = struct{}{}
	}
	return nil
}

// Clone returns a deep copy.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	c := *w
	if w.Dependencies != nil {
		c.Dependencies = append([]string(nil), w.Dependencies...)
	}
	return &c
}
