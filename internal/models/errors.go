// Package models defines the core data structures for the automation core.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Common errors.
var (
	ErrValidation         = errors.New("validation error")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrWorkflowExists     = errors.New("workflow already exists")
	ErrWorkflowDisabled   = errors.New("workflow is disabled")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrExecutionNotFound  = errors.New("execution not found")
	ErrInvalidTransition  = errors.New("invalid execution state transition")
	ErrDependencyNotMet   = errors.New("dependency not met")
	ErrTimeout            = errors.New("execution timed out")
	ErrHandler            = errors.New("handler failed")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrEndpointExists     = errors.New("endpoint already registered")
	ErrEndpointNotFound   = errors.New("endpoint not found")
	ErrInvalidEngagement  = errors.New("invalid engagement data")
	ErrNoAnalyticsData    = errors.New("no engagement data in window")
	ErrABTestNotFound     = errors.New("ab test not found")
	ErrOrchestratorHalted = errors.New("orchestrator halted")
)

// ValidationError rejects a malformed request before any state changes.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

// NewValidationError builds a ValidationError wrapping cause, which may be nil.
func NewValidationError(field, reason string, cause error) *ValidationError {
	return &ValidationError{Field: field, Reason: reason, Err: cause}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation error: " + e.Reason
	}
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Reason)
}

// Is reports ErrValidation in addition to the wrapped cause.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// DependencyNotMetError means a workflow was asked to run before its dependencies
// completed inside the freshness window. The run is deferred, not failed.
type DependencyNotMetError struct {
	WorkflowID string
	Missing    []string
}

func (e *DependencyNotMetError) Error() string {
	return fmt.Sprintf("workflow %s: dependencies not met: %s", e.WorkflowID, strings.Join(e.Missing, ", "))
}

func (e *DependencyNotMetError) Is(target error) bool {
	return target == ErrDependencyNotMet
}

// TimeoutError marks an attempt that overran its workflow timeout.
type TimeoutError struct {
	ExecutionID string
	Timeout     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("execution %s exceeded timeout of %s", e.ExecutionID, e.Timeout)
}

func (e *TimeoutError) Is(target error) bool {
	return target == ErrTimeout
}

// HandlerError wraps a failure raised by a workflow body or webhook handler, panics included.
type HandlerError struct {
	Cause error
	Panic interface{}
}

func (e *HandlerError) Error() string {
	if e.Panic != nil {
		return fmt.Sprintf("handler panicked: %v", e.Panic)
	}
	return fmt.Sprintf("handler failed: %v", e.Cause)
}

func (e *HandlerError) Is(target error) bool {
	return target == ErrHandler
}

func (e *HandlerError) Unwrap() error {
	return e.Cause
}

// AuthError rejects a request whose credentials did not verify.
type AuthError struct {
	Scheme string
	Reason string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth failed: %s", e.Scheme, e.Reason)
}

func (e *AuthError) Is(target error) bool {
	return target == ErrUnauthorized
}

// RateLimitError rejects a request over its sliding-window quota.
type RateLimitError struct {
	Key        string
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit of %d exceeded for %s", e.Limit, e.Key)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// ErrorKind classifies an error for execution records and metric labels.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrDependencyNotMet):
		return "dependency"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnauthorized):
		return "auth"
	case errors.Is(err, ErrRateLimited):
		return "rate_limit"
	default:
		return "handler"
	}
}
