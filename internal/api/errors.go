package api

import (
	"errors"
	"net/http"

	"github.com/stusseligmini/FionaSparx-sub000/internal/models"
)

// APIError represents a structured API error.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return e.Message
}

// Common API error codes.
const (
	ErrCodeInvalidJSON    = "INVALID_JSON"
	ErrCodeValidation     = "VALIDATION_ERROR"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeAlreadyExists  = "ALREADY_EXISTS"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeDependency     = "DEPENDENCY_NOT_MET"
	ErrCodeHalted         = "ORCHESTRATOR_HALTED"
	ErrCodeNoData         = "NO_DATA"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeExecutionError = "EXECUTION_ERROR"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// Predefined API errors.
var (
	ErrInvalidJSON = &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeInvalidJSON,
		Message:    "Invalid JSON body",
	}
	ErrWorkflowNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Workflow not found",
	}
	ErrExecutionNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "Execution not found",
	}
	ErrABTestNotFound = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNotFound,
		Message:    "A/B test not found",
	}
	ErrWorkflowExists = &APIError{
		HTTPStatus: http.StatusConflict,
		Code:       ErrCodeAlreadyExists,
		Message:    "Workflow already exists",
	}
	ErrNoAnalyticsData = &APIError{
		HTTPStatus: http.StatusNotFound,
		Code:       ErrCodeNoData,
		Message:    "No engagement data in the requested window",
	}
	ErrUnauthorized = &APIError{
		HTTPStatus: http.StatusUnauthorized,
		Code:       ErrCodeUnauthorized,
		Message:    "API token required",
	}
	ErrRateLimited = &APIError{
		HTTPStatus: http.StatusTooManyRequests,
		Code:       ErrCodeRateLimited,
		Message:    "Too many requests",
	}
	ErrInternalError = &APIError{
		HTTPStatus: http.StatusInternalServerError,
		Code:       ErrCodeInternalError,
		Message:    "Internal server error",
	}
)

// NewValidationError creates a validation error with a custom message.
func NewValidationError(message string) *APIError {
	return &APIError{
		HTTPStatus: http.StatusBadRequest,
		Code:       ErrCodeValidation,
		Message:    message,
	}
}

// MapDomainError maps domain/model errors to API errors.
func MapDomainError(err error) *APIError {
	if err == nil {
		return nil
	}

	// Not-found sentinels are checked first: an unknown workflow passed to Execute
	// arrives wrapped in a ValidationError.
	switch {
	case errors.Is(err, models.ErrWorkflowNotFound):
		return ErrWorkflowNotFound
	case errors.Is(err, models.ErrExecutionNotFound):
		return ErrExecutionNotFound
	case errors.Is(err, models.ErrABTestNotFound):
		return ErrABTestNotFound
	case errors.Is(err, models.ErrWorkflowExists):
		return ErrWorkflowExists
	case errors.Is(err, models.ErrNoAnalyticsData):
		return ErrNoAnalyticsData
	case errors.Is(err, models.ErrInvalidTransition):
		return &APIError{HTTPStatus: http.StatusConflict, Code: ErrCodeConflict, Message: err.Error()}
	case errors.Is(err, models.ErrDependencyNotMet):
		return &APIError{HTTPStatus: http.StatusConflict, Code: ErrCodeDependency, Message: err.Error()}
	case errors.Is(err, models.ErrOrchestratorHalted):
		return &APIError{HTTPStatus: http.StatusServiceUnavailable, Code: ErrCodeHalted, Message: err.Error()}
	case errors.Is(err, models.ErrValidation):
		return NewValidationError(err.Error())
	case errors.Is(err, models.ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, models.ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, models.ErrHandler), errors.Is(err, models.ErrTimeout):
		return &APIError{HTTPStatus: http.StatusInternalServerError, Code: ErrCodeExecutionError, Message: err.Error()}
	default:
		return &APIError{
			HTTPStatus: http.StatusInternalServerError,
			Code:       ErrCodeInternalError,
			Message:    "An unexpected error occurred",
		}
	}
}

// WriteAPIError writes an API error response.
func (h *Handler) WriteAPIError(w http.ResponseWriter, err *APIError) {
	writeJSON(w, err.HTTPStatus, Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    err.Code,
			Message: err.Message,
		},
	})
}

// HandleError maps a domain error to an API error and writes the response.
// Returns true if an error was handled, false if err was nil.
func (h *Handler) HandleError(w http.ResponseWriter, err error, operation string) bool {
	if err == nil {
		return false
	}

	apiErr := MapDomainError(err)
	if apiErr.Code == ErrCodeInternalError {
		h.logger.Error().Err(err).Str("operation", operation).Msg("Request failed")
	}
	h.WriteAPIError(w, apiErr)
	return true
}
