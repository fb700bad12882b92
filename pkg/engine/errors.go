package engine

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error.
type ErrorClass string

const (
	// ErrorClassPermanent indicates a configuration problem in the layer
	// definition. Rebuilding without changing the inputs fails again.
	ErrorClassPermanent ErrorClass = "permanent"

	// ErrorClassConflict indicates that two items claim the same resource:
	// a path provided twice, or an RPM named by several actions.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassInternal indicates a broken invariant inside an item or the
	// engine itself.
	ErrorClassInternal ErrorClass = "internal"

	// ErrorClassTransient indicates a failure of the environment (a command
	// that could not run, an I/O error) rather than of the layer definition.
	ErrorClassTransient ErrorClass = "transient"
)

// EngineError represents a classified error with context.
// nolint:revive // EngineError is intentionally named to distinguish from standard errors
type EngineError struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource is the image path or target that caused the error.
	Resource string `json:"resource,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	switch {
	case e.Resource != "" && e.Operation != "":
		msg += fmt.Sprintf(" (resource=%s, operation=%s)", e.Resource, e.Operation)
	case e.Resource != "":
		msg += fmt.Sprintf(" (resource=%s)", e.Resource)
	case e.Operation != "":
		msg += fmt.Sprintf(" (operation=%s)", e.Operation)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error equality checking for errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error.
func NewInternalError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassInternal,
		Message: message,
		Err:     err,
		Code:    ErrCodeInternal,
	}
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *EngineError {
	return &EngineError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// WithResource adds resource context to an error.
func (e *EngineError) WithResource(resource string) *EngineError {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *EngineError) WithOperation(operation string) *EngineError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *EngineError) WithCode(code string) *EngineError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func classOf(err error) (ErrorClass, bool) {
	var e *EngineError
	if errors.As(err, &e) {
		return e.Class, true
	}
	return "", false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassPermanent
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassConflict
}

// IsInternal returns true if the error is classified as internal.
func IsInternal(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassInternal
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	class, ok := classOf(err)
	return ok && class == ErrorClassTransient
}

// IsConfigurationError returns true for errors caused by the layer
// definition itself, which are reported before the subvolume is touched.
func IsConfigurationError(err error) bool {
	return IsPermanent(err) || IsConflict(err)
}

// HasCode reports whether any EngineError in the chain carries code.
func HasCode(err error, code string) bool {
	for err != nil {
		var e *EngineError
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// Common error codes.
const (
	ErrCodeValidation           = "VALIDATION_ERROR"
	ErrCodeDuplicatePath        = "DUPLICATE_PATH"
	ErrCodeDuplicateProvide     = "DUPLICATE_PROVIDE"
	ErrCodeUnmatchedRequirement = "UNMATCHED_REQUIREMENT"
	ErrCodeProtectedPath        = "PROTECTED_PATH"
	ErrCodeRpmConflict          = "RPM_CONFLICT"
	ErrCodeCycle                = "CYCLE"
	ErrCodeMakeSubvol           = "MAKE_SUBVOL"
	ErrCodeBuildFailed          = "BUILD_FAILED"
	ErrCodePolicyViolation      = "POLICY_VIOLATION"
	ErrCodeNotFound             = "NOT_FOUND"
	ErrCodeInternal             = "INTERNAL_ERROR"
)
