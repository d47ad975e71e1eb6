// Package cleanup provides the atomic cleanup engine for entwarden. A
// cleanup transaction removes a batch of ledger-tracked entities from the
// external registry with all-or-nothing semantics: every removal is
// verified against the registry, and any failure rolls the whole
// transaction back without touching the ledger.
package cleanup

import (
	"errors"
	"fmt"
)

// ErrorClass represents the classification of an error for retry and recovery logic.
type ErrorClass string

const (
	// ErrorClassTransient indicates a temporary failure that may succeed on retry.
	// Examples: network timeouts, registry temporarily unavailable.
	ErrorClassTransient ErrorClass = "transient"

	// ErrorClassConflict indicates an entity state conflict.
	// Examples: entity claimed by another transaction, concurrent re-creation.
	ErrorClassConflict ErrorClass = "conflict"

	// ErrorClassPermanent indicates a non-recoverable error.
	// Examples: entity never logged, policy denial, invalid request.
	ErrorClassPermanent ErrorClass = "permanent"
)

// LifecycleError represents a classified error with context.
type LifecycleError struct {
	// Class is the error classification for retry logic.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Entity is the entity ID that caused the error, if applicable.
	Entity string `json:"entity,omitempty"`

	// Operation is the operation being performed when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error that caused this error.
	Err error `json:"-"`

	// Details contains additional context-specific information.
	Details map[string]interface{} `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *LifecycleError) Error() string {
	if e.Entity != "" && e.Operation != "" {
		return fmt.Sprintf("[%s] %s (entity=%s, operation=%s): %s",
			e.Class, e.Message, e.Entity, e.Operation, e.unwrapMessage())
	}
	if e.Entity != "" {
		return fmt.Sprintf("[%s] %s (entity=%s): %s",
			e.Class, e.Message, e.Entity, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *LifecycleError) Unwrap() error {
	return e.Err
}

// unwrapMessage returns the error message from the underlying error chain.
func (e *LifecycleError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// Is implements error equality checking for errors.Is.
func (e *LifecycleError) Is(target error) bool {
	t, ok := target.(*LifecycleError)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

// NewTransientError creates a new transient error.
func NewTransientError(message string, err error) *LifecycleError {
	return &LifecycleError{
		Class:   ErrorClassTransient,
		Message: message,
		Err:     err,
	}
}

// NewConflictError creates a new conflict error.
func NewConflictError(message string, err error) *LifecycleError {
	return &LifecycleError{
		Class:   ErrorClassConflict,
		Message: message,
		Err:     err,
	}
}

// NewPermanentError creates a new permanent error.
func NewPermanentError(message string, err error) *LifecycleError {
	return &LifecycleError{
		Class:   ErrorClassPermanent,
		Message: message,
		Err:     err,
	}
}

// WithEntity adds entity context to an error.
func (e *LifecycleError) WithEntity(entityID string) *LifecycleError {
	e.Entity = entityID
	return e
}

// WithOperation adds operation context to an error.
func (e *LifecycleError) WithOperation(operation string) *LifecycleError {
	e.Operation = operation
	return e
}

// WithCode adds an error code to an error.
func (e *LifecycleError) WithCode(code string) *LifecycleError {
	e.Code = code
	return e
}

// WithDetail adds a detail field to the error context.
func (e *LifecycleError) WithDetail(key string, value interface{}) *LifecycleError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// IsTransient returns true if the error is classified as transient.
func IsTransient(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassTransient
	}
	return false
}

// IsConflict returns true if the error is classified as a conflict.
func IsConflict(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassConflict
	}
	return false
}

// IsPermanent returns true if the error is classified as permanent.
func IsPermanent(err error) bool {
	var e *LifecycleError
	if errors.As(err, &e) {
		return e.Class == ErrorClassPermanent
	}
	return false
}

// IsRetryable returns true if the error can be retried.
// Transient and conflict errors are retryable.
func IsRetryable(err error) bool {
	return IsTransient(err) || IsConflict(err)
}

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotTracked    = "NOT_TRACKED"
	ErrCodeInFlight      = "IN_FLIGHT"
	ErrCodeTimeout       = "TIMEOUT"
	ErrCodeTransport     = "TRANSPORT_FAILED"
	ErrCodeRemovalFailed = "REMOVAL_FAILED"
	ErrCodeStillPresent  = "STILL_PRESENT"
	ErrCodeInternal      = "INTERNAL_ERROR"
	ErrCodePolicyDenied  = "POLICY_DENIED"
)
