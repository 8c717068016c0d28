// Package fault defines the kernel's error taxonomy: typed errors
// carrying a stable code, a classification (validation, business rule,
// transient, permanent, security sensitive), a retryability flag, and an
// HTTP-ish status for the excluded API layer to map directly.
package fault

import (
	"errors"
	"fmt"
)

// Class categorizes an error for retry and propagation decisions.
type Class string

const (
	// ClassValidation marks caller errors. Never retried.
	ClassValidation Class = "validation"
	// ClassBusinessRule marks domain invariant violations. Never retried.
	ClassBusinessRule Class = "business_rule"
	// ClassTransient marks infrastructure or upstream hiccups. Retried.
	ClassTransient Class = "transient"
	// ClassPermanent marks failures that will never succeed on retry.
	// Routed straight to the DLQ.
	ClassPermanent Class = "permanent"
	// ClassSecurity marks tenant-scope or authorization violations.
	// Always fatal to the request, never retried.
	ClassSecurity Class = "security_sensitive"
)

// Stable error codes raised by the kernel.
const (
	CodeStateTransitionInvalid = "WF_STATE_TRANSITION_INVALID"
	CodeJobCancelled           = "JOB_CANCELLED"
	CodeJobCancelConflict      = "JOB_CANCEL_CONFLICT"
	CodeDLQRequeueConflict     = "DLQ_REQUEUE_CONFLICT"
	CodeDLQDiscardConflict     = "DLQ_DISCARD_CONFLICT"
	CodeApprovalRequired       = "APPROVAL_REQUIRED"
	CodeIdempotencyConflict    = "IDEMPOTENCY_CONFLICT"
	CodeTenantMismatch         = "TENANT_MISMATCH"
	CodeResumeTokenInvalid     = "RESUME_TOKEN_INVALID"
	CodeResumeTokenUsed        = "RESUME_TOKEN_USED"
	CodeResumeTokenExpired     = "RESUME_TOKEN_EXPIRED"
	CodeRetriesExhausted       = "JOB_RETRIES_EXHAUSTED"
)

// Error is a typed kernel error.
type Error struct {
	// Code is the stable machine-readable error code.
	Code string `json:"code"`
	// Class drives retry and propagation behaviour.
	Class Class `json:"class"`
	// Retryable reports whether the operation may succeed if repeated.
	Retryable bool `json:"retryable"`
	// Status is the HTTP-ish status the API layer should map this to.
	Status int `json:"status"`
	// Message is a human-readable description.
	Message string `json:"message"`

	cause error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// WithCause returns a copy of the error wrapping the given cause.
func (e *Error) WithCause(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// New creates a typed Error.
func New(code string, class Class, status int, message string) *Error {
	return &Error{
		Code:      code,
		Class:     class,
		Retryable: class == ClassTransient,
		Status:    status,
		Message:   message,
	}
}

// Validation creates a caller-error fault (HTTP 400).
func Validation(code, message string) *Error {
	return New(code, ClassValidation, 400, message)
}

// BusinessRule creates a domain-invariant fault (HTTP 409).
func BusinessRule(code, message string) *Error {
	return New(code, ClassBusinessRule, 409, message)
}

// Transient creates a retryable infrastructure fault (HTTP 503).
func Transient(code, message string) *Error {
	return New(code, ClassTransient, 503, message)
}

// Permanent creates an unretryable execution fault (HTTP 422).
func Permanent(code, message string) *Error {
	return New(code, ClassPermanent, 422, message)
}

// Security creates a tenant-scope or authorization fault (HTTP 403).
func Security(code, message string) *Error {
	return New(code, ClassSecurity, 403, message)
}

// CodeOf returns the fault code carried by err, or empty string if err
// is not (and does not wrap) a fault.Error.
func CodeOf(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}

// IsCode reports whether err carries the given fault code.
func IsCode(err error, code string) bool {
	return CodeOf(err) == code
}

// ClassOf returns the classification of err, defaulting to transient for
// untyped errors (unknown failures are presumed retryable).
func ClassOf(err error) Class {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Class
	}
	return ClassTransient
}
