// Package deployment defines the deployment parameters, the lifecycle event protocol
// and the error taxonomy shared by the submission controller and the lifecycle trigger
package deployment

import (
	"errors"
	"fmt"
)

// Code is a machine-readable error classification
type Code string

// Error codes
const (
	CodeInvalidInput     Code = "InvalidInput"
	CodeSubmissionFailed Code = "SubmissionFailed"
	CodePermissionDenied Code = "PermissionDenied"
	CodeTimeout          Code = "Timeout"

	// CodePreconditionFailed marks a resource that was not ready when the trigger fired
	CodePreconditionFailed Code = "PreconditionFailed"
)

// Phase attributes a failure to the part of the deployment that produced it
type Phase string

// Failure phases
const (
	PhaseSubmission   Phase = "job submission"
	PhaseProvisioning Phase = "resource provisioning"
)

// Error represents a structured deployment error with context
type Error struct {
	Code    Code   // Machine-readable error code
	Phase   Phase  // Where in the deployment the failure happened
	Message string // Human-readable message
	Err     error  // Underlying cause, if any
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s failed: %s", e.Phase, e.Code)
	if detail := e.Detail(); detail != "" {
		msg += ": " + detail
	}
	return msg
}

// Detail returns the message and cause without the phase and code prefix
func (e *Error) Detail() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so errors.Is(err, ErrTimeout) works for any phase
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if t.Code != e.Code {
		return false
	}
	return t.Phase == "" || t.Phase == e.Phase
}

// Sentinels for errors.Is matching
var (
	ErrInvalidInput       = &Error{Code: CodeInvalidInput}
	ErrSubmissionFailed   = &Error{Code: CodeSubmissionFailed}
	ErrPermissionDenied   = &Error{Code: CodePermissionDenied}
	ErrTimeout            = &Error{Code: CodeTimeout}
	ErrPreconditionFailed = &Error{Code: CodePreconditionFailed}
)

// NewError creates a structured error
func NewError(code Code, phase Phase, message string, cause error) *Error {
	return &Error{Code: code, Phase: phase, Message: message, Err: cause}
}

// InvalidInput reports malformed or missing input
func InvalidInput(phase Phase, format string, args ...interface{}) *Error {
	return NewError(CodeInvalidInput, phase, fmt.Sprintf(format, args...), nil)
}

// SubmissionFailed wraps a job platform rejection
func SubmissionFailed(cause error) *Error {
	return NewError(CodeSubmissionFailed, PhaseSubmission, "job queue rejected the submission", cause)
}

// PermissionDenied reports a missing grant
func PermissionDenied(phase Phase, message string, cause error) *Error {
	return NewError(CodePermissionDenied, phase, message, cause)
}

// Timeout reports an exceeded invocation window
func Timeout(phase Phase, message string, cause error) *Error {
	return NewError(CodeTimeout, phase, message, cause)
}

// PreconditionFailed reports a provisioning step whose result was not ready
func PreconditionFailed(name string, cause error) *Error {
	return NewError(CodePreconditionFailed, PhaseProvisioning, fmt.Sprintf("precondition %q not met", name), cause)
}

// AsError extracts a *Error from an error chain
func AsError(err error) (*Error, bool) {
	var depErr *Error
	if errors.As(err, &depErr) {
		return depErr, true
	}
	return nil, false
}

// PhaseOf returns the phase an error is attributed to. Unclassified errors are
// attributed to resource provisioning.
func PhaseOf(err error) Phase {
	if depErr, ok := AsError(err); ok && depErr.Phase != "" {
		return depErr.Phase
	}
	return PhaseProvisioning
}
