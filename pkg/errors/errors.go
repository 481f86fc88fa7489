// Package errors provides production-grade error handling for CleanFlow.
// It implements structured errors with codes, context, and stack traces.
package errors

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// Error codes for programmatic handling
type Code string

const (
	// Session errors (1xx)
	CodeInvalidStep       Code = "E101"
	CodeInvalidTransition Code = "E102"
	CodeNothingToUndo     Code = "E103"
	CodeNothingToRedo     Code = "E104"
	CodeSessionNotFound   Code = "E105"
	CodeSessionCanceled   Code = "E106"

	// Execution errors (2xx)
	CodeStepExecution Code = "E201"
	CodeColumnMissing Code = "E202"
	CodeTypeMismatch  Code = "E203"

	// Store errors (3xx)
	CodeStoreUnavailable Code = "E301"
	CodeSnapshotMissing  Code = "E302"
	CodeArtifactConflict Code = "E303"

	// Model registry errors (4xx)
	CodeQuotaExceeded  Code = "E401"
	CodeModelConstruct Code = "E402"
	CodeHandleReleased Code = "E403"

	// Ingest errors (5xx)
	CodeFileNotFound  Code = "E501"
	CodeFileTooLarge  Code = "E502"
	CodeFormatUnknown Code = "E503"
	CodeDatasetEmpty  Code = "E504"

	// Unknown
	CodeUnknown Code = "E999"
)

// Error is the base error type for all CleanFlow errors.
type Error struct {
	Code       Code
	Message    string
	Cause      error
	Context    map[string]interface{}
	StackTrace []Frame
}

// Frame represents a stack frame.
type Frame struct {
	Function string
	File     string
	Line     int
}

// Error implements the error interface.
func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("[%s] %s", e.Code, e.Message))

	if len(e.Context) > 0 {
		sb.WriteString(" (")
		first := true
		for k, v := range e.Context {
			if !first {
				sb.WriteString(", ")
			}
			sb.WriteString(fmt.Sprintf("%s=%v", k, v))
			first = false
		}
		sb.WriteString(")")
	}

	if e.Cause != nil {
		sb.WriteString(": ")
		sb.WriteString(e.Cause.Error())
	}

	return sb.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches a target error.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// New creates a new Error.
func New(code Code, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StackTrace: captureStack(2),
	}
}

// Wrap wraps an existing error with additional context.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       code,
		Message:    message,
		Cause:      err,
		StackTrace: captureStack(2),
	}
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, code Code, format string, args ...interface{}) *Error {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// captureStack captures the current stack trace.
func captureStack(skip int) []Frame {
	var frames []Frame
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)
	pcs = pcs[:n]

	cf := runtime.CallersFrames(pcs)
	for {
		frame, more := cf.Next()
		frames = append(frames, Frame{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more || len(frames) >= 10 {
			break
		}
	}
	return frames
}

// FormatStack returns a formatted stack trace.
func (e *Error) FormatStack() string {
	var sb strings.Builder
	for _, f := range e.StackTrace {
		sb.WriteString(fmt.Sprintf("  at %s\n    %s:%d\n", f.Function, f.File, f.Line))
	}
	return sb.String()
}

// --- Convenience constructors ---

// InvalidStep creates a step validation error.
func InvalidStep(action, reason string) *Error {
	return New(CodeInvalidStep, "invalid pipeline step").
		WithContext("action", action).
		WithContext("reason", reason)
}

// InvalidTransition creates a state machine misuse error.
func InvalidTransition(from, op string) *Error {
	return New(CodeInvalidTransition, "operation not valid in current state").
		WithContext("state", from).
		WithContext("operation", op)
}

// NothingToUndo creates an empty-history undo error.
func NothingToUndo(sessionID string) *Error {
	return New(CodeNothingToUndo, "no active history entry to undo").
		WithContext("session", sessionID)
}

// QuotaExceeded creates a per-tenant model quota error.
func QuotaExceeded(tenant string, limit int) *Error {
	return New(CodeQuotaExceeded, "tenant model quota exceeded").
		WithContext("tenant", tenant).
		WithContext("limit", limit)
}

// StepExecution creates a session-fatal step failure error.
func StepExecution(action string, position int, err error) *Error {
	return Wrap(err, CodeStepExecution, "step execution failed").
		WithContext("action", action).
		WithContext("position", position)
}

// StoreUnavailable creates a store reachability error.
func StoreUnavailable(backend string, err error) *Error {
	return Wrap(err, CodeStoreUnavailable, "store unavailable").
		WithContext("backend", backend)
}

// ColumnMissing creates a missing column error.
func ColumnMissing(column string, available []string) *Error {
	return New(CodeColumnMissing, "column not found in dataset").
		WithContext("column", column).
		WithContext("available", available)
}

// --- Error checking utilities ---

// IsCode checks if an error has a specific code.
func IsCode(err error, code Code) bool {
	var cfErr *Error
	if errors.As(err, &cfErr) {
		return cfErr.Code == code
	}
	return false
}

// GetCode extracts the error code from an error.
func GetCode(err error) Code {
	var cfErr *Error
	if errors.As(err, &cfErr) {
		return cfErr.Code
	}
	return CodeUnknown
}

// IsSessionFatal returns true if the error freezes the session.
// Only failed step execution is fatal; everything else leaves the
// session usable.
func IsSessionFatal(err error) bool {
	return GetCode(err) == CodeStepExecution
}

// IsRecoverable returns true if the caller can retry or correct the request.
func IsRecoverable(err error) bool {
	switch GetCode(err) {
	case CodeInvalidStep, CodeInvalidTransition, CodeNothingToUndo,
		CodeNothingToRedo, CodeQuotaExceeded, CodeStoreUnavailable:
		return true
	default:
		return false
	}
}

// MultiError collects multiple errors.
type MultiError struct {
	Errors []error
}

// Error implements the error interface.
func (m *MultiError) Error() string {
	if len(m.Errors) == 0 {
		return "no errors"
	}
	if len(m.Errors) == 1 {
		return m.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d errors occurred:\n", len(m.Errors)))
	for i, err := range m.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (m *MultiError) Add(err error) {
	if err != nil {
		m.Errors = append(m.Errors, err)
	}
}

// HasErrors returns true if any errors were collected.
func (m *MultiError) HasErrors() bool {
	return len(m.Errors) > 0
}

// Combined returns nil if no errors, the single error if one, or the MultiError.
func (m *MultiError) Combined() error {
	switch len(m.Errors) {
	case 0:
		return nil
	case 1:
		return m.Errors[0]
	default:
		return m
	}
}
