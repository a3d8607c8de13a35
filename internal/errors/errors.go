// Package errors provides structured error types for orchard.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for orchard.
const (
	// Caller errors
	CodeValidation Code = "VALIDATION"
	CodeNotFound   Code = "NOT_FOUND"

	// State machine errors
	CodeIllegalTransition Code = "ILLEGAL_TRANSITION"
	CodeWrongAgent        Code = "WRONG_AGENT"
	CodeDependencyCycle   Code = "DEPENDENCY_CYCLE"
	CodeGateUnsatisfied   Code = "GATE_UNSATISFIED"

	// Concurrency errors
	CodeStaleVersion Code = "STALE_VERSION"

	// Authority errors
	CodePermissionDenied Code = "PERMISSION_DENIED"

	// Infrastructure errors
	CodeTransport Code = "TRANSPORT"
	CodeFatal     Code = "FATAL"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryForbidden
	CategoryInternal
	CategoryUnavailable
)

// codeCategories maps error codes to their categories.
var codeCategories = map[Code]Category{
	CodeValidation:        CategoryBadRequest,
	CodeNotFound:          CategoryNotFound,
	CodeIllegalTransition: CategoryConflict,
	CodeWrongAgent:        CategoryConflict,
	CodeDependencyCycle:   CategoryBadRequest,
	CodeGateUnsatisfied:   CategoryConflict,
	CodeStaleVersion:      CategoryConflict,
	CodePermissionDenied:  CategoryForbidden,
	CodeTransport:         CategoryUnavailable,
	CodeFatal:             CategoryInternal,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	case CategoryForbidden:
		return 403
	case CategoryUnavailable:
		return 503
	default:
		return 500
	}
}

// Error is the structured error type for orchard.
type Error struct {
	Code    Code           `json:"code"`
	What    string         `json:"what"`
	Why     string         `json:"why,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Cause   error          `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Category returns the error category for HTTP status mapping.
func (e *Error) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// MarshalJSON implements json.Marshaler.
func (e *Error) MarshalJSON() ([]byte, error) {
	type alias Error
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is an Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		What:    e.What,
		Why:     e.Why,
		Details: e.Details,
		Cause:   err,
	}
}

// HasCode reports whether err carries the given orchard error code.
func HasCode(err error, code Code) bool {
	var oe *Error
	if !stderrors.As(err, &oe) {
		return false
	}
	return oe.Code == code
}

// CodeOf returns the orchard error code carried by err, or "" if err is
// not an orchard error.
func CodeOf(err error) Code {
	var oe *Error
	if !stderrors.As(err, &oe) {
		return ""
	}
	return oe.Code
}

// --- Error constructors ---

// ErrValidation returns an error for invalid caller input.
func ErrValidation(field, why string) *Error {
	return &Error{
		Code: CodeValidation,
		What: fmt.Sprintf("invalid %s", field),
		Why:  why,
	}
}

// ErrNotFound returns an error for a missing entity.
func ErrNotFound(entity, id string) *Error {
	return &Error{
		Code:    CodeNotFound,
		What:    fmt.Sprintf("%s not found", entity),
		Why:     fmt.Sprintf("no %s with id %s", entity, id),
		Details: map[string]any{"entity": entity, "id": id},
	}
}

// ErrIllegalTransition returns an error for a rejected state transition.
func ErrIllegalTransition(entity, id, from, to string) *Error {
	return &Error{
		Code:    CodeIllegalTransition,
		What:    fmt.Sprintf("illegal %s transition", entity),
		Why:     fmt.Sprintf("%s %s cannot move from %s to %s", entity, id, from, to),
		Details: map[string]any{"entity": entity, "id": id, "from": from, "to": to},
	}
}

// ErrWrongAgent returns an error when an agent claims a task held by another.
func ErrWrongAgent(taskID, holder, claimant string) *Error {
	return &Error{
		Code:    CodeWrongAgent,
		What:    "task is held by a different agent",
		Why:     fmt.Sprintf("task %s is assigned to %q, not %q", taskID, holder, claimant),
		Details: map[string]any{"task_id": taskID, "holder": holder, "claimant": claimant},
	}
}

// ErrDependencyCycle returns an error for a circular task dependency.
func ErrDependencyCycle(taskIDs []string) *Error {
	return &Error{
		Code:    CodeDependencyCycle,
		What:    "task dependencies form a cycle",
		Why:     fmt.Sprintf("cycle through %s", strings.Join(taskIDs, " -> ")),
		Details: map[string]any{"task_ids": taskIDs},
	}
}

// ErrGateUnsatisfied returns an error when a phase gate has unmet criteria.
func ErrGateUnsatisfied(ticketID, phaseID string, unmet []string) *Error {
	return &Error{
		Code:    CodeGateUnsatisfied,
		What:    "phase gate not satisfied",
		Why:     fmt.Sprintf("ticket %s phase %s has %d unmet criteria", ticketID, phaseID, len(unmet)),
		Details: map[string]any{"ticket_id": ticketID, "phase_id": phaseID, "unmet": unmet},
	}
}

// ErrStaleVersion returns a retryable optimistic-concurrency failure.
func ErrStaleVersion(entity, id string, expected int64) *Error {
	return &Error{
		Code:    CodeStaleVersion,
		What:    fmt.Sprintf("%s changed concurrently", entity),
		Why:     fmt.Sprintf("%s %s is no longer at version %d", entity, id, expected),
		Details: map[string]any{"entity": entity, "id": id, "expected_version": expected},
	}
}

// ErrPermissionDenied returns an error for insufficient authority.
func ErrPermissionDenied(required, given int) *Error {
	return &Error{
		Code:    CodePermissionDenied,
		What:    "insufficient authority",
		Why:     fmt.Sprintf("operation requires authority level %d, caller has %d", required, given),
		Details: map[string]any{"required": required, "given": given},
	}
}

// ErrTransport returns a transient infrastructure error.
func ErrTransport(what string, cause error) *Error {
	return &Error{
		Code:  CodeTransport,
		What:  what,
		Cause: cause,
	}
}

// ErrFatal returns an error for a violated engine invariant.
func ErrFatal(what string, cause error) *Error {
	return &Error{
		Code:  CodeFatal,
		What:  what,
		Cause: cause,
	}
}
