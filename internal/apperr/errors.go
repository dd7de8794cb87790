// Package apperr defines the service error taxonomy and its HTTP mapping.
//
// Repository and upstream failures are converted into these types at the
// service boundary so handlers never see raw driver or network errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// NotFoundError marks an absent entity. Surfaced as 404.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NotFound builds a NotFoundError for an entity and lookup key.
func NotFound(entity string, key any) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

// PreconditionError marks a request that cannot proceed in the current
// state (blocked account, missing token). Surfaced as 400.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string { return e.Reason }

// Precondition builds a PreconditionError.
func Precondition(format string, args ...any) *PreconditionError {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// UpstreamError marks a failed call to an external dependency (browser,
// graph API, LLM provider). The full cause is logged at the call site;
// the surfaced message is the redacted Op only. Surfaced as 500.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return e.Op
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Upstream wraps err as an UpstreamError for the named operation.
func Upstream(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// ValidationError marks an LLM response field that is missing or outside
// its allowed domain. Recorded per item; never aborts a batch.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Validation builds a ValidationError for a field.
func Validation(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// ParseError marks malformed structured output from the LLM. Recorded,
// never an unhandled crash.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "parse error: " + e.Reason }

// Parse builds a ParseError.
func Parse(format string, args ...any) *ParseError {
	return &ParseError{Reason: fmt.Sprintf(format, args...)}
}

// IsNotFound reports whether err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsPrecondition reports whether err is (or wraps) a PreconditionError.
func IsPrecondition(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsParse reports whether err is (or wraps) a ParseError.
func IsParse(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// HTTPStatus maps a taxonomy error to its response status code.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case IsNotFound(err):
		return http.StatusNotFound
	case IsPrecondition(err):
		return http.StatusBadRequest
	case IsValidation(err), IsParse(err):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// Detail returns the user-visible message for an error response. For
// upstream failures only the operation name is exposed; everything else
// stays in the logs.
func Detail(err error) string {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Op + " failed"
	}
	return err.Error()
}
