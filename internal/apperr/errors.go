// Package apperr defines the error taxonomy shared by the tenant lifecycle,
// token, guard and authorization layers, and the mapping of those errors to
// HTTP status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Resolution failures. All of them surface as 401 at the guard boundary.
var (
	ErrNoToken               = errors.New("no bearer token")
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenSignatureInvalid = errors.New("token signature is invalid")
	ErrWrongPrincipalKind    = errors.New("token was issued for another principal kind")
	ErrTenantNotFound        = errors.New("tenant not found")
	ErrTenantInactive        = errors.New("tenant is not active")
	ErrPrincipalNotFound     = errors.New("principal not found")
	ErrInvalidCredentials    = errors.New("invalid credentials")
)

var (
	ErrForbidden         = errors.New("forbidden")
	ErrNotFound          = errors.New("not found")
	ErrConflict          = errors.New("conflict")
	ErrInvalidTransition = errors.New("invalid tenant status transition")
	ErrNotBound          = errors.New("no tenant database bound to context")
)

// StepError reports a failed provisioning step.
type StepError struct {
	Step  string
	Cause error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %q failed: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error { return e.Cause }

// StepFailed wraps cause as a failure of the named provisioning step.
func StepFailed(step string, cause error) error {
	return &StepError{Step: step, Cause: cause}
}

// DatabaseError reports a failed database-level operation (create, drop, open).
type DatabaseError struct {
	Op    string
	Cause error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database operation %q failed: %v", e.Op, e.Cause)
}

func (e *DatabaseError) Unwrap() error { return e.Cause }

// DatabaseOperationFailed wraps cause as a failure of the database operation op.
func DatabaseOperationFailed(op string, cause error) error {
	return &DatabaseError{Op: op, Cause: cause}
}

// ValidationError carries per-field input validation messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// ValidationFailed builds a ValidationError from field/message pairs.
func ValidationFailed(fields map[string]string) error {
	return &ValidationError{Fields: fields}
}

// IsUnauthenticated reports whether err is a principal resolution failure.
func IsUnauthenticated(err error) bool {
	for _, target := range []error{
		ErrNoToken, ErrTokenMalformed, ErrTokenExpired, ErrTokenSignatureInvalid,
		ErrWrongPrincipalKind, ErrTenantNotFound, ErrTenantInactive,
		ErrPrincipalNotFound, ErrInvalidCredentials,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// StatusCode maps err to the HTTP status of the response envelope. Step and
// database failures are infrastructure errors whatever their cause.
func StatusCode(err error) int {
	var (
		validation *ValidationError
		step       *StepError
		database   *DatabaseError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &step), errors.As(err, &database):
		return http.StatusInternalServerError
	case IsUnauthenticated(err):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict), errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
