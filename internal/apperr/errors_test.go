package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestStatusCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"expired token", fmt.Errorf("validate: %w", ErrTokenExpired), http.StatusUnauthorized},
		{"inactive tenant", ErrTenantInactive, http.StatusUnauthorized},
		{"missing principal", ErrPrincipalNotFound, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"not found", fmt.Errorf("contact 7: %w", ErrNotFound), http.StatusNotFound},
		{"validation", ValidationFailed(map[string]string{"name": "required"}), http.StatusUnprocessableEntity},
		{"conflict", ErrConflict, http.StatusConflict},
		{"database", DatabaseOperationFailed("create", errors.New("boom")), http.StatusInternalServerError},
		{"step wrapping not found", StepFailed("create_admin", fmt.Errorf("%w: role", ErrNotFound)), http.StatusInternalServerError},
		{"step wrapping conflict", StepFailed("seed_data", ErrConflict), http.StatusInternalServerError},
		{"step wrapping validation", StepFailed("seed_data", ValidationFailed(map[string]string{"email": "is required"})), http.StatusInternalServerError},
		{"database wrapping not found", DatabaseOperationFailed("connect", ErrNotFound), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, StatusCode(tc.err))
		})
	}
}

func TestTokenErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrTokenExpired, ErrTokenMalformed))
	assert.False(t, errors.Is(ErrTokenSignatureInvalid, ErrTokenExpired))
}

func TestStepErrorUnwraps(t *testing.T) {
	cause := DatabaseOperationFailed("create", context.DeadlineExceeded)
	err := StepFailed("create_database", cause)

	var step *StepError
	assert.True(t, errors.As(err, &step))
	assert.Equal(t, "create_database", step.Step)

	var db *DatabaseError
	assert.True(t, errors.As(err, &db))
	assert.True(t, IsTransient(err))
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("duplicate key")))
	assert.True(t, IsTransient(Transient(errors.New("try later"))))
	assert.False(t, IsTransient(Permanent(context.DeadlineExceeded)))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "08006"}))
	assert.True(t, IsTransient(&pgconn.PgError{Code: "53300"}))
	assert.False(t, IsTransient(&pgconn.PgError{Code: "42P07"}))
}

func TestValidationErrorMessageIsSorted(t *testing.T) {
	err := ValidationFailed(map[string]string{"name": "required", "admin_email": "email"})
	assert.Equal(t, "validation failed: admin_email: email; name: required", err.Error())
}
