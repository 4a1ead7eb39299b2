package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"crm-service/internal/apperr"
	"crm-service/internal/guard"
	"crm-service/internal/model"
	"crm-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type guardFunc func(ctx context.Context, r *http.Request) (*guard.Resolution, error)

func (f guardFunc) Authenticate(ctx context.Context, r *http.Request) (*guard.Resolution, error) {
	return f(ctx, r)
}

type ctxKey struct{}

func serve(t *testing.T, g guard.Guard, h echo.HandlerFunc) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	e := echo.New()
	e.HTTPErrorHandler = ErrorHandler()
	e.GET("/", h, RequireGuard(g))

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return rec, body
}

func TestRequireGuardStoresPrincipalAndContext(t *testing.T) {
	g := guardFunc(func(ctx context.Context, _ *http.Request) (*guard.Resolution, error) {
		return &guard.Resolution{
			Kind:    jwtutil.KindTenant,
			User:    &model.User{ID: 7},
			Context: context.WithValue(ctx, ctxKey{}, "bound"),
		}, nil
	})

	rec, body := serve(t, g, func(c echo.Context) error {
		res := Principal(c)
		require.NotNil(t, res)
		assert.Equal(t, uint(7), res.ID())
		assert.Equal(t, "bound", c.Request().Context().Value(ctxKey{}))
		return OK(c, http.StatusOK, "", nil)
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
}

func TestRequireGuardRejectsWith401(t *testing.T) {
	cases := []struct {
		err     error
		errType string
	}{
		{apperr.ErrNoToken, "missing_token"},
		{fmt.Errorf("validate: %w", apperr.ErrTokenExpired), "token_expired"},
		{apperr.ErrTokenSignatureInvalid, "invalid_signature"},
		{fmt.Errorf("%w: suspended", apperr.ErrTenantInactive), "tenant_inactive"},
		{apperr.ErrTenantNotFound, "unauthenticated"},
		{apperr.ErrPrincipalNotFound, "unauthenticated"},
	}
	for _, tc := range cases {
		t.Run(tc.errType, func(t *testing.T) {
			g := guardFunc(func(context.Context, *http.Request) (*guard.Resolution, error) {
				return nil, tc.err
			})
			rec, body := serve(t, g, func(c echo.Context) error {
				t.Fatal("handler must not run")
				return nil
			})
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, body.Success)
			assert.Equal(t, tc.errType, body.Error)
		})
	}
}

func TestRequireGuardInfrastructureFailureIs500(t *testing.T) {
	g := guardFunc(func(context.Context, *http.Request) (*guard.Resolution, error) {
		return nil, apperr.DatabaseOperationFailed("open", errors.New("connection refused"))
	})
	rec, body := serve(t, g, func(c echo.Context) error { return nil })

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error.", body.Message)
	assert.NotContains(t, rec.Body.String(), "connection refused")
}

func TestRequirePermissionWithoutPrincipal(t *testing.T) {
	e := echo.New()
	e.GET("/", func(c echo.Context) error { return nil }, RequirePermission(nil, "contacts.view"))
	e.GET("/owners", func(c echo.Context) error { return nil }, RequireRole(nil, "super_admin"))

	for _, path := range []string{"/", "/owners"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestRender(t *testing.T) {
	status, body := Render(apperr.ValidationFailed(map[string]string{"name": "is required"}))
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "is required", body.Errors["name"])

	status, _ = Render(fmt.Errorf("contact 9: %w", apperr.ErrNotFound))
	assert.Equal(t, http.StatusNotFound, status)

	status, body = Render(echo.NewHTTPError(http.StatusBadRequest, "bad body"))
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad body", body.Message)

	status, _ = Render(apperr.ErrForbidden)
	assert.Equal(t, http.StatusForbidden, status)

	stepErr := apperr.StepFailed("create_admin", apperr.ValidationFailed(map[string]string{"email": "is required"}))
	status, body = Render(stepErr)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "Internal server error.", body.Message)
	assert.Empty(t, body.Errors)

	status, _ = Render(apperr.StepFailed("create_database", fmt.Errorf("%w: tenant", apperr.ErrConflict)))
	assert.Equal(t, http.StatusInternalServerError, status)
}

func TestValidator(t *testing.T) {
	type request struct {
		Name         string `json:"name" validate:"required,max=5"`
		Email        string `json:"email" validate:"required,email"`
		Password     string `json:"password" validate:"required,min=8"`
		Confirmation string `json:"password_confirmation" validate:"eqfield=Password"`
		Status       string `json:"status" validate:"omitempty,oneof=lead active"`
	}
	v := NewValidator()

	require.NoError(t, v.Validate(&request{
		Name: "acme", Email: "a@acme.com", Password: "secret123", Confirmation: "secret123",
	}))

	err := v.Validate(&request{Name: "too long", Email: "nope", Password: "short", Confirmation: "x", Status: "won"})
	var validation *apperr.ValidationError
	require.True(t, errors.As(err, &validation))
	assert.Equal(t, "may not be greater than 5 characters", validation.Fields["name"])
	assert.Equal(t, "must be a valid email address", validation.Fields["email"])
	assert.Equal(t, "must be at least 8 characters", validation.Fields["password"])
	assert.Equal(t, "confirmation does not match", validation.Fields["password_confirmation"])
	assert.Equal(t, "must be one of: lead, active", validation.Fields["status"])
}

func TestRequestIDMiddleware(t *testing.T) {
	e := echo.New()
	e.Use(RequestIDMiddleware)
	e.GET("/", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(RequestIDKey).(string))
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get(RequestIDKey))
	assert.Equal(t, rec.Header().Get(RequestIDKey), rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDKey, "abc")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDKey))
}
