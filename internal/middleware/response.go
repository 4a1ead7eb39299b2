package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"crm-service/internal/apperr"
	"crm-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Response is the envelope of every API response
type Response struct {
	Success bool              `json:"success"`
	Message string            `json:"message,omitempty"`
	Data    interface{}       `json:"data,omitempty"`
	Error   string            `json:"error,omitempty"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// OK writes a successful envelope
func OK(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// Fail writes the failure envelope for err. Infrastructure failures are
// logged and reported without detail.
func Fail(c echo.Context, err error) error {
	status, body := Render(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c).Error("Request failed", zap.Error(err))
	}
	return c.JSON(status, body)
}

// Render maps err to a status code and envelope
func Render(err error) (int, Response) {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg := http.StatusText(he.Code)
		if s, ok := he.Message.(string); ok {
			msg = s
		}
		return he.Code, Response{Message: msg}
	}

	status := apperr.StatusCode(err)
	var validation *apperr.ValidationError
	if status == http.StatusUnprocessableEntity && errors.As(err, &validation) {
		return status, Response{
			Message: "The given data was invalid.",
			Errors:  validation.Fields,
		}
	}

	switch status {
	case http.StatusUnauthorized:
		return status, Response{Message: unauthenticatedMessage(err), Error: AuthErrorType(err)}
	case http.StatusForbidden:
		return status, Response{Message: "This action is unauthorized.", Error: "forbidden"}
	case http.StatusNotFound:
		return status, Response{Message: "Resource not found."}
	case http.StatusConflict:
		return status, Response{Message: err.Error()}
	default:
		return http.StatusInternalServerError, Response{Message: "Internal server error."}
	}
}

// AuthErrorType classifies a resolution failure for clients and metrics.
// Unknown tenants and unknown principals share one type.
func AuthErrorType(err error) string {
	switch {
	case errors.Is(err, apperr.ErrNoToken):
		return "missing_token"
	case errors.Is(err, apperr.ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, apperr.ErrTokenSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, apperr.ErrTokenMalformed):
		return "malformed_token"
	case errors.Is(err, apperr.ErrWrongPrincipalKind):
		return "wrong_principal"
	case errors.Is(err, apperr.ErrTenantInactive):
		return "tenant_inactive"
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "unauthenticated"
	}
}

func unauthenticatedMessage(err error) string {
	switch {
	case errors.Is(err, apperr.ErrTokenExpired):
		return "Token has expired."
	case errors.Is(err, apperr.ErrTenantInactive):
		return "Invalid or inactive tenant."
	case errors.Is(err, apperr.ErrInvalidCredentials):
		return "Invalid credentials."
	default:
		return "Unauthenticated."
	}
}

// ErrorHandler renders errors returned by handlers and by echo itself
func ErrorHandler() echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		if writeErr := Fail(c, err); writeErr != nil {
			logger.FromContext(c).Error("Failed to write error response",
				zap.Error(writeErr), zap.String("cause", fmt.Sprint(err)))
		}
	}
}
