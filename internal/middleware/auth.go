package middleware

import (
	"net/http"

	"crm-service/internal/apperr"
	"crm-service/internal/authz"
	"crm-service/internal/guard"
	"crm-service/pkg/logger"
	"crm-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const principalKey = "principal"

// RequireGuard authenticates the request with g. On success the resolved
// principal is stored in the echo context and, for tenant principals, the
// request context is replaced by the one bound to the tenant database.
func RequireGuard(g guard.Guard) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			res, err := g.Authenticate(c.Request().Context(), c.Request())
			if err != nil {
				if !apperr.IsUnauthenticated(err) {
					log.Error("Failed to resolve principal", zap.Error(err))
					prometheus.RecordAuthError("resolver_error")
					return Fail(c, err)
				}
				errType := AuthErrorType(err)
				log.Debug("Authentication failed", zap.String("type", errType), zap.Error(err))
				prometheus.RecordAuthError(errType)
				return Fail(c, err)
			}

			c.Set(principalKey, res)
			if res.Context != nil {
				c.SetRequest(c.Request().WithContext(res.Context))
			}
			return next(c)
		}
	}
}

// Principal returns the principal resolved by RequireGuard, or nil
func Principal(c echo.Context) *guard.Resolution {
	res, _ := c.Get(principalKey).(*guard.Resolution)
	return res
}

// RequirePermission rejects tenant users lacking permission with 403
func RequirePermission(engine *authz.Engine, permission string) echo.MiddlewareFunc {
	return requireGrant("insufficient_permissions", "permission:"+permission,
		"You do not have permission to perform this action.",
		func(c echo.Context, userID uint) (bool, error) {
			return engine.HasPermission(c.Request().Context(), userID, permission)
		})
}

// RequireRole rejects tenant users without role with 403
func RequireRole(engine *authz.Engine, role string) echo.MiddlewareFunc {
	return requireGrant("insufficient_role", "role:"+role,
		"You do not have the required role to perform this action.",
		func(c echo.Context, userID uint) (bool, error) {
			return engine.HasRole(c.Request().Context(), userID, role)
		})
}

func requireGrant(errType, check, message string, allowed func(echo.Context, uint) (bool, error)) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			res := Principal(c)
			if res == nil || res.User == nil {
				return Fail(c, apperr.ErrNoToken)
			}

			ok, err := allowed(c, res.User.ID)
			if err != nil {
				return Fail(c, err)
			}
			if !ok {
				logger.FromContext(c).Info("Access denied",
					zap.String("check", check),
					zap.Uint("user_id", res.User.ID))
				prometheus.RecordForbidden(check)
				return c.JSON(http.StatusForbidden, Response{Message: message, Error: errType})
			}
			return next(c)
		}
	}
}
