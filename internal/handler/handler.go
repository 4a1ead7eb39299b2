// Package handler exposes the control-plane and tenant-plane HTTP API.
package handler

import (
	"net/http"
	"strconv"

	"crm-service/internal/apperr"
	"crm-service/internal/audit"
	"crm-service/internal/authz"
	"crm-service/internal/guard"
	"crm-service/internal/middleware"
	"crm-service/internal/notify"
	"crm-service/internal/provisioning"
	"crm-service/internal/store"
	"crm-service/pkg/database"
	"crm-service/pkg/jwtutil"

	"github.com/labstack/echo/v4"
)

// Deps are the services the handlers are built on
type Deps struct {
	ServiceName   string
	Tokens        *jwtutil.JWTUtil
	Tenants       *store.TenantStore
	Operators     *store.OperatorStore
	Notifications *notify.DatabaseNotifier
	Workflow      *provisioning.Workflow
	Registry      *database.Registry
	Authz         *authz.Engine
	Audit         audit.Sink
	AccessTTL     int // seconds
}

// Handler serves the API
type Handler struct {
	Deps
	operatorGuard *guard.OperatorGuard
	tenantGuard   *guard.TenantGuard
}

// New creates the API handlers
func New(d Deps) *Handler {
	return &Handler{
		Deps:          d,
		operatorGuard: guard.NewOperatorGuard(d.Tokens, d.Operators),
		tenantGuard:   guard.NewTenantGuard(d.Tokens, d.Tenants, d.Registry),
	}
}

// Register mounts every route on e
func (h *Handler) Register(e *echo.Echo) {
	e.GET("/health", h.HealthCheck)
	e.GET("/metrics", MetricsHandler)

	api := e.Group("/api")

	// Control plane
	admin := api.Group("/admin")
	admin.POST("/login", h.OperatorLogin)

	operator := admin.Group("", middleware.RequireGuard(h.operatorGuard))
	operator.GET("/me", h.OperatorMe)
	operator.POST("/logout", h.Logout)
	operator.GET("/notifications", h.ListNotifications)
	operator.POST("/notifications/read", h.MarkNotificationsRead)

	tenants := operator.Group("/tenants")
	tenants.POST("", h.CreateTenant)
	tenants.GET("", h.ListTenants)
	tenants.GET("/:id", h.GetTenant)
	tenants.GET("/:id/status", h.TenantStatus)
	tenants.PATCH("/:id/suspend", h.SuspendTenant)
	tenants.PATCH("/:id/activate", h.ActivateTenant)

	// Tenant plane
	tenant := api.Group("/tenant")
	tenant.POST("/login", h.TenantLogin)
	tenant.POST("/refresh", h.TenantRefresh)

	user := tenant.Group("", middleware.RequireGuard(h.tenantGuard))
	user.GET("/me", h.TenantMe)
	user.POST("/logout", h.Logout)

	can := func(permission string) echo.MiddlewareFunc {
		return middleware.RequirePermission(h.Authz, permission)
	}

	contacts := user.Group("/contacts", can("contacts.view"))
	contacts.GET("", h.ListContacts)
	contacts.GET("/:id", h.GetContact)
	contacts.POST("", h.CreateContact, can("contacts.create"))
	contacts.PUT("/:id", h.UpdateContact, can("contacts.edit"))
	contacts.DELETE("/:id", h.DeleteContact, can("contacts.delete"))

	roles := user.Group("/roles", can("roles.view"))
	roles.GET("", h.ListRoles)
	roles.GET("/permissions", h.ListPermissions)
	roles.GET("/user-permissions", h.UserPermissions)
	roles.POST("/assign-role", h.AssignRole, can("users.manage_roles"))
	roles.POST("/remove-role", h.RemoveRole, can("users.manage_roles"))
	roles.POST("/give-permission", h.GivePermission, can("users.manage_roles"))
	roles.POST("/revoke-permission", h.RevokePermission, can("users.manage_roles"))

	logs := user.Group("/audit-logs", can("audit_logs.view"))
	logs.GET("", h.ListAuditLogs)
	logs.GET("/mine", h.MyAuditLogs)
	logs.GET("/resource/:type/:id", h.ResourceAuditLogs)
}

// bind decodes and validates the request body into req
func bind(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}
	return c.Validate(req)
}

// idParam parses a numeric path parameter. Malformed ids are reported as
// not found, like ids that do not exist.
func idParam(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		return 0, apperr.ErrNotFound
	}
	return uint(id), nil
}

func requestInfo(c echo.Context) audit.RequestInfo {
	r := c.Request()
	return audit.RequestInfo{
		IPAddress: c.RealIP(),
		UserAgent: r.UserAgent(),
		URL:       r.URL.String(),
		Method:    r.Method,
	}
}

// Logout acknowledges the logout. Issued tokens stay valid until they expire.
func (h *Handler) Logout(c echo.Context) error {
	return middleware.OK(c, http.StatusOK, "Successfully logged out", nil)
}
