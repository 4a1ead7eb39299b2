package handler

import (
	"net/http"

	"crm-service/internal/audit"
	"crm-service/internal/authz"
	"crm-service/internal/middleware"
	"crm-service/internal/model"
	"crm-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type roleAssignment struct {
	UserID uint   `json:"user_id" validate:"required"`
	Role   string `json:"role" validate:"required"`
}

type permissionGrant struct {
	UserID     uint   `json:"user_id" validate:"required"`
	Permission string `json:"permission" validate:"required"`
}

type roleResource struct {
	model.Role
	Permissions []string `json:"permissions"`
}

// ListRoles returns the role catalog with the permissions of each role
func (h *Handler) ListRoles(c echo.Context) error {
	ctx := c.Request().Context()
	roles, err := h.Authz.Roles(ctx)
	if err != nil {
		return middleware.Fail(c, err)
	}
	grants, err := h.Authz.RolePermissions(ctx)
	if err != nil {
		return middleware.Fail(c, err)
	}

	out := make([]roleResource, 0, len(roles))
	for _, r := range roles {
		perms := grants[r.Name]
		if perms == nil {
			perms = []string{}
		}
		out = append(out, roleResource{Role: r, Permissions: perms})
	}
	return middleware.OK(c, http.StatusOK, "", out)
}

// ListPermissions returns the permission catalog grouped by category
func (h *Handler) ListPermissions(c echo.Context) error {
	grouped, err := h.Authz.PermissionsByCategory(c.Request().Context())
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"categories":  authz.Categories(grouped),
		"permissions": grouped,
	})
}

// UserPermissions returns the roles and effective permissions of the principal
func (h *Handler) UserPermissions(c echo.Context) error {
	ctx := c.Request().Context()
	user := middleware.Principal(c).User

	roles, err := h.Authz.UserRoles(ctx, user.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	permissions, err := h.Authz.UserPermissions(ctx, user.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"roles":       roles,
		"permissions": permissions,
	})
}

// AssignRole assigns a role to a user of the tenant
func (h *Handler) AssignRole(c echo.Context) error {
	var req roleAssignment
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Authz.AssignRole(c.Request().Context(), req.UserID, req.Role); err != nil {
		return middleware.Fail(c, err)
	}
	h.auditGrant(c, req.UserID, "role_assigned", "role", req.Role)
	return middleware.OK(c, http.StatusOK, "Role assigned successfully", nil)
}

// RemoveRole removes a role from a user of the tenant
func (h *Handler) RemoveRole(c echo.Context) error {
	var req roleAssignment
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Authz.RemoveRole(c.Request().Context(), req.UserID, req.Role); err != nil {
		return middleware.Fail(c, err)
	}
	h.auditGrant(c, req.UserID, "role_removed", "role", req.Role)
	return middleware.OK(c, http.StatusOK, "Role removed successfully", nil)
}

// GivePermission grants a permission directly to a user of the tenant
func (h *Handler) GivePermission(c echo.Context) error {
	var req permissionGrant
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Authz.GivePermission(c.Request().Context(), req.UserID, req.Permission); err != nil {
		return middleware.Fail(c, err)
	}
	h.auditGrant(c, req.UserID, "permission_granted", "permission", req.Permission)
	return middleware.OK(c, http.StatusOK, "Permission granted successfully", nil)
}

// RevokePermission revokes a direct permission of a user of the tenant
func (h *Handler) RevokePermission(c echo.Context) error {
	var req permissionGrant
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Authz.RevokePermission(c.Request().Context(), req.UserID, req.Permission); err != nil {
		return middleware.Fail(c, err)
	}
	h.auditGrant(c, req.UserID, "permission_revoked", "permission", req.Permission)
	return middleware.OK(c, http.StatusOK, "Permission revoked successfully", nil)
}

func (h *Handler) auditGrant(c echo.Context, userID uint, change, key, value string) {
	logger.FromContext(c).Info("User access changed",
		zap.Uint("user_id", userID),
		zap.String("change", change),
		zap.String(key, value))
	h.audit(c, audit.Entry{
		Action:       audit.ActionUpdated,
		ResourceType: "user",
		ResourceID:   &userID,
		Metadata:     map[string]interface{}{"change": change, key: value},
	})
}
