package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"crm-service/internal/apperr"
	"crm-service/internal/audit"
	"crm-service/internal/authz"
	"crm-service/internal/middleware"
	"crm-service/internal/model"
	"crm-service/pkg/jwtutil"
	"crm-service/pkg/logger"
	"crm-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type tenantLoginRequest struct {
	Email      string `json:"email" validate:"required,max=255"`
	Password   string `json:"password" validate:"required"`
	TenantID   *uint  `json:"tenant_id"`
	TenantSlug string `json:"tenant_slug"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type tenantSummary struct {
	ID   uint   `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

func summarize(t *model.Tenant) tenantSummary {
	return tenantSummary{ID: t.ID, Name: t.Name, Slug: t.Slug}
}

// TenantLogin authenticates a user inside an explicitly selected tenant
func (h *Handler) TenantLogin(c echo.Context) error {
	log := logger.FromContext(c)

	var req tenantLoginRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}
	if req.TenantID == nil && req.TenantSlug == "" {
		return middleware.Fail(c, apperr.ValidationFailed(map[string]string{
			"tenant_id": "tenant_id or tenant_slug is required",
		}))
	}

	ctx := c.Request().Context()
	tenant, err := h.loginTenant(ctx, req)
	if err != nil {
		prometheus.RecordLogin("tenant", false)
		if apperr.IsUnauthenticated(err) {
			prometheus.RecordAuthError(middleware.AuthErrorType(err))
		}
		return middleware.Fail(c, err)
	}

	bound, db, err := h.Registry.Bind(ctx, tenant)
	if err != nil {
		log.Error("Failed to bind tenant database", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
		return middleware.Fail(c, err)
	}

	var user model.User
	err = db.Where("email = ?", strings.ToLower(req.Email)).First(&user).Error
	if err == nil {
		err = bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password))
	}
	if err != nil {
		prometheus.RecordLogin("tenant", false)
		if errors.Is(err, gorm.ErrRecordNotFound) || errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			log.Info("Tenant login rejected", zap.Uint("tenant_id", tenant.ID), zap.String("email", req.Email))
			prometheus.RecordAuthError("invalid_credentials")
			return middleware.Fail(c, apperr.ErrInvalidCredentials)
		}
		return middleware.Fail(c, err)
	}

	roles, err := h.Authz.UserRoles(bound, user.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	access, err := h.Tokens.IssueTenant(user.ID, user.Email, tenant.ID, authz.PrimaryRole(roles))
	if err != nil {
		return middleware.Fail(c, err)
	}
	refresh, err := h.Tokens.IssueRefresh(user.ID, user.Email, tenant.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}

	if err := h.Audit.Record(bound, &user, audit.Entry{
		Action:       audit.ActionLogin,
		ResourceType: "user",
		ResourceID:   &user.ID,
		ResourceName: user.Name,
		Request:      requestInfo(c),
	}); err != nil {
		log.Warn("Failed to record login", zap.Error(err))
	}

	log.Info("Tenant user logged in", zap.Uint("tenant_id", tenant.ID), zap.Uint("user_id", user.ID))
	prometheus.RecordLogin("tenant", true)
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"token_type":    "Bearer",
		"expires_in":    h.AccessTTL,
		"user":          user,
		"roles":         roles,
		"tenant":        summarize(tenant),
	})
}

// loginTenant resolves the selected tenant. Unknown tenants are reported
// as invalid credentials.
func (h *Handler) loginTenant(ctx context.Context, req tenantLoginRequest) (*model.Tenant, error) {
	var (
		tenant *model.Tenant
		err    error
	)
	if req.TenantID != nil {
		tenant, err = h.Tenants.Find(ctx, *req.TenantID)
	} else {
		tenant, err = h.Tenants.FindBySlug(ctx, req.TenantSlug)
	}
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.ErrInvalidCredentials
		}
		return nil, err
	}
	if !h.Tenants.IsUsable(tenant) {
		return nil, fmt.Errorf("%w: %s", apperr.ErrTenantInactive, tenant.Status)
	}
	return tenant, nil
}

// TenantRefresh exchanges a refresh token for a new access token. The
// tenant must still be active.
func (h *Handler) TenantRefresh(c echo.Context) error {
	log := logger.FromContext(c)

	var req refreshRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}

	claims, err := h.Tokens.ValidateToken(req.RefreshToken)
	if err == nil && (!claims.IsRefresh() || claims.Kind != jwtutil.KindTenant || claims.TenantID == nil) {
		err = fmt.Errorf("%w: not a tenant refresh token", apperr.ErrTokenMalformed)
	}
	if err != nil {
		prometheus.RecordAuthError(middleware.AuthErrorType(err))
		return middleware.Fail(c, err)
	}

	ctx := c.Request().Context()
	tenant, err := h.tenantGuard.ActiveTenant(ctx, *claims.TenantID)
	if err != nil {
		if apperr.IsUnauthenticated(err) {
			prometheus.RecordAuthError(middleware.AuthErrorType(err))
		}
		return middleware.Fail(c, err)
	}

	bound, db, err := h.Registry.Bind(ctx, tenant)
	if err != nil {
		return middleware.Fail(c, err)
	}
	var user model.User
	if err := db.First(&user, claims.UserID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = apperr.ErrPrincipalNotFound
		}
		return middleware.Fail(c, err)
	}

	roles, err := h.Authz.UserRoles(bound, user.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	access, err := h.Tokens.IssueTenant(user.ID, user.Email, tenant.ID, authz.PrimaryRole(roles))
	if err != nil {
		return middleware.Fail(c, err)
	}

	log.Info("Tenant token refreshed", zap.Uint("tenant_id", tenant.ID), zap.Uint("user_id", user.ID))
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"access_token": access,
		"token_type":   "Bearer",
		"expires_in":   h.AccessTTL,
	})
}

// TenantMe returns the authenticated user with their roles, permissions
// and tenant
func (h *Handler) TenantMe(c echo.Context) error {
	res := middleware.Principal(c)
	ctx := c.Request().Context()

	roles, err := h.Authz.UserRoles(ctx, res.User.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}
	permissions, err := h.Authz.UserPermissions(ctx, res.User.ID)
	if err != nil {
		return middleware.Fail(c, err)
	}

	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"id":          res.User.ID,
		"name":        res.User.Name,
		"email":       res.User.Email,
		"roles":       roles,
		"permissions": permissions,
		"tenant":      summarize(res.Tenant),
	})
}
