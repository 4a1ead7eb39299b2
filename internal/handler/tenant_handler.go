package handler

import (
	"net/http"
	"time"

	"crm-service/internal/middleware"
	"crm-service/internal/model"
	"crm-service/internal/provisioning"
	"crm-service/pkg/logger"
	"crm-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type createTenantRequest struct {
	Name                      string `json:"name" validate:"required,max=255"`
	Description               string `json:"description" validate:"max=1000"`
	AdminName                 string `json:"admin_name" validate:"required,max=255"`
	AdminEmail                string `json:"admin_email" validate:"required,email,max=255"`
	AdminPassword             string `json:"admin_password" validate:"required,min=8"`
	AdminPasswordConfirmation string `json:"admin_password_confirmation" validate:"required,eqfield=AdminPassword"`
	CreateDBUser              bool   `json:"create_db_user"`
	SeedDemoData              *bool  `json:"seed_demo_data"`
	// Sync provisions inline instead of queueing the job
	Sync bool `json:"sync"`
}

type tenantResource struct {
	ID             uint               `json:"id"`
	Name           string             `json:"name"`
	Slug           string             `json:"slug"`
	Description    string             `json:"description,omitempty"`
	DBName         string             `json:"db_name"`
	AdminEmail     string             `json:"admin_email,omitempty"`
	Status         model.TenantStatus `json:"status"`
	StatusMessage  string             `json:"status_message"`
	StatusDetail   string             `json:"status_detail,omitempty"`
	FailedAttempts int                `json:"failed_attempts"`
	ProvisionedAt  *time.Time         `json:"provisioned_at,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}

func newTenantResource(t *model.Tenant) tenantResource {
	return tenantResource{
		ID:             t.ID,
		Name:           t.Name,
		Slug:           t.Slug,
		Description:    t.Description,
		DBName:         t.DBName,
		AdminEmail:     t.AdminEmail,
		Status:         t.Status,
		StatusMessage:  t.StatusMessage(),
		StatusDetail:   t.StatusDetail,
		FailedAttempts: t.FailedAttempts,
		ProvisionedAt:  t.ProvisionedAt,
		CreatedAt:      t.CreatedAt,
	}
}

// CreateTenant starts provisioning of a new tenant. The tenant is returned
// pending unless the request asks for synchronous provisioning.
func (h *Handler) CreateTenant(c echo.Context) error {
	log := logger.FromContext(c)

	var req createTenantRequest
	if err := bind(c, &req); err != nil {
		return middleware.Fail(c, err)
	}

	seed := true
	if req.SeedDemoData != nil {
		seed = *req.SeedDemoData
	}
	preq := provisioning.Request{
		Name:          req.Name,
		Description:   req.Description,
		AdminName:     req.AdminName,
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
		DedicatedUser: req.CreateDBUser,
		SeedDemoData:  seed,
	}

	ctx := c.Request().Context()
	if req.Sync {
		tenant, err := h.Workflow.ProvisionSync(ctx, preq)
		if err != nil {
			log.Error("Synchronous tenant creation failed", zap.String("tenant", req.Name), zap.Error(err))
			return middleware.Fail(c, err)
		}
		return middleware.OK(c, http.StatusCreated, "Tenant created successfully.", newTenantResource(tenant))
	}

	tenant, err := h.Workflow.Start(ctx, preq)
	if err != nil {
		log.Error("Failed to start tenant creation", zap.String("tenant", req.Name), zap.Error(err))
		return middleware.Fail(c, err)
	}

	log.Info("Tenant creation started",
		zap.Uint("tenant_id", tenant.ID),
		zap.Uint("operator_id", middleware.Principal(c).ID()))
	return middleware.OK(c, http.StatusCreated,
		"Tenant creation started. You will be notified when the process is complete.",
		newTenantResource(tenant))
}

// ListTenants returns every tenant, newest first
func (h *Handler) ListTenants(c echo.Context) error {
	tenants, err := h.Tenants.List(c.Request().Context())
	if err != nil {
		return middleware.Fail(c, err)
	}
	out := make([]tenantResource, 0, len(tenants))
	for i := range tenants {
		out = append(out, newTenantResource(&tenants[i]))
	}
	return middleware.OK(c, http.StatusOK, "", out)
}

// GetTenant returns one tenant
func (h *Handler) GetTenant(c echo.Context) error {
	tenant, err := h.tenantParam(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", newTenantResource(tenant))
}

// TenantStatus returns the provisioning status of a tenant
func (h *Handler) TenantStatus(c echo.Context) error {
	tenant, err := h.tenantParam(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	return middleware.OK(c, http.StatusOK, "", echo.Map{
		"tenant_id":       tenant.ID,
		"tenant_name":     tenant.Name,
		"status":          tenant.Status,
		"status_message":  tenant.StatusMessage(),
		"status_detail":   tenant.StatusDetail,
		"failed_attempts": tenant.FailedAttempts,
	})
}

// SuspendTenant blocks all requests to the tenant and closes its pool
func (h *Handler) SuspendTenant(c echo.Context) error {
	log := logger.FromContext(c)

	tenant, err := h.tenantParam(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Tenants.SetStatus(c.Request().Context(), tenant.ID, model.StatusSuspended, ""); err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Registry.Invalidate(tenant); err != nil {
		log.Warn("Failed to close tenant pool", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
	}

	log.Info("Tenant suspended", zap.Uint("tenant_id", tenant.ID))
	prometheus.RecordTenantOperation("suspend")
	return middleware.OK(c, http.StatusOK, "Tenant suspended successfully", nil)
}

// ActivateTenant reactivates a suspended tenant
func (h *Handler) ActivateTenant(c echo.Context) error {
	log := logger.FromContext(c)

	tenant, err := h.tenantParam(c)
	if err != nil {
		return middleware.Fail(c, err)
	}
	if err := h.Tenants.Reactivate(c.Request().Context(), tenant.ID); err != nil {
		return middleware.Fail(c, err)
	}

	log.Info("Tenant activated", zap.Uint("tenant_id", tenant.ID))
	prometheus.RecordTenantOperation("activate")
	return middleware.OK(c, http.StatusOK, "Tenant activated successfully", nil)
}

func (h *Handler) tenantParam(c echo.Context) (*model.Tenant, error) {
	id, err := idParam(c, "id")
	if err != nil {
		return nil, err
	}
	return h.Tenants.Find(c.Request().Context(), id)
}
