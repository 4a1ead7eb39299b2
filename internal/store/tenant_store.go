package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/pkg/database"

	"gorm.io/gorm"
)

// TenantSpec describes a tenant to be created
type TenantSpec struct {
	Name          string
	Description   string
	AdminEmail    string
	DedicatedUser bool
}

// allowedFrom lists, per target status, the states it may be entered from.
// Re-entering the same state is allowed where the operation is idempotent.
var allowedFrom = map[model.TenantStatus][]model.TenantStatus{
	model.StatusCreating:  {model.StatusPending, model.StatusCreating},
	model.StatusActive:    {model.StatusCreating, model.StatusActive, model.StatusSuspended},
	model.StatusFailed:    {model.StatusPending, model.StatusCreating, model.StatusFailed},
	model.StatusSuspended: {model.StatusActive, model.StatusSuspended},
}

// CanTransition reports whether a tenant in from may move to to
func CanTransition(from, to model.TenantStatus) bool {
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// TenantStore is the control-plane catalog of tenants
type TenantStore struct {
	db     *gorm.DB
	prefix string
}

// NewTenantStore creates a store on the control-plane database. prefix is
// prepended to every derived database name.
func NewTenantStore(db *gorm.DB, prefix string) *TenantStore {
	return &TenantStore{db: db, prefix: prefix}
}

// Create inserts a pending tenant with a derived slug and database name.
// A slug or name already in use is a conflict.
func (s *TenantStore) Create(ctx context.Context, spec TenantSpec) (*model.Tenant, error) {
	return s.create(ctx, spec, model.StatusPending)
}

// CreateCreating inserts a tenant that is provisioned inline, skipping pending
func (s *TenantStore) CreateCreating(ctx context.Context, spec TenantSpec) (*model.Tenant, error) {
	return s.create(ctx, spec, model.StatusCreating)
}

func (s *TenantStore) create(ctx context.Context, spec TenantSpec, status model.TenantStatus) (*model.Tenant, error) {
	name := strings.TrimSpace(spec.Name)
	slug := Slugify(name)
	if slug == "" {
		return nil, apperr.ValidationFailed(map[string]string{"name": "must contain at least one letter or digit"})
	}
	dbName := DatabaseName(s.prefix, slug)
	if !database.ValidIdentifier(dbName) {
		return nil, apperr.ValidationFailed(map[string]string{"name": "does not produce a valid database name"})
	}

	db := s.db.WithContext(ctx)

	var count int64
	if err := db.Model(&model.Tenant{}).
		Where("slug = ? OR name = ? OR db_name = ?", slug, name, dbName).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errDuplicateTenant()
	}

	tenant := &model.Tenant{
		Name:        name,
		Slug:        slug,
		Description: spec.Description,
		DBName:      dbName,
		AdminEmail:  spec.AdminEmail,
		Status:      status,
	}
	if spec.DedicatedUser {
		password, err := RandomPassword(16)
		if err != nil {
			return nil, err
		}
		tenant.DBUser = DatabaseUser(name)
		tenant.DBPass = password
	}

	if err := db.Create(tenant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errDuplicateTenant()
		}
		return nil, err
	}
	return tenant, nil
}

// Find returns the tenant with id
func (s *TenantStore) Find(ctx context.Context, id uint) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).First(&tenant, id).Error; err != nil {
		return nil, notFound(err, "tenant")
	}
	return &tenant, nil
}

// FindBySlug returns the tenant with slug
func (s *TenantStore) FindBySlug(ctx context.Context, slug string) (*model.Tenant, error) {
	var tenant model.Tenant
	if err := s.db.WithContext(ctx).Where("slug = ?", slug).First(&tenant).Error; err != nil {
		return nil, notFound(err, "tenant")
	}
	return &tenant, nil
}

// List returns all tenants, newest first
func (s *TenantStore) List(ctx context.Context) ([]model.Tenant, error) {
	var tenants []model.Tenant
	err := s.db.WithContext(ctx).Order("created_at DESC, id DESC").Find(&tenants).Error
	return tenants, err
}

// IsUsable reports whether requests may be routed to the tenant
func (s *TenantStore) IsUsable(t *model.Tenant) bool {
	return t.IsUsable()
}

// SetStatus moves the tenant to status in a single conditional update and
// records detail. Fails with apperr.ErrInvalidTransition when the current
// state does not allow it.
func (s *TenantStore) SetStatus(ctx context.Context, id uint, status model.TenantStatus, detail string) error {
	return s.transition(ctx, id, status, map[string]interface{}{
		"status":        status,
		"status_detail": detail,
	})
}

// MarkProvisioned moves a creating tenant to active
func (s *TenantStore) MarkProvisioned(ctx context.Context, id uint) error {
	now := time.Now()
	return s.transition(ctx, id, model.StatusActive, map[string]interface{}{
		"status":         model.StatusActive,
		"status_detail":  "",
		"provisioned_at": &now,
	}, model.StatusCreating)
}

// Reactivate moves a suspended tenant back to active. Tenants that never
// finished provisioning cannot be activated this way.
func (s *TenantStore) Reactivate(ctx context.Context, id uint) error {
	return s.transition(ctx, id, model.StatusActive, map[string]interface{}{
		"status":        model.StatusActive,
		"status_detail": "",
	}, model.StatusActive, model.StatusSuspended)
}

// MarkFailed moves the tenant to failed, recording the final detail and the
// number of attempts made
func (s *TenantStore) MarkFailed(ctx context.Context, id uint, detail string, attempts int) error {
	return s.transition(ctx, id, model.StatusFailed, map[string]interface{}{
		"status":          model.StatusFailed,
		"status_detail":   detail,
		"failed_attempts": attempts,
	})
}

// RecordAttemptFailure stores the detail of a retryable failed attempt and
// keeps the tenant in creating
func (s *TenantStore) RecordAttemptFailure(ctx context.Context, id uint, detail string, attempts int) error {
	return s.transition(ctx, id, model.StatusCreating, map[string]interface{}{
		"status_detail":   detail,
		"failed_attempts": attempts,
	}, model.StatusCreating)
}

func (s *TenantStore) transition(ctx context.Context, id uint, to model.TenantStatus, updates map[string]interface{}, from ...model.TenantStatus) error {
	if len(from) == 0 {
		from = allowedFrom[to]
	}
	if len(from) == 0 {
		return fmt.Errorf("%w: %s cannot be entered", apperr.ErrInvalidTransition, to)
	}
	states := make([]string, len(from))
	for i, st := range from {
		states[i] = string(st)
	}
	updates["updated_at"] = time.Now()

	result := s.db.WithContext(ctx).Model(&model.Tenant{}).
		Where("id = ? AND status IN ?", id, states).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		return nil
	}

	current, err := s.Find(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s -> %s", apperr.ErrInvalidTransition, current.Status, to)
}

// Delete removes the tenant record
func (s *TenantStore) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&model.Tenant{}, id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: tenant %d", apperr.ErrNotFound, id)
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return err
}

func errDuplicateTenant() error {
	return apperr.ValidationFailed(map[string]string{"name": "A tenant with this name already exists."})
}
