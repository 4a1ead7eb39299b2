package database

import (
	"context"

	"crm-service/internal/apperr"
	"crm-service/internal/model"

	"gorm.io/gorm"
)

type contextKey string

const bindingKey contextKey = "tenant_binding"

type binding struct {
	tenant *model.Tenant
	db     *gorm.DB
}

// WithTenantDB returns a copy of ctx bound to the tenant database
func WithTenantDB(ctx context.Context, t *model.Tenant, db *gorm.DB) context.Context {
	return context.WithValue(ctx, bindingKey, &binding{tenant: t, db: db})
}

// TenantDB returns the database bound to ctx, scoped to ctx
func TenantDB(ctx context.Context) (*gorm.DB, error) {
	b, ok := ctx.Value(bindingKey).(*binding)
	if !ok || b.db == nil {
		return nil, apperr.ErrNotBound
	}
	return b.db.WithContext(ctx), nil
}

// BoundTenant returns the tenant bound to ctx, or nil
func BoundTenant(ctx context.Context) *model.Tenant {
	if b, ok := ctx.Value(bindingKey).(*binding); ok {
		return b.tenant
	}
	return nil
}
