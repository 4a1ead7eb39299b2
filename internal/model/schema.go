package model

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// ControlPlaneModels lists the tables of the shared control-plane database
func ControlPlaneModels() []interface{} {
	return []interface{}{&Tenant{}, &Operator{}, &OperatorNotification{}}
}

// TenantModels lists the tables of every tenant database
func TenantModels() []interface{} {
	return []interface{}{
		&User{},
		&Role{}, &Permission{}, &RolePermission{}, &UserRole{}, &UserPermission{},
		&Contact{}, &Deal{},
		&AuditLog{},
	}
}

// MigrateControlPlane creates or updates the control-plane tables
func MigrateControlPlane(db *gorm.DB) error {
	if err := db.AutoMigrate(ControlPlaneModels()...); err != nil {
		return fmt.Errorf("failed to migrate control plane: %w", err)
	}
	return nil
}

// ApplyTenantSchema creates or updates the tables of a tenant database.
// It is safe to run repeatedly against the same database.
func ApplyTenantSchema(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(TenantModels()...); err != nil {
		return fmt.Errorf("failed to apply tenant schema: %w", err)
	}
	return nil
}
