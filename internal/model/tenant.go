package model

import (
	"time"
)

// TenantStatus is the lifecycle state of a tenant
type TenantStatus string

// Tenant lifecycle states
const (
	StatusPending   TenantStatus = "pending"
	StatusCreating  TenantStatus = "creating"
	StatusActive    TenantStatus = "active"
	StatusFailed    TenantStatus = "failed"
	StatusSuspended TenantStatus = "suspended"
)

// Tenant is the control-plane record of an isolated customer account.
// Each tenant owns a dedicated database named DBName.
type Tenant struct {
	ID             uint         `json:"id" gorm:"primaryKey"`
	Name           string       `json:"name" gorm:"type:varchar(255);uniqueIndex;not null"`
	Slug           string       `json:"slug" gorm:"type:varchar(255);uniqueIndex;not null"`
	Description    string       `json:"description,omitempty" gorm:"type:text"`
	DBName         string       `json:"db_name" gorm:"type:varchar(63);uniqueIndex;not null"`
	DBUser         string       `json:"db_user,omitempty" gorm:"type:varchar(63)"`
	DBPass         string       `json:"-" gorm:"type:varchar(255)"`
	AdminEmail     string       `json:"admin_email" gorm:"type:varchar(255)"`
	Status         TenantStatus `json:"status" gorm:"type:varchar(20);index;not null;default:'pending'"`
	StatusDetail   string       `json:"status_detail,omitempty" gorm:"type:text"`
	FailedAttempts int          `json:"failed_attempts" gorm:"not null;default:0"`
	ProvisionedAt  *time.Time   `json:"provisioned_at,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// IsUsable reports whether requests may be routed to the tenant's database
func (t *Tenant) IsUsable() bool {
	return t != nil && t.Status == StatusActive
}

// IsCreating reports whether provisioning has not finished yet
func (t *Tenant) IsCreating() bool {
	return t.Status == StatusPending || t.Status == StatusCreating
}

// IsFailed reports whether provisioning ended in failure
func (t *Tenant) IsFailed() bool {
	return t.Status == StatusFailed
}

// HasDedicatedUser reports whether the tenant database has its own login
func (t *Tenant) HasDedicatedUser() bool {
	return t.DBUser != "" && t.DBPass != ""
}

// StatusMessage returns a human-readable description of the tenant status
func (t *Tenant) StatusMessage() string {
	return StatusMessage(t.Status)
}

// StatusMessage returns a human-readable description of status
func StatusMessage(status TenantStatus) string {
	switch status {
	case StatusPending:
		return "Tenant creation is queued and will start shortly."
	case StatusCreating:
		return "Tenant database and setup is in progress."
	case StatusActive:
		return "Tenant is active and ready to use."
	case StatusFailed:
		return "Tenant creation failed. Please check logs for details."
	case StatusSuspended:
		return "Tenant is suspended."
	default:
		return "Unknown status."
	}
}
