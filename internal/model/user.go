package model

import (
	"time"
)

// User is a tenant-scoped principal. It lives only inside its tenant's
// database, so IDs are unique per tenant database, not globally.
type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Populated by the tenant guard, never persisted
	Tenant    *Tenant `json:"-" gorm:"-"`
	TokenRole string  `json:"-" gorm:"-"`
}
