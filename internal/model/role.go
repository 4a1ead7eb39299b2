package model

import (
	"time"
)

// Role is a tenant-scoped named bundle of permissions
type Role struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	Name         string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	DisplayName  string    `json:"display_name" gorm:"type:varchar(255)"`
	Description  string    `json:"description" gorm:"type:text"`
	IsSystemRole bool      `json:"is_system_role" gorm:"not null;default:false"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Permission is a tenant-scoped catalog entry such as "contacts.view"
type Permission struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	Name        string    `json:"name" gorm:"type:varchar(100);uniqueIndex;not null"`
	DisplayName string    `json:"display_name" gorm:"type:varchar(255)"`
	Description string    `json:"description" gorm:"type:text"`
	Category    string    `json:"category" gorm:"type:varchar(50);index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// RolePermission grants a permission to a role
type RolePermission struct {
	RoleID       uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID uint `gorm:"primaryKey;autoIncrement:false;index"`
}

// UserRole assigns a role to a user
type UserRole struct {
	UserID uint `gorm:"primaryKey;autoIncrement:false"`
	RoleID uint `gorm:"primaryKey;autoIncrement:false;index"`
}

// UserPermission grants a permission directly to a user
type UserPermission struct {
	UserID       uint `gorm:"primaryKey;autoIncrement:false"`
	PermissionID uint `gorm:"primaryKey;autoIncrement:false;index"`
}
