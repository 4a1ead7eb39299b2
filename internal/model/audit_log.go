package model

import (
	"time"
)

// AuditLog records one action of a tenant user. It is stored in the same
// tenant database as the user that produced it.
type AuditLog struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"user_id" gorm:"index:idx_audit_user_created;not null"`
	UserName     string    `json:"user_name" gorm:"type:varchar(255)"`
	UserEmail    string    `json:"user_email" gorm:"type:varchar(255)"`
	Action       string    `json:"action" gorm:"type:varchar(50);index;not null"`
	ResourceType string    `json:"resource_type" gorm:"type:varchar(50);index:idx_audit_resource;not null"`
	ResourceID   *uint     `json:"resource_id,omitempty" gorm:"index:idx_audit_resource"`
	ResourceName string    `json:"resource_name,omitempty" gorm:"type:varchar(255)"`
	OldValues    string    `json:"old_values,omitempty" gorm:"type:text"`
	NewValues    string    `json:"new_values,omitempty" gorm:"type:text"`
	Metadata     string    `json:"metadata,omitempty" gorm:"type:text"`
	IPAddress    string    `json:"ip_address,omitempty" gorm:"type:varchar(64)"`
	UserAgent    string    `json:"user_agent,omitempty" gorm:"type:varchar(512)"`
	URL          string    `json:"url,omitempty" gorm:"type:varchar(1024)"`
	Method       string    `json:"method,omitempty" gorm:"type:varchar(10)"`
	CreatedAt    time.Time `json:"created_at" gorm:"index:idx_audit_user_created"`
}
