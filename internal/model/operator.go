package model

import (
	"time"
)

// Operator is a system administrator living only in the control-plane database
type Operator struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255);uniqueIndex;not null"`
	Password  string    `json:"-" gorm:"type:varchar(255);not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Notification events sent to operators about tenant provisioning
const (
	EventTenantCreating = "creating"
	EventTenantActive   = "completed"
	EventTenantFailed   = "failed"
)

// OperatorNotification is a database-channel notification addressed to one operator
type OperatorNotification struct {
	ID         uint       `json:"id" gorm:"primaryKey"`
	OperatorID uint       `json:"operator_id" gorm:"index;not null"`
	TenantID   uint       `json:"tenant_id" gorm:"index"`
	TenantName string     `json:"tenant_name" gorm:"type:varchar(255)"`
	Event      string     `json:"event" gorm:"type:varchar(20);not null"`
	Message    string     `json:"message,omitempty" gorm:"type:text"`
	ReadAt     *time.Time `json:"read_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}
