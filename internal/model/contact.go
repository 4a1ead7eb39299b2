package model

import (
	"time"
)

// Contact is a CRM contact owned by a tenant user
type Contact struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	UserID    uint      `json:"user_id" gorm:"index;not null"`
	Name      string    `json:"name" gorm:"type:varchar(255);not null"`
	Email     string    `json:"email" gorm:"type:varchar(255)"`
	Phone     string    `json:"phone" gorm:"type:varchar(50)"`
	Company   string    `json:"company" gorm:"type:varchar(255)"`
	Status    string    `json:"status" gorm:"type:varchar(20);not null;default:'lead'"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Deal is a sales opportunity, optionally linked to a contact
type Deal struct {
	ID                uint       `json:"id" gorm:"primaryKey"`
	UserID            uint       `json:"user_id" gorm:"index;not null"`
	ContactID         *uint      `json:"contact_id,omitempty" gorm:"index"`
	Title             string     `json:"title" gorm:"type:varchar(255);not null"`
	Description       string     `json:"description" gorm:"type:text"`
	Value             float64    `json:"value" gorm:"not null;default:0"`
	Status            string     `json:"status" gorm:"type:varchar(20);not null;default:'open'"`
	Probability       int        `json:"probability" gorm:"not null;default:0"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}
