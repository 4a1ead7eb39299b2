// Package audit records tenant user actions in the tenant's own database.
// Write paths call the sink explicitly with before/after snapshots.
package audit

import (
	"context"
	"encoding/json"

	"crm-service/internal/model"
	"crm-service/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actions
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
	ActionLogin   = "login"
)

// RequestInfo describes the request that caused an entry
type RequestInfo struct {
	IPAddress string
	UserAgent string
	URL       string
	Method    string
}

// Entry is one auditable action
type Entry struct {
	Action       string
	ResourceType string
	ResourceID   *uint
	ResourceName string
	Before       interface{}
	After        interface{}
	Metadata     map[string]interface{}
	Request      RequestInfo
}

// Sink stores audit entries
type Sink interface {
	Record(ctx context.Context, actor *model.User, entry Entry) error
}

// GormSink writes entries to the tenant database bound to the context
type GormSink struct {
	log *zap.Logger
}

// NewGormSink creates a sink
func NewGormSink(log *zap.Logger) *GormSink {
	return &GormSink{log: log.Named("audit")}
}

// Record stores entry on behalf of actor
func (s *GormSink) Record(ctx context.Context, actor *model.User, entry Entry) error {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return err
	}

	row := model.AuditLog{
		Action:       entry.Action,
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		ResourceName: entry.ResourceName,
		OldValues:    snapshot(entry.Before),
		NewValues:    snapshot(entry.After),
		IPAddress:    entry.Request.IPAddress,
		UserAgent:    entry.Request.UserAgent,
		URL:          entry.Request.URL,
		Method:       entry.Request.Method,
	}
	if len(entry.Metadata) > 0 {
		row.Metadata = snapshot(entry.Metadata)
	}
	if actor != nil {
		row.UserID = actor.ID
		row.UserName = actor.Name
		row.UserEmail = actor.Email
	}

	if err := db.Create(&row).Error; err != nil {
		s.log.Error("Failed to write audit log",
			zap.String("action", entry.Action),
			zap.String("resource_type", entry.ResourceType),
			zap.Error(err))
		return err
	}
	return nil
}

func snapshot(v interface{}) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// Page selects a slice of a listing
type Page struct {
	Page    int
	PerPage int
}

// Normalize applies the default and maximum page size
func (p Page) Normalize() Page {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.PerPage < 1 || p.PerPage > 100 {
		p.PerPage = 20
	}
	return p
}

// List returns audit logs of the bound tenant, newest first, with the total count
func List(ctx context.Context, page Page) ([]model.AuditLog, int64, error) {
	return query(ctx, page, "", nil)
}

// ForUser returns the audit logs produced by userID
func ForUser(ctx context.Context, userID uint, page Page) ([]model.AuditLog, int64, error) {
	return query(ctx, page, "user_id = ?", []interface{}{userID})
}

// ForResource returns the audit logs of one resource
func ForResource(ctx context.Context, resourceType string, resourceID uint, page Page) ([]model.AuditLog, int64, error) {
	return query(ctx, page, "resource_type = ? AND resource_id = ?", []interface{}{resourceType, resourceID})
}

func query(ctx context.Context, page Page, where string, args []interface{}) ([]model.AuditLog, int64, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, 0, err
	}
	page = page.Normalize()

	scoped := func() *gorm.DB {
		q := db.Model(&model.AuditLog{})
		if where != "" {
			q = q.Where(where, args...)
		}
		return q
	}

	var total int64
	if err := scoped().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	logs := []model.AuditLog{}
	err = scoped().Order("created_at DESC, id DESC").
		Offset((page.Page - 1) * page.PerPage).
		Limit(page.PerPage).
		Find(&logs).Error
	return logs, total, err
}
