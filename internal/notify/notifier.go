// Package notify delivers tenant lifecycle notifications to operators.
package notify

import (
	"context"
	"fmt"
	"time"

	"crm-service/internal/model"
	"crm-service/internal/store"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier informs operators about tenant lifecycle events. Delivery is
// fire-and-forget: failures are logged, never returned.
type Notifier interface {
	Notify(ctx context.Context, tenant *model.Tenant, event, message string)
}

// DatabaseNotifier stores one notification row per operator in the
// control-plane database
type DatabaseNotifier struct {
	db        *gorm.DB
	operators *store.OperatorStore
	log       *zap.Logger
}

// NewDatabaseNotifier creates a notifier on the control-plane database
func NewDatabaseNotifier(db *gorm.DB, operators *store.OperatorStore, log *zap.Logger) *DatabaseNotifier {
	return &DatabaseNotifier{db: db, operators: operators, log: log.Named("notify")}
}

// Notify records event for every operator
func (n *DatabaseNotifier) Notify(ctx context.Context, tenant *model.Tenant, event, message string) {
	log := n.log.With(
		zap.Uint("tenant_id", tenant.ID),
		zap.String("tenant", tenant.Name),
		zap.String("event", event))

	operators, err := n.operators.All(ctx)
	if err != nil {
		log.Error("Failed to load operators for notification", zap.Error(err))
		return
	}
	if len(operators) == 0 {
		log.Info("No operators to notify")
		return
	}

	rows := make([]model.OperatorNotification, 0, len(operators))
	for _, op := range operators {
		rows = append(rows, model.OperatorNotification{
			OperatorID: op.ID,
			TenantID:   tenant.ID,
			TenantName: tenant.Name,
			Event:      event,
			Message:    message,
		})
	}
	if err := n.db.WithContext(ctx).Create(&rows).Error; err != nil {
		log.Error("Failed to store operator notifications", zap.Error(err))
		return
	}
	log.Info("Operators notified", zap.Int("operators", len(rows)), zap.String("message", message))
}

// List returns the notifications of operatorID, newest first
func (n *DatabaseNotifier) List(ctx context.Context, operatorID uint, unreadOnly bool) ([]model.OperatorNotification, error) {
	q := n.db.WithContext(ctx).Where("operator_id = ?", operatorID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var rows []model.OperatorNotification
	err := q.Order("created_at DESC, id DESC").Find(&rows).Error
	return rows, err
}

// MarkRead marks all unread notifications of operatorID as read
func (n *DatabaseNotifier) MarkRead(ctx context.Context, operatorID uint) (int64, error) {
	result := n.db.WithContext(ctx).Model(&model.OperatorNotification{}).
		Where("operator_id = ? AND read_at IS NULL", operatorID).
		Update("read_at", time.Now())
	return result.RowsAffected, result.Error
}

// CreatingMessage announces that provisioning of t has started
func CreatingMessage(t *model.Tenant) string {
	return fmt.Sprintf("Tenant %q creation has started.", t.Name)
}

// CompletedMessage announces that t is active
func CompletedMessage(t *model.Tenant) string {
	return fmt.Sprintf("Tenant %q has been created successfully and is ready to use.", t.Name)
}

// FailedMessage announces that provisioning of t failed with detail
func FailedMessage(t *model.Tenant, detail string) string {
	return fmt.Sprintf("Tenant %q creation failed: %s", t.Name, detail)
}
