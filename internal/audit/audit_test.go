package audit

import (
	"context"
	"testing"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/pkg/database"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm/logger"
)

func bind(t *testing.T, registry *database.Registry, name string) context.Context {
	t.Helper()
	tenant := &model.Tenant{Name: name, DBName: "tenant_" + name, Status: model.StatusActive}
	require.NoError(t, registry.CreateDatabase(context.Background(), tenant))
	ctx, db, err := registry.Bind(context.Background(), tenant)
	require.NoError(t, err)
	require.NoError(t, model.ApplyTenantSchema(ctx, db))
	return ctx
}

func TestRecordStaysInBoundTenant(t *testing.T) {
	registry := database.NewRegistry(database.NewSQLiteServer(t.TempDir()), database.PoolConfig{}, logger.Default.LogMode(logger.Silent), zaptest.NewLogger(t))
	t.Cleanup(func() { registry.Close() })
	acme := bind(t, registry, "acme")
	globex := bind(t, registry, "globex")

	sink := NewGormSink(zaptest.NewLogger(t))
	actor := &model.User{ID: 1, Name: "Jane", Email: "jane@acme.com"}
	id := uint(7)

	require.NoError(t, sink.Record(acme, actor, Entry{
		Action:       ActionUpdated,
		ResourceType: "contact",
		ResourceID:   &id,
		ResourceName: "Alice",
		Before:       map[string]string{"status": "lead"},
		After:        map[string]string{"status": "active"},
		Request:      RequestInfo{IPAddress: "10.0.0.1", Method: "PUT", URL: "/tenant/contacts/7"},
	}))

	logs, total, err := List(acme, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, logs, 1)
	assert.Equal(t, `{"status":"lead"}`, logs[0].OldValues)
	assert.Equal(t, `{"status":"active"}`, logs[0].NewValues)
	assert.Equal(t, "Jane", logs[0].UserName)

	logs, total, err = List(globex, Page{})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, logs)

	mine, _, err := ForUser(acme, 1, Page{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	byResource, _, err := ForResource(acme, "contact", 7, Page{})
	require.NoError(t, err)
	assert.Len(t, byResource, 1)
	byResource, _, err = ForResource(acme, "contact", 8, Page{})
	require.NoError(t, err)
	assert.Empty(t, byResource)
}

func TestRecordRequiresBinding(t *testing.T) {
	sink := NewGormSink(zaptest.NewLogger(t))
	err := sink.Record(context.Background(), nil, Entry{Action: ActionCreated, ResourceType: "contact"})
	assert.ErrorIs(t, err, apperr.ErrNotBound)
}
