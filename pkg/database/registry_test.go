package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"

	"crm-service/internal/apperr"
	"crm-service/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm/logger"
)

type note struct {
	ID   uint
	Body string
}

func newTestRegistry(t *testing.T) (*Registry, *SQLiteServer) {
	t.Helper()
	server := NewSQLiteServer(t.TempDir())
	r := NewRegistry(server, PoolConfig{MaxOpenConns: 4}, logger.Default.LogMode(logger.Silent), zaptest.NewLogger(t))
	t.Cleanup(func() { r.Close() })
	return r, server
}

func TestConnectionRequiresExistingDatabase(t *testing.T) {
	r, server := newTestRegistry(t)
	tenant := &model.Tenant{ID: 1, DBName: "tenant_missing"}

	_, err := r.Connection(context.Background(), tenant)

	var dbErr *apperr.DatabaseError
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, "connect", dbErr.Op)
	assert.Equal(t, 0, r.Len())

	_, statErr := os.Stat(server.Path("tenant_missing"))
	assert.True(t, errors.Is(statErr, os.ErrNotExist), "connecting must not create the database")
}

func TestCreateDatabaseIsIdempotent(t *testing.T) {
	r, _ := newTestRegistry(t)
	ctx := context.Background()
	tenant := &model.Tenant{ID: 1, DBName: "tenant_acme"}

	require.NoError(t, r.CreateDatabase(ctx, tenant))
	db, err := r.Connection(ctx, tenant)
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&note{}))
	require.NoError(t, db.Create(&note{Body: "kept"}).Error)

	require.NoError(t, r.CreateDatabase(ctx, tenant))

	again, err := r.Connection(ctx, tenant)
	require.NoError(t, err)
	assert.Same(t, db, again)

	var count int64
	require.NoError(t, again.Model(&note{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, 1, r.Len())
}

func TestBindingIsPerContext(t *testing.T) {
	r, _ := newTestRegistry(t)
	acme := &model.Tenant{ID: 1, DBName: "tenant_acme"}
	globex := &model.Tenant{ID: 2, DBName: "tenant_globex"}

	for _, tenant := range []*model.Tenant{acme, globex} {
		require.NoError(t, r.CreateDatabase(context.Background(), tenant))
		db, err := r.Connection(context.Background(), tenant)
		require.NoError(t, err)
		require.NoError(t, db.AutoMigrate(&note{}))
		require.NoError(t, db.Create(&note{Body: tenant.DBName}).Error)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		tenant := acme
		if i%2 == 1 {
			tenant = globex
		}
		wg.Add(1)
		go func(tenant *model.Tenant) {
			defer wg.Done()
			ctx, _, err := r.Bind(context.Background(), tenant)
			if err != nil {
				errs <- err
				return
			}
			db, err := TenantDB(ctx)
			if err != nil {
				errs <- err
				return
			}
			var got note
			if err := db.First(&got, 1).Error; err != nil {
				errs <- err
				return
			}
			if got.Body != tenant.DBName {
				errs <- fmt.Errorf("tenant %s read %q", tenant.DBName, got.Body)
				return
			}
			if BoundTenant(ctx) != tenant {
				errs <- fmt.Errorf("tenant %s bound to wrong record", tenant.DBName)
			}
		}(tenant)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, 2, r.Len())
}

func TestDropDatabaseEvictsConnection(t *testing.T) {
	r, server := newTestRegistry(t)
	ctx := context.Background()
	tenant := &model.Tenant{ID: 1, DBName: "tenant_acme"}

	require.NoError(t, r.CreateDatabase(ctx, tenant))
	_, err := r.Connection(ctx, tenant)
	require.NoError(t, err)

	require.NoError(t, r.DropDatabase(ctx, tenant))
	assert.Equal(t, 0, r.Len())

	exists, err := server.DatabaseExists(ctx, tenant.DBName)
	require.NoError(t, err)
	assert.False(t, exists)

	// dropping twice is harmless
	require.NoError(t, r.DropDatabase(ctx, tenant))
}

func TestTenantDBRequiresBinding(t *testing.T) {
	_, err := TenantDB(context.Background())
	assert.ErrorIs(t, err, apperr.ErrNotBound)
	assert.Nil(t, BoundTenant(context.Background()))
}

func TestValidIdentifier(t *testing.T) {
	assert.True(t, ValidIdentifier("tenant_acme_corp"))
	assert.True(t, ValidIdentifier("u0123456789abcde"))
	assert.False(t, ValidIdentifier("Tenant"))
	assert.False(t, ValidIdentifier("tenant-acme"))
	assert.False(t, ValidIdentifier(""))
	assert.False(t, ValidIdentifier("1tenant"))
}

// gatedServer holds DatabaseExists until released and honours its context
type gatedServer struct {
	*SQLiteServer
	entered chan struct{}
	release chan struct{}
}

func (s *gatedServer) DatabaseExists(ctx context.Context, name string) (bool, error) {
	s.entered <- struct{}{}
	<-s.release
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return s.SQLiteServer.DatabaseExists(ctx, name)
}

func TestCancelledOpenerDoesNotFailWaiters(t *testing.T) {
	sqlite := NewSQLiteServer(t.TempDir())
	tenant := &model.Tenant{ID: 1, DBName: "tenant_acme"}
	require.NoError(t, sqlite.CreateDatabase(context.Background(), TargetFor(tenant)))

	server := &gatedServer{SQLiteServer: sqlite, entered: make(chan struct{}, 1), release: make(chan struct{})}
	r := NewRegistry(server, PoolConfig{}, logger.Default.LogMode(logger.Silent), zaptest.NewLogger(t))
	t.Cleanup(func() { r.Close() })

	openerCtx, cancel := context.WithCancel(context.Background())
	type result struct {
		err error
	}
	opener := make(chan result, 1)
	go func() {
		_, err := r.Connection(openerCtx, tenant)
		opener <- result{err}
	}()
	<-server.entered

	waiter := make(chan result, 1)
	go func() {
		_, err := r.Connection(context.Background(), tenant)
		waiter <- result{err}
	}()

	cancel()
	close(server.release)

	got := <-waiter
	assert.NoError(t, got.err)
	<-opener

	db, err := r.Connection(context.Background(), tenant)
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Equal(t, 1, r.Len())
}
