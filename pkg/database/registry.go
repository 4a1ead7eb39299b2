package database

import (
	"context"
	"fmt"
	"sync"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/prometheus"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type entry struct {
	ready chan struct{}
	db    *gorm.DB
	err   error
}

// Registry owns the live connection pools to tenant databases, keyed by
// database name. Pools are opened lazily on first use and reused by every
// later request for the same tenant. Opening one tenant never waits on
// another.
type Registry struct {
	server     Server
	pool       PoolConfig
	gormLogger logger.Interface
	log        *zap.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry creates a registry opening tenant databases on server
func NewRegistry(server Server, pool PoolConfig, gormLogger logger.Interface, log *zap.Logger) *Registry {
	if gormLogger == nil {
		gormLogger = logger.Default.LogMode(logger.Warn)
	}
	return &Registry{
		server:     server,
		pool:       pool,
		gormLogger: gormLogger,
		log:        log.Named("registry"),
		entries:    make(map[string]*entry),
	}
}

// Server returns the database server behind the registry
func (r *Registry) Server() Server {
	return r.server
}

// Connection returns the pool for the tenant database, opening it if needed
func (r *Registry) Connection(ctx context.Context, t *model.Tenant) (*gorm.DB, error) {
	key := t.DBName

	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		e = &entry{ready: make(chan struct{})}
		r.entries[key] = e
	}
	r.mu.Unlock()

	if ok {
		select {
		case <-e.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.err != nil {
			return nil, e.err
		}
		return e.db, nil
	}

	// waiters share the result, so one caller's cancellation must not fail them
	e.db, e.err = r.open(context.WithoutCancel(ctx), t)
	close(e.ready)

	if e.err != nil {
		r.mu.Lock()
		if r.entries[key] == e {
			delete(r.entries, key)
		}
		r.mu.Unlock()
		return nil, e.err
	}

	r.log.Info("Tenant connection opened", zap.Uint("tenant_id", t.ID), zap.String("database", key))
	prometheus.SetTenantConnections(r.Len())
	return e.db, nil
}

func (r *Registry) open(ctx context.Context, t *model.Tenant) (*gorm.DB, error) {
	target := TargetFor(t)
	if err := checkTarget(target); err != nil {
		return nil, apperr.DatabaseOperationFailed("connect", err)
	}

	// Opening a missing sqlite file would silently create it
	exists, err := r.server.DatabaseExists(ctx, target.Name)
	if err != nil {
		return nil, apperr.DatabaseOperationFailed("connect", err)
	}
	if !exists {
		return nil, apperr.DatabaseOperationFailed("connect", fmt.Errorf("database %q does not exist", target.Name))
	}

	db, err := Open(r.server.Dialector(target), r.pool, r.gormLogger)
	if err != nil {
		return nil, apperr.DatabaseOperationFailed("connect", err)
	}
	return db, nil
}

// Bind returns a context carrying the tenant and its database handle. Every
// query of the unit of work must go through TenantDB(ctx).
func (r *Registry) Bind(ctx context.Context, t *model.Tenant) (context.Context, *gorm.DB, error) {
	db, err := r.Connection(ctx, t)
	if err != nil {
		return ctx, nil, err
	}
	ctx = WithTenantDB(ctx, t, db)
	return ctx, db.WithContext(ctx), nil
}

// CreateDatabase creates the tenant database and optional dedicated login
func (r *Registry) CreateDatabase(ctx context.Context, t *model.Tenant) error {
	if err := r.server.CreateDatabase(ctx, TargetFor(t)); err != nil {
		return apperr.DatabaseOperationFailed("create_database", err)
	}
	r.log.Info("Tenant database created", zap.Uint("tenant_id", t.ID), zap.String("database", t.DBName))
	return nil
}

// DropDatabase closes the cached pool and destroys the tenant database
func (r *Registry) DropDatabase(ctx context.Context, t *model.Tenant) error {
	if err := r.Invalidate(t); err != nil {
		r.log.Warn("Failed to close tenant connection before drop", zap.String("database", t.DBName), zap.Error(err))
	}
	if err := r.server.DropDatabase(ctx, TargetFor(t)); err != nil {
		return apperr.DatabaseOperationFailed("drop_database", err)
	}
	r.log.Info("Tenant database dropped", zap.Uint("tenant_id", t.ID), zap.String("database", t.DBName))
	return nil
}

// Invalidate closes and evicts the cached pool of the tenant, if any.
// Requests already holding the handle fail on their next query.
func (r *Registry) Invalidate(t *model.Tenant) error {
	r.mu.Lock()
	e, ok := r.entries[t.DBName]
	if ok {
		delete(r.entries, t.DBName)
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}
	<-e.ready
	prometheus.SetTenantConnections(r.Len())
	if e.err != nil {
		return nil
	}
	return Close(e.db)
}

// Len returns the number of cached tenant pools
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close closes every cached pool
func (r *Registry) Close() error {
	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*entry)
	r.mu.Unlock()

	var err error
	for _, e := range entries {
		<-e.ready
		if e.err == nil {
			err = multierr.Append(err, Close(e.db))
		}
	}
	prometheus.SetTenantConnections(0)
	return err
}
