// Package provisioning creates tenant databases: the asynchronous workflow
// driven by the job queue, its synchronous variant and the baseline seeders.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"crm-service/internal/apperr"
	"crm-service/internal/authz"
	"crm-service/internal/model"
	"crm-service/internal/notify"
	"crm-service/internal/store"
	"crm-service/pkg/database"
	"crm-service/pkg/queue"
	"crm-service/prometheus"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// JobType identifies provisioning jobs on the queue
const JobType = "provision_tenant"

// Provisioning steps, in execution order
const (
	StepCreateDatabase = "create_database"
	StepApplySchema    = "apply_schema"
	StepSeedCatalog    = "seed_catalog"
	StepSeedData       = "seed_data"
	StepCreateAdmin    = "create_admin"
)

// Seeder runs one initialization step against a tenant database
type Seeder interface {
	Seed(ctx context.Context, db *gorm.DB) error
}

// SeederFunc adapts a function to Seeder
type SeederFunc func(ctx context.Context, db *gorm.DB) error

// Seed calls f
func (f SeederFunc) Seed(ctx context.Context, db *gorm.DB) error { return f(ctx, db) }

// Steps holds the database initialization steps
type Steps struct {
	Schema  Seeder
	Catalog Seeder
	Data    Seeder
}

// DefaultSteps returns the production initialization steps
func DefaultSteps() Steps {
	return Steps{
		Schema:  SeederFunc(model.ApplyTenantSchema),
		Catalog: SeederFunc(SeedCatalog),
		Data:    SeederFunc(SeedDemoData),
	}
}

// Enqueuer accepts jobs for background processing
type Enqueuer interface {
	Enqueue(ctx context.Context, job *queue.Job, delay time.Duration) error
}

// Request is an operator's tenant creation request
type Request struct {
	Name          string
	Description   string
	AdminName     string
	AdminEmail    string
	AdminPassword string
	DedicatedUser bool
	SeedDemoData  bool
}

// Payload is the queued provisioning job. The admin password travels only
// as a bcrypt hash.
type Payload struct {
	TenantID          uint   `json:"tenant_id"`
	AdminName         string `json:"admin_name"`
	AdminEmail        string `json:"admin_email"`
	AdminPasswordHash string `json:"admin_password_hash"`
	SeedDemoData      bool   `json:"seed_demo_data"`
}

// Workflow drives a tenant from pending to active or failed
type Workflow struct {
	tenants     *store.TenantStore
	registry    *database.Registry
	queue       Enqueuer
	notifier    notify.Notifier
	authz       *authz.Engine
	steps       Steps
	maxAttempts int
	log         *zap.Logger
}

// NewWorkflow creates a provisioning workflow
func NewWorkflow(
	tenants *store.TenantStore,
	registry *database.Registry,
	q Enqueuer,
	notifier notify.Notifier,
	engine *authz.Engine,
	steps Steps,
	maxAttempts int,
	log *zap.Logger,
) *Workflow {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Workflow{
		tenants:     tenants,
		registry:    registry,
		queue:       q,
		notifier:    notifier,
		authz:       engine,
		steps:       steps,
		maxAttempts: maxAttempts,
		log:         log.Named("provisioning"),
	}
}

// Start records a pending tenant and queues its provisioning. It returns
// as soon as the job is queued.
func (w *Workflow) Start(ctx context.Context, req Request) (*model.Tenant, error) {
	tenant, payload, err := w.prepare(ctx, req, w.tenants.Create)
	if err != nil {
		return nil, err
	}

	job, err := queue.NewJob(JobType, payload, w.maxAttempts)
	if err == nil {
		err = w.queue.Enqueue(ctx, job, 0)
	}
	if err != nil {
		detail := fmt.Sprintf("failed to queue provisioning: %v", err)
		if markErr := w.tenants.MarkFailed(ctx, tenant.ID, detail, 0); markErr != nil {
			err = multierr.Append(err, markErr)
		}
		return nil, fmt.Errorf("failed to queue tenant provisioning: %w", err)
	}

	w.log.Info("Tenant provisioning queued",
		zap.Uint("tenant_id", tenant.ID),
		zap.String("tenant", tenant.Name),
		zap.String("job_id", job.ID))
	prometheus.RecordTenantOperation("create")
	w.notifier.Notify(ctx, tenant, model.EventTenantCreating, notify.CreatingMessage(tenant))
	return tenant, nil
}

func (w *Workflow) prepare(ctx context.Context, req Request, create func(context.Context, store.TenantSpec) (*model.Tenant, error)) (*model.Tenant, Payload, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(req.AdminPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, Payload{}, fmt.Errorf("failed to hash admin password: %w", err)
	}

	tenant, err := create(ctx, store.TenantSpec{
		Name:          req.Name,
		Description:   req.Description,
		AdminEmail:    req.AdminEmail,
		DedicatedUser: req.DedicatedUser,
	})
	if err != nil {
		return nil, Payload{}, err
	}

	adminName, adminEmail := req.AdminName, req.AdminEmail
	if adminName == "" {
		adminName = "Admin"
	}
	if adminEmail == "" {
		adminEmail = "admin@" + tenant.Slug + ".com"
	}

	return tenant, Payload{
		TenantID:          tenant.ID,
		AdminName:         adminName,
		AdminEmail:        strings.ToLower(adminEmail),
		AdminPasswordHash: string(hashed),
		SeedDemoData:      req.SeedDemoData,
	}, nil
}

// Handle runs one provisioning attempt. A failed attempt always drops the
// tenant database again; transient failures are returned for a retry while
// attempts remain, anything else marks the tenant failed and is returned
// as a permanent error.
func (w *Workflow) Handle(ctx context.Context, job *queue.Job) error {
	var payload Payload
	if err := job.Decode(&payload); err != nil {
		return apperr.Permanent(fmt.Errorf("invalid provisioning payload: %w", err))
	}
	log := w.log.With(
		zap.Uint("tenant_id", payload.TenantID),
		zap.String("job_id", job.ID),
		zap.Int("attempt", job.Attempt))

	tenant, err := w.tenants.Find(ctx, payload.TenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return apperr.Permanent(err)
		}
		return err
	}

	// redelivered after an earlier run already finished
	switch tenant.Status {
	case model.StatusActive, model.StatusSuspended:
		log.Info("Tenant already provisioned, skipping job")
		return nil
	case model.StatusFailed:
		log.Warn("Tenant already failed, skipping job")
		return nil
	}

	if err := w.tenants.SetStatus(ctx, tenant.ID, model.StatusCreating, tenant.StatusDetail); err != nil {
		return apperr.Permanent(err)
	}
	tenant.Status = model.StatusCreating
	log.Info("Starting tenant provisioning", zap.String("tenant", tenant.Name))

	err = w.run(ctx, tenant, payload)
	if err == nil {
		return w.complete(ctx, tenant)
	}

	log.Error("Tenant provisioning attempt failed", zap.Error(err))
	// the failure is recorded before cleanup, which must outlive a job timeout
	ctx = context.WithoutCancel(ctx)

	if apperr.IsTransient(err) && !job.LastAttempt() {
		detail := fmt.Sprintf("attempt %d of %d failed: %v", job.Attempt, job.MaxAttempts, err)
		if recErr := w.tenants.RecordAttemptFailure(ctx, tenant.ID, detail, job.Attempt); recErr != nil {
			log.Error("Failed to record attempt failure", zap.Error(recErr))
		}
		w.rollback(ctx, tenant)
		prometheus.RecordProvisioning("retry")
		return err
	}

	w.fail(ctx, tenant, err.Error(), job.Attempt)
	return apperr.Permanent(err)
}

// Failed finalizes a job the queue gives up on. The tenant ends in failed
// with its database dropped, even when the last attempt never got to run
// its own failure handling.
func (w *Workflow) Failed(ctx context.Context, job *queue.Job, cause error) {
	var payload Payload
	if err := job.Decode(&payload); err != nil {
		w.log.Error("Provisioning job failed with invalid payload", zap.String("job_id", job.ID), zap.Error(cause))
		return
	}
	tenant, err := w.tenants.Find(ctx, payload.TenantID)
	if err != nil {
		w.log.Error("Provisioning job failed for unknown tenant", zap.Uint("tenant_id", payload.TenantID), zap.Error(err))
		return
	}
	if !tenant.IsCreating() {
		return
	}
	ctx = context.WithoutCancel(ctx)
	w.fail(ctx, tenant, fmt.Sprintf("gave up after %d attempts: %v", job.Attempt, cause), job.Attempt)
}

// ProvisionSync creates and provisions a tenant inline. On failure the
// database and the tenant record are both removed and the error returned.
func (w *Workflow) ProvisionSync(ctx context.Context, req Request) (*model.Tenant, error) {
	tenant, payload, err := w.prepare(ctx, req, w.tenants.CreateCreating)
	if err != nil {
		return nil, err
	}
	log := w.log.With(zap.Uint("tenant_id", tenant.ID), zap.String("tenant", tenant.Name))
	log.Info("Provisioning tenant synchronously")

	if err := w.run(ctx, tenant, payload); err != nil {
		log.Error("Synchronous provisioning failed, removing tenant", zap.Error(err))
		err = multierr.Append(err, w.registry.DropDatabase(ctx, tenant))
		err = multierr.Append(err, w.tenants.Delete(ctx, tenant.ID))
		prometheus.RecordProvisioning("failed")
		return nil, err
	}

	if err := w.complete(ctx, tenant); err != nil {
		return nil, err
	}
	return w.tenants.Find(ctx, tenant.ID)
}

// run executes the five provisioning steps in order
func (w *Workflow) run(ctx context.Context, tenant *model.Tenant, payload Payload) error {
	var (
		bound context.Context
		db    *gorm.DB
	)

	err := w.step(StepCreateDatabase, func() (err error) {
		if err = w.registry.CreateDatabase(ctx, tenant); err != nil {
			return err
		}
		bound, db, err = w.registry.Bind(ctx, tenant)
		return err
	})
	if err != nil {
		return err
	}

	if err := w.step(StepApplySchema, func() error { return w.steps.Schema.Seed(bound, db) }); err != nil {
		return err
	}
	if err := w.step(StepSeedCatalog, func() error { return w.steps.Catalog.Seed(bound, db) }); err != nil {
		return err
	}
	if payload.SeedDemoData {
		if err := w.step(StepSeedData, func() error { return w.steps.Data.Seed(bound, db) }); err != nil {
			return err
		}
	}
	return w.step(StepCreateAdmin, func() error { return w.createAdmin(bound, db, payload) })
}

func (w *Workflow) step(name string, fn func() error) error {
	track := prometheus.TrackProvisioningStep(name)
	err := fn()
	track(err)
	if err != nil {
		return apperr.StepFailed(name, err)
	}
	return nil
}

// createAdmin creates the default administrator, or reuses it when a
// previous attempt already did, and makes it super admin
func (w *Workflow) createAdmin(ctx context.Context, db *gorm.DB, payload Payload) error {
	admin := model.User{}
	err := db.Where(model.User{Email: payload.AdminEmail}).
		Attrs(model.User{Name: payload.AdminName, Password: payload.AdminPasswordHash}).
		FirstOrCreate(&admin).Error
	if err != nil {
		return err
	}
	return w.authz.AssignRole(ctx, admin.ID, authz.SuperAdmin)
}

func (w *Workflow) complete(ctx context.Context, tenant *model.Tenant) error {
	if err := w.tenants.MarkProvisioned(ctx, tenant.ID); err != nil {
		return err
	}
	tenant.Status = model.StatusActive

	w.log.Info("Tenant provisioned", zap.Uint("tenant_id", tenant.ID), zap.String("tenant", tenant.Name))
	prometheus.RecordProvisioning("active")
	w.notifier.Notify(ctx, tenant, model.EventTenantActive, notify.CompletedMessage(tenant))
	return nil
}

// rollback drops the tenant database. Its failure is logged only.
func (w *Workflow) rollback(ctx context.Context, tenant *model.Tenant) {
	if err := w.registry.DropDatabase(ctx, tenant); err != nil {
		w.log.Error("Failed to drop tenant database during rollback",
			zap.Uint("tenant_id", tenant.ID),
			zap.String("database", tenant.DBName),
			zap.Error(err))
		return
	}
	w.log.Info("Rolled back tenant database", zap.Uint("tenant_id", tenant.ID), zap.String("database", tenant.DBName))
}

// fail records the terminal failure, then drops the tenant database
func (w *Workflow) fail(ctx context.Context, tenant *model.Tenant, detail string, attempts int) {
	if err := w.tenants.MarkFailed(ctx, tenant.ID, detail, attempts); err != nil {
		w.log.Error("Failed to mark tenant failed", zap.Uint("tenant_id", tenant.ID), zap.Error(err))
		w.rollback(ctx, tenant)
		return
	}
	tenant.Status = model.StatusFailed
	tenant.StatusDetail = detail
	w.rollback(ctx, tenant)

	prometheus.RecordProvisioning("failed")
	w.notifier.Notify(ctx, tenant, model.EventTenantFailed, notify.FailedMessage(tenant, detail))
}
