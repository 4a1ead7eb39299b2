package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-service/internal/apperr"
	"crm-service/internal/audit"
	"crm-service/internal/authz"
	"crm-service/internal/handler"
	"crm-service/internal/model"
	"crm-service/internal/notify"
	"crm-service/internal/provisioning"
	"crm-service/internal/store"
	"crm-service/pkg/config"
	"crm-service/pkg/database"
	"crm-service/pkg/jwtutil"
	"crm-service/pkg/queue"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// memoryQueueSize bounds the in-process queue used without redis
const memoryQueueSize = 256

// app holds the services every command is built from
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	control   *gorm.DB
	tenants   *store.TenantStore
	operators *store.OperatorStore
	registry  *database.Registry
	engine    *authz.Engine
	notifier  *notify.DatabaseNotifier
	queue     queue.Queue
	redis     *queue.RedisQueue // nil unless QUEUE_DRIVER=redis
	workflow  *provisioning.Workflow
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	control, server, err := connectControlPlane(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	log.Info("Control plane connection established", zap.String("driver", cfg.DB.Driver))

	q, rq, err := openQueue(ctx, cfg.Queue)
	if err != nil {
		database.Close(control)
		return nil, err
	}

	gormLog := gormlogger.Default.LogMode(cfg.DB.LogLevel)
	pool := database.PoolConfig{
		MaxIdleConns:    cfg.Tenant.MaxIdleConns,
		MaxOpenConns:    cfg.Tenant.MaxOpenConns,
		ConnMaxLifetime: cfg.Tenant.ConnMaxLifetime,
	}

	a := &app{
		cfg:       cfg,
		log:       log,
		control:   control,
		tenants:   store.NewTenantStore(control, cfg.Tenant.NamePrefix),
		operators: store.NewOperatorStore(control),
		registry:  database.NewRegistry(server, pool, gormLog, log),
		engine:    authz.NewEngine(log),
		queue:     q,
		redis:     rq,
	}
	a.notifier = notify.NewDatabaseNotifier(control, a.operators, log)
	a.workflow = provisioning.NewWorkflow(a.tenants, a.registry, q, a.notifier, a.engine,
		provisioning.DefaultSteps(), cfg.Queue.MaxAttempts, log)
	return a, nil
}

// connectControlPlane retries the initial connection so the service can
// start before its database is reachable.
func connectControlPlane(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gorm.DB, database.Server, error) {
	var (
		db     *gorm.DB
		server database.Server
	)
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = time.Minute

	err := backoff.RetryNotify(func() error {
		var err error
		db, server, err = database.InitControlPlane(cfg)
		return err
	}, backoff.WithContext(policy, ctx), func(err error, delay time.Duration) {
		log.Warn("Control plane not reachable, retrying", zap.Error(err), zap.Duration("delay", delay))
	})
	if err != nil {
		return nil, nil, err
	}
	return db, server, nil
}

func openQueue(ctx context.Context, cfg config.QueueConfig) (queue.Queue, *queue.RedisQueue, error) {
	if cfg.Driver != config.QueueRedis {
		return queue.NewMemoryQueue(memoryQueueSize), nil, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{cfg.RedisAddr},
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	rq := queue.NewRedisQueue(client, cfg.KeyPrefix)
	return rq, rq, nil
}

// newWorker returns a worker on the app queue with the provisioning
// handler registered
func (a *app) newWorker(concurrency int) *queue.Worker {
	w := queue.NewWorker(a.queue, queue.WorkerConfig{
		Concurrency:    concurrency,
		InitialBackoff: a.cfg.Queue.InitialBackoff,
		MaxBackoff:     a.cfg.Queue.MaxBackoff,
		JobTimeout:     a.cfg.Queue.JobTimeout,
	}, a.log)
	w.Register(provisioning.JobType, a.workflow)
	return w
}

func (a *app) handlers() *handler.Handler {
	return handler.New(handler.Deps{
		ServiceName:   a.cfg.ServiceName,
		Tokens:        jwtutil.NewJWTUtil(&a.cfg.JWT),
		Tenants:       a.tenants,
		Operators:     a.operators,
		Notifications: a.notifier,
		Workflow:      a.workflow,
		Registry:      a.registry,
		Authz:         a.engine,
		Audit:         audit.NewGormSink(a.log),
		AccessTTL:     int(a.cfg.JWT.AccessTTL().Seconds()),
	})
}

// migrate brings the control-plane schema up to date
func (a *app) migrate() error {
	if err := model.MigrateControlPlane(a.control); err != nil {
		a.log.Error("Failed to migrate control plane", zap.Error(err))
		return err
	}
	return nil
}

// bootstrapOperator creates the configured operator if it does not exist yet
func (a *app) bootstrapOperator(ctx context.Context) error {
	b := a.cfg.Bootstrap
	if b.OperatorEmail == "" || b.OperatorPassword == "" {
		return nil
	}
	_, err := a.operators.FindByEmail(ctx, b.OperatorEmail)
	if err == nil {
		return nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	operator, err := a.operators.Create(ctx, b.OperatorName, b.OperatorEmail, b.OperatorPassword)
	if err != nil {
		return err
	}
	a.log.Info("Bootstrap operator created", zap.Uint("operator_id", operator.ID), zap.String("email", operator.Email))
	return nil
}

func (a *app) Close() error {
	err := a.registry.Close()
	err = multierr.Append(err, a.queue.Close())
	err = multierr.Append(err, database.Close(a.control))
	return err
}
