package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"crm-service/pkg/config"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// PoolConfig holds connection pool settings applied to every opened handle
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Open opens a gorm handle on dialector and applies pool settings
func Open(dialector gorm.Dialector, pool PoolConfig, gormLogger logger.Interface) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         gormLogger,
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database object: %w", err)
	}

	if pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}

	return db, nil
}

// Close closes the connection pool behind db
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// InitControlPlane connects to the control-plane database and returns the
// database server used to create tenant databases next to it.
func InitControlPlane(cfg *config.Config) (*gorm.DB, Server, error) {
	gormLogger := logger.Default.LogMode(cfg.DB.LogLevel)
	pool := PoolConfig{
		MaxIdleConns:    cfg.DB.MaxIdleConns,
		MaxOpenConns:    cfg.DB.MaxOpenConns,
		ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
	}

	switch cfg.DB.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(cfg.Tenant.DataDir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		path := filepath.Join(cfg.Tenant.DataDir, cfg.DB.DBName+".db")
		db, err := OpenSQLite(path, pool, gormLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to control plane: %w", err)
		}
		return db, NewSQLiteServer(cfg.Tenant.DataDir), nil

	default:
		// Disables implicit prepared statement usage
		db, err := Open(postgres.New(postgres.Config{
			DSN:                  cfg.DB.GetDSN(),
			PreferSimpleProtocol: true,
		}), pool, gormLogger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to control plane: %w", err)
		}
		return db, NewPostgresServer(db, cfg.DB), nil
	}
}
