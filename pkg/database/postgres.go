package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"crm-service/pkg/config"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// PostgresServer creates tenant databases on the PostgreSQL server that hosts
// the control plane, using the control-plane connection as admin session.
type PostgresServer struct {
	admin *gorm.DB
	cfg   config.DBConfig
}

// NewPostgresServer creates a server driven through the admin connection
func NewPostgresServer(admin *gorm.DB, cfg config.DBConfig) *PostgresServer {
	return &PostgresServer{admin: admin, cfg: cfg}
}

// Dialector returns a dialector for the target database
func (s *PostgresServer) Dialector(target Target) gorm.Dialector {
	user, password := s.cfg.User, s.cfg.Password
	if target.User != "" {
		user, password = target.User, target.Password
	}
	return postgres.New(postgres.Config{
		DSN:                  s.cfg.DSNFor(target.Name, user, password),
		PreferSimpleProtocol: true,
	})
}

// DatabaseExists reports whether the named database exists
func (s *PostgresServer) DatabaseExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.admin.WithContext(ctx).
		Raw("SELECT count(*) FROM pg_database WHERE datname = ?", name).
		Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *PostgresServer) roleExists(ctx context.Context, name string) (bool, error) {
	var count int64
	if err := s.admin.WithContext(ctx).
		Raw("SELECT count(*) FROM pg_roles WHERE rolname = ?", name).
		Scan(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateDatabase creates the database and the optional dedicated login
func (s *PostgresServer) CreateDatabase(ctx context.Context, target Target) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	db := s.admin.WithContext(ctx)

	exists, err := s.DatabaseExists(ctx, target.Name)
	if err != nil {
		return err
	}
	if !exists {
		// CREATE DATABASE cannot take IF NOT EXISTS; a concurrent creator loses with 42P04
		if err := db.Exec("CREATE DATABASE " + quoteIdent(target.Name)).Error; err != nil && !hasCode(err, "42P04") {
			return err
		}
	}

	if target.User == "" {
		return nil
	}

	roleFound, err := s.roleExists(ctx, target.User)
	if err != nil {
		return err
	}
	if !roleFound {
		stmt := fmt.Sprintf("CREATE ROLE %s LOGIN PASSWORD %s", quoteIdent(target.User), quoteLiteral(target.Password))
		if err := db.Exec(stmt).Error; err != nil && !hasCode(err, "42710") {
			return err
		}
	}

	if err := db.Exec(fmt.Sprintf("ALTER DATABASE %s OWNER TO %s", quoteIdent(target.Name), quoteIdent(target.User))).Error; err != nil {
		return err
	}
	return db.Exec(fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s", quoteIdent(target.Name), quoteIdent(target.User))).Error
}

// DropDatabase drops the database, terminating open sessions, and the dedicated login
func (s *PostgresServer) DropDatabase(ctx context.Context, target Target) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	db := s.admin.WithContext(ctx)

	if err := db.Exec("DROP DATABASE IF EXISTS " + quoteIdent(target.Name) + " WITH (FORCE)").Error; err != nil {
		return err
	}
	if target.User != "" {
		return db.Exec("DROP ROLE IF EXISTS " + quoteIdent(target.User)).Error
	}
	return nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteLiteral(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}
