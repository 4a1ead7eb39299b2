package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// OpenSQLite opens the database file at path, creating it if missing
func OpenSQLite(path string, pool PoolConfig, gormLogger logger.Interface) (*gorm.DB, error) {
	return Open(sqlite.Open(sqliteDSN(path)), pool, gormLogger)
}

// SQLiteServer keeps each tenant database in its own file under a data
// directory. SQLite has no logins, so target credentials are ignored.
type SQLiteServer struct {
	dir string
}

// NewSQLiteServer creates a server rooted at dir
func NewSQLiteServer(dir string) *SQLiteServer {
	return &SQLiteServer{dir: dir}
}

// Path returns the file backing the named database
func (s *SQLiteServer) Path(name string) string {
	return filepath.Join(s.dir, name+".db")
}

// Dialector returns a dialector for the target database file
func (s *SQLiteServer) Dialector(target Target) gorm.Dialector {
	return sqlite.Open(sqliteDSN(s.Path(target.Name)))
}

// DatabaseExists reports whether the database file exists
func (s *SQLiteServer) DatabaseExists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(s.Path(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// CreateDatabase creates an empty database file unless it already exists
func (s *SQLiteServer) CreateDatabase(_ context.Context, target Target) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(s.Path(target.Name), os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	return f.Close()
}

// DropDatabase removes the database file and its journal files
func (s *SQLiteServer) DropDatabase(_ context.Context, target Target) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	base := s.Path(target.Name)
	for _, path := range []string{base, base + "-wal", base + "-shm", base + "-journal"} {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func sqliteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}
