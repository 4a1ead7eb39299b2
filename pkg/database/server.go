package database

import (
	"context"
	"fmt"
	"regexp"

	"crm-service/internal/model"

	"gorm.io/gorm"
)

// Target identifies a tenant database and the login used to reach it
type Target struct {
	Name     string
	User     string
	Password string
}

// TargetFor returns the database target declared by tenant t
func TargetFor(t *model.Tenant) Target {
	return Target{Name: t.DBName, User: t.DBUser, Password: t.DBPass}
}

// Server manages databases on the database server hosting tenant data
type Server interface {
	// Dialector returns a dialector connecting to the target database
	Dialector(target Target) gorm.Dialector
	// DatabaseExists reports whether the named database exists
	DatabaseExists(ctx context.Context, name string) (bool, error)
	// CreateDatabase creates the target database and, when the target has
	// credentials, a login restricted to it. Existing objects are kept.
	CreateDatabase(ctx context.Context, target Target) error
	// DropDatabase destroys the target database and its dedicated login
	DropDatabase(ctx context.Context, target Target) error
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is usable as a database or login name
func ValidIdentifier(name string) bool {
	return identPattern.MatchString(name)
}

func checkTarget(target Target) error {
	if !ValidIdentifier(target.Name) {
		return fmt.Errorf("invalid database name %q", target.Name)
	}
	if target.User != "" && !ValidIdentifier(target.User) {
		return fmt.Errorf("invalid database user %q", target.User)
	}
	return nil
}
