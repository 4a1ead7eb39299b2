// Package authz resolves the effective permissions of tenant users.
//
// Every query runs against the tenant database bound to the context, and
// the union of role-granted and directly granted permissions is recomputed
// on every call, so concurrent role changes take effect immediately.
package authz

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"crm-service/internal/apperr"
	"crm-service/internal/model"
	"crm-service/pkg/database"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SuperAdmin is the highest-privilege role of every tenant
const SuperAdmin = "super_admin"

const grantedPermissionIDs = `
	SELECT permission_id FROM user_permissions WHERE user_id = @user
	UNION
	SELECT rp.permission_id FROM role_permissions rp
	JOIN user_roles ur ON ur.role_id = rp.role_id
	WHERE ur.user_id = @user`

// Engine answers authorization queries for the bound tenant
type Engine struct {
	log *zap.Logger
}

// NewEngine creates an authorization engine
func NewEngine(log *zap.Logger) *Engine {
	return &Engine{log: log.Named("authz")}
}

// HasPermission reports whether the user holds permission through any of
// their roles or a direct grant
func (e *Engine) HasPermission(ctx context.Context, userID uint, permission string) (bool, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return false, err
	}
	var count int64
	err = db.Raw(`SELECT count(*) FROM permissions WHERE name = @name AND id IN (`+grantedPermissionIDs+`)`,
		map[string]interface{}{"name": permission, "user": userID}).
		Scan(&count).Error
	return count > 0, err
}

// HasRole reports whether the user is assigned role
func (e *Engine) HasRole(ctx context.Context, userID uint, role string) (bool, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return false, err
	}
	var count int64
	err = db.Raw(`SELECT count(*) FROM user_roles ur JOIN roles r ON r.id = ur.role_id WHERE ur.user_id = ? AND r.name = ?`, userID, role).
		Scan(&count).Error
	return count > 0, err
}

// UserPermissions returns the sorted effective permission names of the user
func (e *Engine) UserPermissions(ctx context.Context, userID uint) ([]string, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	err = db.Raw(`SELECT name FROM permissions WHERE id IN (`+grantedPermissionIDs+`) ORDER BY name`,
		map[string]interface{}{"user": userID}).
		Scan(&names).Error
	return names, err
}

// UserRoles returns the sorted role names assigned to the user
func (e *Engine) UserRoles(ctx context.Context, userID uint) ([]string, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	err = db.Raw(`SELECT r.name FROM roles r JOIN user_roles ur ON ur.role_id = r.id WHERE ur.user_id = ? ORDER BY r.name`, userID).
		Scan(&names).Error
	return names, err
}

// HasAnyPermission reports whether the user holds at least one of permissions
func (e *Engine) HasAnyPermission(ctx context.Context, userID uint, permissions ...string) (bool, error) {
	held, err := e.permissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if held[p] {
			return true, nil
		}
	}
	return false, nil
}

// HasAllPermissions reports whether the user holds every one of permissions
func (e *Engine) HasAllPermissions(ctx context.Context, userID uint, permissions ...string) (bool, error) {
	held, err := e.permissionSet(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if !held[p] {
			return false, nil
		}
	}
	return true, nil
}

// HasAnyRole reports whether the user is assigned at least one of roles
func (e *Engine) HasAnyRole(ctx context.Context, userID uint, roles ...string) (bool, error) {
	assigned, err := e.UserRoles(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, have := range assigned {
		for _, want := range roles {
			if have == want {
				return true, nil
			}
		}
	}
	return false, nil
}

func (e *Engine) permissionSet(ctx context.Context, userID uint) (map[string]bool, error) {
	names, err := e.UserPermissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set, nil
}

// Authorize returns apperr.ErrForbidden unless the user holds permission
func (e *Engine) Authorize(ctx context.Context, userID uint, permission string) error {
	ok, err := e.HasPermission(ctx, userID, permission)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: missing permission %s", apperr.ErrForbidden, permission)
	}
	return nil
}

// AssignRole gives the user role. Assigning a held role is a no-op.
func (e *Engine) AssignRole(ctx context.Context, userID uint, roleName string) error {
	db, role, err := e.userAndRole(ctx, userID, roleName)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UserRole{UserID: userID, RoleID: role.ID}).Error
}

// RemoveRole takes role away from the user. Removing an unheld role is a no-op.
func (e *Engine) RemoveRole(ctx context.Context, userID uint, roleName string) error {
	db, role, err := e.userAndRole(ctx, userID, roleName)
	if err != nil {
		return err
	}
	return db.Where("user_id = ? AND role_id = ?", userID, role.ID).Delete(&model.UserRole{}).Error
}

// GivePermission grants permission directly to the user
func (e *Engine) GivePermission(ctx context.Context, userID uint, permissionName string) error {
	db, permission, err := e.userAndPermission(ctx, userID, permissionName)
	if err != nil {
		return err
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&model.UserPermission{UserID: userID, PermissionID: permission.ID}).Error
}

// RevokePermission removes a direct grant. Role-derived grants are untouched.
func (e *Engine) RevokePermission(ctx context.Context, userID uint, permissionName string) error {
	db, permission, err := e.userAndPermission(ctx, userID, permissionName)
	if err != nil {
		return err
	}
	return db.Where("user_id = ? AND permission_id = ?", userID, permission.ID).Delete(&model.UserPermission{}).Error
}

// Roles returns the role catalog ordered by name
func (e *Engine) Roles(ctx context.Context) ([]model.Role, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	var roles []model.Role
	err = db.Order("name").Find(&roles).Error
	return roles, err
}

// RolePermissions returns the permission names granted to each role
func (e *Engine) RolePermissions(ctx context.Context) (map[string][]string, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	var rows []struct {
		Role       string
		Permission string
	}
	err = db.Raw(`SELECT r.name AS role, p.name AS permission FROM role_permissions rp
		JOIN roles r ON r.id = rp.role_id
		JOIN permissions p ON p.id = rp.permission_id
		ORDER BY r.name, p.name`).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, row := range rows {
		out[row.Role] = append(out[row.Role], row.Permission)
	}
	return out, nil
}

// PermissionsByCategory returns the permission catalog grouped by category
func (e *Engine) PermissionsByCategory(ctx context.Context) (map[string][]model.Permission, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	var permissions []model.Permission
	if err := db.Order("category, name").Find(&permissions).Error; err != nil {
		return nil, err
	}
	grouped := make(map[string][]model.Permission)
	for _, p := range permissions {
		grouped[p.Category] = append(grouped[p.Category], p)
	}
	return grouped, nil
}

// Categories returns the sorted keys of a PermissionsByCategory result
func Categories(grouped map[string][]model.Permission) []string {
	keys := make([]string, 0, len(grouped))
	for k := range grouped {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) userAndRole(ctx context.Context, userID uint, roleName string) (*gorm.DB, *model.Role, error) {
	db, err := e.boundUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	var role model.Role
	if err := db.Where("name = ?", roleName).First(&role).Error; err != nil {
		return nil, nil, missing(err, "role "+roleName)
	}
	return db, &role, nil
}

func (e *Engine) userAndPermission(ctx context.Context, userID uint, permissionName string) (*gorm.DB, *model.Permission, error) {
	db, err := e.boundUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	var permission model.Permission
	if err := db.Where("name = ?", permissionName).First(&permission).Error; err != nil {
		return nil, nil, missing(err, "permission "+permissionName)
	}
	return db, &permission, nil
}

func (e *Engine) boundUser(ctx context.Context, userID uint) (*gorm.DB, error) {
	db, err := database.TenantDB(ctx)
	if err != nil {
		return nil, err
	}
	var count int64
	if err := db.Model(&model.User{}).Where("id = ?", userID).Count(&count).Error; err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return db, nil
}

func missing(err error, what string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %s", apperr.ErrNotFound, what)
	}
	return err
}

// roleRank orders the baseline roles from most to least privileged
var roleRank = []string{SuperAdmin, "admin", "manager", "sales_rep", "user"}

// PrimaryRole returns the most privileged of roles, used as the role claim
// of session tokens. Custom roles rank below the baseline ones.
func PrimaryRole(roles []string) string {
	for _, ranked := range roleRank {
		for _, r := range roles {
			if r == ranked {
				return r
			}
		}
	}
	if len(roles) > 0 {
		return roles[0]
	}
	return ""
}
