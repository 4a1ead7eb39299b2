package provisioning

import (
	"context"

	"crm-service/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Baseline roles of every tenant
var Roles = []model.Role{
	{Name: "super_admin", DisplayName: "Super Administrator", Description: "Full access to all features and settings", IsSystemRole: true},
	{Name: "admin", DisplayName: "Administrator", Description: "Administrative access with most permissions", IsSystemRole: true},
	{Name: "manager", DisplayName: "Manager", Description: "Management access to contacts, deals, and activities", IsSystemRole: true},
	{Name: "sales_rep", DisplayName: "Sales Representative", Description: "Access to manage contacts and deals", IsSystemRole: true},
	{Name: "user", DisplayName: "User", Description: "Basic access to view and manage own data", IsSystemRole: true},
}

// Baseline permissions of every tenant
var Permissions = []model.Permission{
	{Name: "users.view", DisplayName: "View Users", Description: "View user list and details", Category: "users"},
	{Name: "users.create", DisplayName: "Create Users", Description: "Create new users", Category: "users"},
	{Name: "users.edit", DisplayName: "Edit Users", Description: "Edit user information", Category: "users"},
	{Name: "users.delete", DisplayName: "Delete Users", Description: "Delete users", Category: "users"},
	{Name: "users.manage_roles", DisplayName: "Manage User Roles", Description: "Assign and manage user roles", Category: "users"},

	{Name: "contacts.view", DisplayName: "View Contacts", Description: "View contact list and details", Category: "contacts"},
	{Name: "contacts.create", DisplayName: "Create Contacts", Description: "Create new contacts", Category: "contacts"},
	{Name: "contacts.edit", DisplayName: "Edit Contacts", Description: "Edit contact information", Category: "contacts"},
	{Name: "contacts.delete", DisplayName: "Delete Contacts", Description: "Delete contacts", Category: "contacts"},
	{Name: "contacts.view_all", DisplayName: "View All Contacts", Description: "View all contacts in the system", Category: "contacts"},

	{Name: "deals.view", DisplayName: "View Deals", Description: "View deal list and details", Category: "deals"},
	{Name: "deals.create", DisplayName: "Create Deals", Description: "Create new deals", Category: "deals"},
	{Name: "deals.edit", DisplayName: "Edit Deals", Description: "Edit deal information", Category: "deals"},
	{Name: "deals.delete", DisplayName: "Delete Deals", Description: "Delete deals", Category: "deals"},
	{Name: "deals.view_all", DisplayName: "View All Deals", Description: "View all deals in the system", Category: "deals"},
	{Name: "deals.close", DisplayName: "Close Deals", Description: "Close and finalize deals", Category: "deals"},

	{Name: "activities.view", DisplayName: "View Activities", Description: "View activity list and details", Category: "activities"},
	{Name: "activities.create", DisplayName: "Create Activities", Description: "Create new activities", Category: "activities"},
	{Name: "activities.edit", DisplayName: "Edit Activities", Description: "Edit activity information", Category: "activities"},
	{Name: "activities.delete", DisplayName: "Delete Activities", Description: "Delete activities", Category: "activities"},
	{Name: "activities.view_all", DisplayName: "View All Activities", Description: "View all activities in the system", Category: "activities"},

	{Name: "reports.view", DisplayName: "View Reports", Description: "View reports and analytics", Category: "reports"},
	{Name: "reports.export", DisplayName: "Export Reports", Description: "Export reports to various formats", Category: "reports"},

	{Name: "settings.view", DisplayName: "View Settings", Description: "View system settings", Category: "settings"},
	{Name: "settings.edit", DisplayName: "Edit Settings", Description: "Edit system settings", Category: "settings"},

	{Name: "audit_logs.view", DisplayName: "View Audit Logs", Description: "View audit logs and activity history", Category: "audit"},

	{Name: "roles.view", DisplayName: "View Roles", Description: "View roles and permissions", Category: "roles"},
	{Name: "roles.create", DisplayName: "Create Roles", Description: "Create new roles", Category: "roles"},
	{Name: "roles.edit", DisplayName: "Edit Roles", Description: "Edit roles and permissions", Category: "roles"},
	{Name: "roles.delete", DisplayName: "Delete Roles", Description: "Delete roles", Category: "roles"},
}

var salesRepPermissions = set(
	"contacts.view", "contacts.create", "contacts.edit", "contacts.delete",
	"deals.view", "deals.create", "deals.edit", "deals.delete", "deals.close",
	"activities.view", "activities.create", "activities.edit", "activities.delete",
	"reports.view",
)

var userPermissions = set("contacts.view", "deals.view", "activities.view")

var adminExcluded = set("users.create", "users.edit", "users.delete", "users.manage_roles")

var managerCategories = set("contacts", "deals", "activities", "reports")

// Grants reports whether the baseline catalog grants p to role
func Grants(role string, p model.Permission) bool {
	switch role {
	case "super_admin":
		return true
	case "admin":
		return !adminExcluded[p.Name]
	case "manager":
		return managerCategories[p.Category]
	case "sales_rep":
		return salesRepPermissions[p.Name]
	case "user":
		return userPermissions[p.Name]
	}
	return false
}

func set(items ...string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, it := range items {
		m[it] = true
	}
	return m
}

// SeedCatalog inserts the baseline roles, permissions and grants. Rows that
// already exist are left alone, so it can run again after a partial attempt.
func SeedCatalog(ctx context.Context, db *gorm.DB) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		skip := clause.OnConflict{Columns: []clause.Column{{Name: "name"}}, DoNothing: true}

		roles := append([]model.Role(nil), Roles...)
		if err := tx.Clauses(skip).Create(&roles).Error; err != nil {
			return err
		}
		permissions := append([]model.Permission(nil), Permissions...)
		if err := tx.Clauses(skip).Create(&permissions).Error; err != nil {
			return err
		}

		// IDs of skipped rows are not returned, reload both catalogs
		var storedRoles []model.Role
		if err := tx.Find(&storedRoles).Error; err != nil {
			return err
		}
		var storedPermissions []model.Permission
		if err := tx.Find(&storedPermissions).Error; err != nil {
			return err
		}

		var grants []model.RolePermission
		for _, r := range storedRoles {
			for _, p := range storedPermissions {
				if Grants(r.Name, p) {
					grants = append(grants, model.RolePermission{RoleID: r.ID, PermissionID: p.ID})
				}
			}
		}
		if len(grants) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&grants, 100).Error
	})
}
