package provisioning

import (
	"context"
	"time"

	"crm-service/internal/model"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Demo accounts created by SeedDemoData
const (
	DemoManagerEmail = "manager@tenant.com"
	DemoSalesEmail   = "sales@tenant.com"
	DemoPassword     = "password123"
)

// SeedDemoData creates a manager, a sales rep, three contacts and three
// deals. It does nothing when the demo manager already exists.
func SeedDemoData(ctx context.Context, db *gorm.DB) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(DemoPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.User{}).Where("email = ?", DemoManagerEmail).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}

		manager := model.User{Name: "Manager User", Email: DemoManagerEmail, Password: string(hashed)}
		sales := model.User{Name: "Sales Representative", Email: DemoSalesEmail, Password: string(hashed)}
		if err := tx.Create(&manager).Error; err != nil {
			return err
		}
		if err := tx.Create(&sales).Error; err != nil {
			return err
		}

		if err := assignRoles(tx, map[uint]string{manager.ID: "manager", sales.ID: "sales_rep"}); err != nil {
			return err
		}

		contacts := []model.Contact{
			{UserID: manager.ID, Name: "Alice Johnson", Email: "alice@example.com", Phone: "+1234567890", Company: "Tech Corp", Status: "active"},
			{UserID: sales.ID, Name: "Bob Smith", Email: "bob@example.com", Phone: "+1234567891", Company: "Business Inc", Status: "lead"},
			{UserID: manager.ID, Name: "Carol Davis", Email: "carol@example.com", Phone: "+1234567892", Company: "Enterprise Ltd", Status: "active"},
		}
		if err := tx.Create(&contacts).Error; err != nil {
			return err
		}

		now := time.Now()
		days := func(n int) *time.Time {
			t := now.AddDate(0, 0, n)
			return &t
		}
		deals := []model.Deal{
			{UserID: manager.ID, ContactID: &contacts[0].ID, Title: "Enterprise Software License", Description: "Annual license for enterprise software package", Value: 50000, Status: "open", Probability: 75, ExpectedCloseDate: days(30)},
			{UserID: sales.ID, ContactID: &contacts[1].ID, Title: "Consulting Services", Description: "6-month consulting engagement", Value: 25000, Status: "won", Probability: 100, ExpectedCloseDate: days(-5)},
			{UserID: manager.ID, ContactID: &contacts[2].ID, Title: "Cloud Migration Project", Description: "Complete cloud infrastructure migration", Value: 100000, Status: "open", Probability: 50, ExpectedCloseDate: days(60)},
		}
		return tx.Create(&deals).Error
	})
}

func assignRoles(tx *gorm.DB, assignments map[uint]string) error {
	for userID, roleName := range assignments {
		var role model.Role
		if err := tx.Where("name = ?", roleName).First(&role).Error; err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&model.UserRole{UserID: userID, RoleID: role.ID}).Error; err != nil {
			return err
		}
	}
	return nil
}
