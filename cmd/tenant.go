package main

import (
	"fmt"
	"text/tabwriter"

	"crm-service/internal/middleware"
	"crm-service/internal/provisioning"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var provisionOpts struct {
	Name          string `json:"name" validate:"required,max=255"`
	Description   string `json:"description" validate:"max=1000"`
	AdminName     string `json:"admin_name" validate:"required,max=255"`
	AdminEmail    string `json:"admin_email" validate:"required,email,max=255"`
	AdminPassword string `json:"admin_password" validate:"required,min=8"`
	DedicatedUser bool   `json:"create_db_user"`
	SeedDemoData  bool   `json:"seed_demo_data"`
}

var tenantProvisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create and provision a tenant synchronously",
	Long: `Creates a tenant and provisions its database before returning. On failure
the database and the tenant record are removed.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := middleware.NewValidator().Validate(&provisionOpts); err != nil {
			return err
		}

		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := a.migrate(); err != nil {
			return err
		}

		tenant, err := a.workflow.ProvisionSync(ctx, provisioning.Request{
			Name:          provisionOpts.Name,
			Description:   provisionOpts.Description,
			AdminName:     provisionOpts.AdminName,
			AdminEmail:    provisionOpts.AdminEmail,
			AdminPassword: provisionOpts.AdminPassword,
			DedicatedUser: provisionOpts.DedicatedUser,
			SeedDemoData:  provisionOpts.SeedDemoData,
		})
		if err != nil {
			a.log.Error("Tenant provisioning failed", zap.String("tenant", provisionOpts.Name), zap.Error(err))
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Tenant %s (id %d, slug %s) is %s, database %s\n",
			tenant.Name, tenant.ID, tenant.Slug, tenant.Status, tenant.DBName)
		return nil
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants and their status",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		tenants, err := a.tenants.List(ctx)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSLUG\tSTATUS\tDATABASE\tATTEMPTS")
		for _, t := range tenants {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Slug, t.Status, t.DBName, t.FailedAttempts)
		}
		return w.Flush()
	},
}

func init() {
	f := tenantProvisionCmd.Flags()
	f.StringVar(&provisionOpts.Name, "name", "", "tenant name")
	f.StringVar(&provisionOpts.Description, "description", "", "tenant description")
	f.StringVar(&provisionOpts.AdminName, "admin-name", "", "name of the tenant administrator")
	f.StringVar(&provisionOpts.AdminEmail, "admin-email", "", "email of the tenant administrator")
	f.StringVar(&provisionOpts.AdminPassword, "admin-password", "", "password of the tenant administrator (min 8 characters)")
	f.BoolVar(&provisionOpts.DedicatedUser, "create-db-user", false, "create a dedicated database login for the tenant")
	f.BoolVar(&provisionOpts.SeedDemoData, "seed-demo-data", true, "seed demo users, contacts and deals")
}
