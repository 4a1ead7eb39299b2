package main

import (
	"fmt"

	"crm-service/internal/model"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var migrateTenants bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the control-plane schema",
	Long: `Applies the control-plane schema. With --tenants the tenant schema is also
applied to the database of every active tenant.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, a, cleanup, err := setup(cmd)
		if err != nil {
			return err
		}
		defer cleanup()

		if err := a.migrate(); err != nil {
			return err
		}
		a.log.Info("Control plane migrated")
		if !migrateTenants {
			return nil
		}

		tenants, err := a.tenants.List(ctx)
		if err != nil {
			return err
		}
		var errs error
		migrated := 0
		for i := range tenants {
			t := &tenants[i]
			if !t.IsUsable() {
				continue
			}
			db, err := a.registry.Connection(ctx, t)
			if err == nil {
				err = model.ApplyTenantSchema(ctx, db)
			}
			if err != nil {
				a.log.Error("Failed to migrate tenant", zap.Uint("tenant_id", t.ID), zap.String("tenant", t.Name), zap.Error(err))
				errs = multierr.Append(errs, fmt.Errorf("tenant %s: %w", t.Slug, err))
				continue
			}
			migrated++
		}
		a.log.Info("Tenant databases migrated", zap.Int("migrated", migrated), zap.Int("tenants", len(tenants)))
		return errs
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateTenants, "tenants", false, "also migrate every active tenant database")
}
