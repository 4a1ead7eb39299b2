package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"crm-service/pkg/config"
	"crm-service/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:   "crm-service",
	Short: "Multi-tenant CRM service",
	Long: `crm-service runs the CRM API. Every tenant lives in its own database;
operators create and manage tenants through the control plane.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)

	operatorCmd.AddCommand(operatorCreateCmd)
	rootCmd.AddCommand(operatorCmd)

	tenantCmd.AddCommand(tenantProvisionCmd)
	tenantCmd.AddCommand(tenantListCmd)
	rootCmd.AddCommand(tenantCmd)
}

// setup loads the configuration, initializes logging and builds the app.
// The returned context is cancelled on SIGINT or SIGTERM.
func setup(cmd *cobra.Command) (context.Context, *app, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := logger.InitLogger(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()
	log.Info("Configuration loaded", cfg.LogConfig()...)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}

	cleanup := func() {
		stop()
		if err := a.Close(); err != nil {
			log.Warn("Failed to release resources", zap.Error(err))
		}
		_ = log.Sync()
	}
	return ctx, a, cleanup, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
