package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"crm-service/internal/middleware"
	"crm-service/pkg/config"
	"crm-service/pkg/logger"
	"crm-service/prometheus"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var serveOpts struct {
	embeddedWorker bool
	concurrency    int
	shutdown       time.Duration
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Runs the HTTP API. With the in-memory queue the provisioning worker always
runs inside the server process; with redis it only does when --worker is set.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&serveOpts.embeddedWorker, "worker", false, "also consume the redis queue in this process")
	serveCmd.Flags().IntVar(&serveOpts.concurrency, "concurrency", 1, "embedded worker concurrency")
	serveCmd.Flags().DurationVar(&serveOpts.shutdown, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, a, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()
	log := a.log

	if err := a.migrate(); err != nil {
		return err
	}
	if err := a.bootstrapOperator(ctx); err != nil {
		log.Error("Failed to create bootstrap operator", zap.Error(err))
		return err
	}

	e := newEcho(log)
	a.handlers().Register(e)

	g, ctx := errgroup.WithContext(ctx)
	if a.cfg.Queue.Driver == config.QueueMemory || serveOpts.embeddedWorker {
		worker := a.newWorker(serveOpts.concurrency)
		g.Go(func() error { return worker.Run(ctx) })
	}

	g.Go(func() error {
		port := a.cfg.Server.Port
		log.Info("Starting server", zap.String("port", port))
		if err := e.Start(":" + port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serveOpts.shutdown)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
		return err
	}
	log.Info("Server stopped")
	return nil
}

func newEcho(log *zap.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Validator = middleware.NewValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler()

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware)
	e.Use(logger.Middleware(log))
	e.Use(prometheus.MetricsMiddleware())
	return e
}
