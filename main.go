package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/storelink/dpdbridge/internal/metasync"
	"github.com/storelink/dpdbridge/internal/server"
	"github.com/storelink/dpdbridge/internal/store"
)

var version = "0.0.1"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "dpdbridge",
	Short:   "DPD Connect label bridge - shipment booking and label generation service",
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	RunE:  runServe,
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync carrier countries and shipping products",
	RunE:  runSync,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE:  runMigrate,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if problems := cfg.ValidateSender(); len(problems) > 0 {
		for field, problem := range problems {
			logger.Warn("Sender configuration problem",
				zap.String("field", field),
				zap.String("problem", problem),
			)
		}
	}

	tracerShutdown, err := initTracer(ctx, cfg)
	if err != nil {
		logger.Warn("Failed to initialize tracer", zap.Error(err))
	} else {
		defer tracerShutdown(ctx)
	}

	deps, err := buildDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.db.Close()

	logger.Info("Starting DPD label bridge",
		zap.Int("port", cfg.Port),
		zap.String("version", cfg.Version),
	)

	srv := server.New(
		server.Config{Port: cfg.Port},
		deps.orchestrator,
		deps.labels,
		deps.batches,
		deps.orders,
		logger,
		deps.metrics,
	)
	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	deps, err := buildDependencies(cfg, logger)
	if err != nil {
		return err
	}
	defer deps.db.Close()

	syncer := metasync.New(deps.carrier, store.NewMetaStore(deps.db), logger)
	if err := syncer.Run(ctx); err != nil {
		return fmt.Errorf("metadata sync failed: %w", err)
	}
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := initLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := store.Connect(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(db, cfg.MigrationsPath); err != nil {
		return err
	}
	logger.Info("Migrations applied")
	return nil
}
