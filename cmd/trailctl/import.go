package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/trailpay/platform/internal/infra"
	"github.com/trailpay/platform/internal/provider"
	"github.com/trailpay/platform/internal/repository"
	"github.com/trailpay/platform/internal/service"
)

var importMigrate bool

func newImportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Publish a trail file to the database",
		Args:  cobra.NoArgs,
		RunE:  runImportCmd,
	}
	cmd.Flags().StringVar(&trailFile, "file", "", "trail TOML file")
	cmd.Flags().BoolVar(&importMigrate, "migrate", false, "apply pending migrations first")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runImportCmd(cmd *cobra.Command, _ []string) error {
	logger := newLogger()
	ctx := cmd.Context()

	trail, err := provider.LoadTrailFile(trailFile)
	if err != nil {
		return err
	}

	cfg, err := infra.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if importMigrate {
		if err := infra.RunMigrations(cfg.DSN(), infra.MigrationsDir(cfg.MigrationsDir), logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}
	pool, err := infra.NewPostgresPool(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()

	// The file's creator-id is authoritative here; no ownership check.
	svc := service.NewTrailService(repository.NewTxRunner(pool), repository.NewTrailRepository(), nil, logger)
	if err := svc.Publish(ctx, uuid.Nil, trail); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s (%d steps)\n", trail.ID, trail.StepCount())
	return nil
}
