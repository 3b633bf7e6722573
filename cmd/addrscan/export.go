package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"addrscan/internal/config"
	"addrscan/internal/infrastructure/report"
	"addrscan/internal/infrastructure/sqlite"

	"github.com/spf13/cobra"
)

func newExportCmd(opts *options) *cobra.Command {
	var runID string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a stored run back out as CSV reports",
		Long: `Read a run from RESULTS_SQLITE_PATH and write the same CSV files a scan
would have written into --out.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, runID)
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "Run id to export")
	_ = cmd.MarkFlagRequired("run")
	return cmd
}

func runExport(ctx context.Context, opts *options, runID string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if opts.out != "" {
		cfg.OutputDir = opts.out
	}
	if cfg.ResultsSQLitePath == "" {
		return errors.New("RESULTS_SQLITE_PATH is required for export")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	repo, err := sqlite.NewRepository(cfg.ResultsSQLitePath)
	if err != nil {
		return fmt.Errorf("sqlite error: %w", err)
	}
	defer repo.Close()

	return exportRun(ctx, repo, cfg.OutputDir, runID)
}

func exportRun(ctx context.Context, repo *sqlite.Repository, dir, runID string) error {
	run, err := repo.LoadRun(ctx, runID)
	if err != nil {
		return err
	}
	writer, err := report.NewWriter(dir)
	if err != nil {
		return err
	}
	if err := writer.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("export run %s: %w", runID, err)
	}
	slog.Info("run exported", "run_id", runID, "dir", dir, "unique", len(run.Addresses))
	return nil
}
