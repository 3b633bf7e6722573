package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"addrscan/internal/application"
	"addrscan/internal/config"
	"addrscan/internal/domain"

	"github.com/spf13/cobra"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type options struct {
	from    string
	to      string
	out     string
	workers int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "addrscan",
		Short:         "Extract sender addresses from captured JSON-RPC traffic",
		Version:       fmt.Sprintf("%s (%s, %s)", version, commit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&opts.from, "from", "", "Start of the time window (RFC3339, date or unix seconds); overrides MIN_TIMESTAMP")
	root.PersistentFlags().StringVar(&opts.to, "to", "", "End of the time window, inclusive; overrides MAX_TIMESTAMP")
	root.PersistentFlags().StringVar(&opts.out, "out", "", "Directory for CSV reports; overrides OUTPUT_DIR")
	root.PersistentFlags().IntVar(&opts.workers, "workers", 0, "Concurrent record workers per chain; overrides SCAN_WORKERS")

	root.AddCommand(newCountCmd(opts), newUniqueCmd(opts), newCollectCmd(), newExportCmd(opts))
	return root
}

func newCountCmd(opts *options) *cobra.Command {
	var chain string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count sender addresses on a single chain",
		Long: `Scan one chain's captured requests and count every sender address found.

Addresses are reported in first-seen order together with the number of times
each was found. Results go to <out>/<chain>_address_counts.csv and to every
configured result store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, domain.ScanModeCount, func(ctx context.Context, a *app) (domain.RunReport, error) {
				target, err := a.target(ctx, chain)
				if err != nil {
					return domain.RunReport{}, err
				}
				agg := application.NewAggregator()
				a.watch(agg)
				return a.scanner.RunCount(ctx, target, agg)
			})
		},
	}
	cmd.Flags().StringVar(&chain, "chain", "", "Chain to scan")
	_ = cmd.MarkFlagRequired("chain")
	return cmd
}

func newUniqueCmd(opts *options) *cobra.Command {
	var chains []string
	cmd := &cobra.Command{
		Use:   "unique",
		Short: "Collect unique sender addresses across chains",
		Long: `Scan several chains one after another and merge their sender addresses.

Counts are shared across chains, so an address seen on two chains is counted
on both. Defaults to every chain listed in CHAIN_RPC_URLS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, domain.ScanModeUnique, func(ctx context.Context, a *app) (domain.RunReport, error) {
				names := chains
				if len(names) == 0 {
					for _, endpoint := range a.cfg.Chains {
						names = append(names, endpoint.Name)
					}
				}
				if len(names) == 0 {
					return domain.RunReport{}, fmt.Errorf("no chains selected: pass --chains or set CHAIN_RPC_URLS")
				}
				targets := make([]application.ChainTarget, 0, len(names))
				for _, name := range names {
					target, err := a.target(ctx, strings.TrimSpace(name))
					if err != nil {
						return domain.RunReport{}, err
					}
					targets = append(targets, target)
				}
				combined := application.NewAggregator()
				a.watch(combined)
				return a.scanner.RunUnique(ctx, targets, combined)
			})
		},
	}
	cmd.Flags().StringSliceVar(&chains, "chains", nil, "Chains to scan, in order (default: all configured)")
	return cmd
}

type scanFunc func(ctx context.Context, a *app) (domain.RunReport, error)

func run(parent context.Context, opts *options, mode domain.ScanMode, scan scanFunc) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if err := applyOptions(&cfg, opts); err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := scan(ctx, a)
	a.metrics.OnRunFinished(mode, err)
	if err != nil {
		slog.Error("scan failed", "run_id", report.RunID, "err", err)
		return err
	}
	if err := a.sinks.SaveRun(ctx, report); err != nil {
		return fmt.Errorf("save run %s: %w", report.RunID, err)
	}
	slog.Info("scan finished",
		"run_id", report.RunID,
		"mode", report.Mode,
		"chains", len(report.Chains),
		"unique", len(report.Addresses),
	)
	return nil
}

func applyOptions(cfg *config.Config, opts *options) error {
	if opts.from != "" {
		from, err := config.ParseTime(opts.from)
		if err != nil {
			return fmt.Errorf("invalid --from: %w", err)
		}
		cfg.MinTimestamp = from
	}
	if opts.to != "" {
		to, err := config.ParseTime(opts.to)
		if err != nil {
			return fmt.Errorf("invalid --to: %w", err)
		}
		cfg.MaxTimestamp = &to
	}
	if cfg.MaxTimestamp != nil && cfg.MaxTimestamp.Before(cfg.MinTimestamp) {
		return fmt.Errorf("time window end is before start")
	}
	if opts.out != "" {
		cfg.OutputDir = opts.out
	}
	if opts.workers < 0 {
		return fmt.Errorf("invalid --workers: %d", opts.workers)
	}
	if opts.workers > 0 {
		cfg.ScanWorkers = opts.workers
	}
	return nil
}
