package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"addrscan/internal/application"
	"addrscan/internal/config"
	"addrscan/internal/infrastructure/kafka"
	"addrscan/internal/infrastructure/storage"
	"addrscan/internal/streaming"

	"github.com/spf13/cobra"
)

func newCollectCmd() *cobra.Command {
	var topics []string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Store scan results published to Kafka",
		Long: `Consume the result messages other addrscan runs published and store each
run in the configured SQLite and MySQL result stores once all of its messages
have arrived.

Defaults to <prefix>-all plus <prefix>-<chain> for every chain in CHAIN_RPC_URLS.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollect(cmd.Context(), topics)
		},
	}
	cmd.Flags().StringSliceVar(&topics, "topics", nil, "Topics to consume (default: derived from KAFKA_TOPIC_PREFIX)")
	return cmd
}

func runCollect(parent context.Context, topics []string) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return errors.New("KAFKA_BROKERS is required for collect")
	}
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cleanups, err := initRuntime(ctx, cfg)
	defer runCleanups(cleanups)
	if err != nil {
		return err
	}

	stores := storage.NewSinks()
	defer func() {
		if err := stores.Close(); err != nil {
			slog.Warn("store close error", "err", err)
		}
	}()
	if err := openResultStores(cfg, stores); err != nil {
		return err
	}
	if stores.Len() == 0 {
		return errors.New("collect needs RESULTS_SQLITE_PATH or RESULTS_MYSQL_DSN")
	}

	consumer, err := kafka.NewConsumer(kafka.ConsumerConfig{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  collectTopics(cfg, topics),
	})
	if err != nil {
		return fmt.Errorf("kafka error: %w", err)
	}
	defer consumer.Close()

	assembler := application.NewRunAssembler()
	slog.Info("collect started", "group", cfg.KafkaGroupID, "stores", stores.Len())
	err = consumer.Consume(ctx, collectHandler(assembler, stores))
	slog.Info("collect stopped", "pending_runs", assembler.Pending())
	return err
}

// collectHandler stores every run the assembler completes. Malformed messages
// are dropped; store failures stop the consumer.
func collectHandler(assembler *application.RunAssembler, stores application.ReportSink) kafka.MessageHandler {
	return func(ctx context.Context, msg streaming.Message) error {
		report, done, err := assembler.Apply(msg)
		if err != nil {
			slog.Warn("drop result message", "run_id", msg.RunID, "type", msg.Type, "err", err)
			return nil
		}
		if !done {
			return nil
		}
		if err := stores.SaveRun(ctx, report); err != nil {
			return fmt.Errorf("save run %s: %w", report.RunID, err)
		}
		slog.Info("run collected",
			"run_id", report.RunID,
			"mode", report.Mode,
			"chains", len(report.Chains),
			"unique", len(report.Addresses),
		)
		return nil
	}
}

func collectTopics(cfg config.Config, topics []string) []string {
	if len(topics) > 0 {
		return topics
	}
	out := []string{cfg.KafkaTopicPrefix + "-all"}
	for _, chain := range cfg.Chains {
		out = append(out, cfg.KafkaTopicPrefix+"-"+chain.Name)
	}
	return out
}
