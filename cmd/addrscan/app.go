package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"addrscan/internal/application"
	"addrscan/internal/config"
	"addrscan/internal/infrastructure/cache"
	"addrscan/internal/infrastructure/ethrpc"
	"addrscan/internal/infrastructure/kafka"
	"addrscan/internal/infrastructure/logging"
	"addrscan/internal/infrastructure/mongodb"
	"addrscan/internal/infrastructure/mysql"
	"addrscan/internal/infrastructure/report"
	"addrscan/internal/infrastructure/sqlite"
	"addrscan/internal/infrastructure/storage"
	"addrscan/internal/infrastructure/telemetry"
	"addrscan/internal/interfaces/httpapi"

	"github.com/redis/go-redis/v9"
)

// app holds the wired dependencies of one CLI invocation.
type app struct {
	cfg      config.Config
	source   *mongodb.Source
	scanner  *application.Scanner
	metrics  *httpapi.Metrics
	server   *httpapi.Server
	sinks    *storage.Sinks
	redis    *redis.Client
	clients  []*ethrpc.Client
	cleanups []func()
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{cfg: cfg, sinks: storage.NewSinks()}
	ready := false
	defer func() {
		if !ready {
			a.close()
		}
	}()

	cleanups, err := initRuntime(ctx, cfg)
	a.cleanups = append(a.cleanups, cleanups...)
	if err != nil {
		return nil, err
	}

	a.source, err = mongodb.NewSource(ctx, mongodb.Config{
		URI:        cfg.MongoURI,
		Database:   cfg.MongoDatabase,
		Collection: cfg.MongoCollection,
		ChainField: cfg.ChainField,
		TimeField:  cfg.TimeField,
	})
	if err != nil {
		return nil, fmt.Errorf("mongo error: %w", err)
	}
	a.cleanups = append(a.cleanups, func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.source.Close(closeCtx)
	})

	a.metrics = httpapi.NewMetrics()
	a.scanner, err = application.NewScanner(a.source, a.metrics, application.ScannerConfig{
		From:           cfg.MinTimestamp,
		To:             cfg.MaxTimestamp,
		Workers:        cfg.ScanWorkers,
		ResolveTimeout: cfg.ResolveTimeout,
	})
	if err != nil {
		return nil, err
	}

	if client, err := cache.NewClient(cache.Config{Addr: cfg.RedisAddr}); err != nil {
		slog.Warn("redis cache disabled", "err", err)
	} else if client != nil {
		a.redis = client
		a.cleanups = append(a.cleanups, func() { _ = client.Close() })
	}

	if err := a.openSinks(ctx); err != nil {
		return nil, err
	}
	a.cleanups = append(a.cleanups, func() {
		if err := a.sinks.Close(); err != nil {
			slog.Warn("sink close error", "err", err)
		}
	})

	if cfg.HTTPAddr != "" {
		a.server, err = httpapi.NewServer(a.source, a.metrics, httpapi.BuildInfo{
			Version:   version,
			Commit:    commit,
			BuildTime: buildTime,
		})
		if err != nil {
			return nil, fmt.Errorf("http server error: %w", err)
		}
		serverCtx, stop := context.WithCancel(ctx)
		a.cleanups = append(a.cleanups, stop)
		go func() {
			slog.Info("http server listening", "addr", cfg.HTTPAddr)
			if err := a.server.ListenAndServe(serverCtx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("http server error", "err", err)
			}
		}()
	}
	ready = true
	return a, nil
}

func (a *app) openSinks(ctx context.Context) error {
	writer, err := report.NewWriter(a.cfg.OutputDir)
	if err != nil {
		return err
	}
	a.sinks.Add("csv", writer)

	if err := openResultStores(a.cfg, a.sinks); err != nil {
		return err
	}
	if len(a.cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.ProducerConfig{
			Brokers:     a.cfg.KafkaBrokers,
			TopicPrefix: a.cfg.KafkaTopicPrefix,
		})
		if err != nil {
			return fmt.Errorf("kafka error: %w", err)
		}
		a.sinks.Add("kafka", producer)
	}
	return nil
}

// target builds the resolver for a chain. Chains without an RPC endpoint are
// still scanned; rules that need a lookup then find nothing.
func (a *app) target(ctx context.Context, chain string) (application.ChainTarget, error) {
	if chain == "" {
		return application.ChainTarget{}, errors.New("chain name is required")
	}
	endpoint, ok := a.cfg.Chain(chain)
	if !ok {
		slog.Warn("no rpc endpoint configured, hash lookups disabled", "chain", chain)
		return application.ChainTarget{Name: chain}, nil
	}

	client, err := ethrpc.NewClient(ctx, ethrpc.Config{
		Chain:     chain,
		URL:       endpoint.RPCURL,
		RateLimit: a.cfg.RPCRateLimit,
	})
	if err != nil {
		return application.ChainTarget{}, err
	}
	a.clients = append(a.clients, client)

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return application.ChainTarget{}, fmt.Errorf("rpc endpoint for %s: %w", chain, err)
	}
	slog.Info("rpc endpoint ready", "chain", client.Chain(), "chain_id", chainID)

	resolver, err := cache.NewCachedResolver(client, a.redis, client.Chain(), a.cfg.ResolverCacheTTL)
	if err != nil {
		return application.ChainTarget{}, err
	}
	return application.ChainTarget{Name: chain, Resolver: resolver}, nil
}

func (a *app) watch(agg *application.Aggregator) {
	if a.server != nil {
		a.server.SetSnapshotter(agg)
	}
}

func (a *app) close() {
	for _, client := range a.clients {
		client.Close()
	}
	runCleanups(a.cleanups)
}

// initRuntime sets up logging and tracing. The returned cleanups run in
// reverse order.
func initRuntime(ctx context.Context, cfg config.Config) ([]func(), error) {
	var cleanups []func()
	logCloser, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("logging init: %w", err)
	}
	cleanups = append(cleanups, func() { _ = logCloser.Close() })

	shutdownTracing, err := telemetry.InitTracer(ctx, "addrscan", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing disabled", "err", err)
		return cleanups, nil
	}
	cleanups = append(cleanups, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	})
	return cleanups, nil
}

// openResultStores adds the configured SQL stores to sinks.
func openResultStores(cfg config.Config, sinks *storage.Sinks) error {
	if cfg.ResultsSQLitePath != "" {
		repo, err := sqlite.NewRepository(cfg.ResultsSQLitePath)
		if err != nil {
			return fmt.Errorf("sqlite error: %w", err)
		}
		sinks.Add("sqlite", repo)
	}
	if cfg.ResultsMySQLDSN != "" {
		repo, err := mysql.NewRepository(cfg.ResultsMySQLDSN)
		if err != nil {
			return fmt.Errorf("mysql error: %w", err)
		}
		sinks.Add("mysql", repo)
	}
	return nil
}

func runCleanups(cleanups []func()) {
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}
