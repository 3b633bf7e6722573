package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"addrscan/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

// RecordFilter selects the records of one chain within a time window.
type RecordFilter struct {
	Chain string
	From  time.Time
	To    *time.Time
}

type RecordSource interface {
	// ForEachRecord calls fn for every matching record in input order and
	// stops at the first error fn returns.
	ForEachRecord(ctx context.Context, filter RecordFilter, fn func(domain.Record) error) error
}

type ScanObserver interface {
	OnRecord(chain string)
	OnFindings(chain string, findings []domain.Finding)
	OnResolveFailure(chain string)
}

type ScannerConfig struct {
	From           time.Time
	To             *time.Time
	Workers        int
	ResolveTimeout time.Duration
}

type Scanner struct {
	source    RecordSource
	extractor *Extractor
	observer  ScanObserver
	cfg       ScannerConfig
}

func NewScanner(source RecordSource, observer ScanObserver, cfg ScannerConfig) (*Scanner, error) {
	if source == nil {
		return nil, errors.New("record source is required")
	}
	if cfg.To != nil && cfg.To.Before(cfg.From) {
		return nil, fmt.Errorf("time window end %s is before start %s", cfg.To.Format(time.RFC3339), cfg.From.Format(time.RFC3339))
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scanner{
		source:    source,
		extractor: NewExtractor(ExtractorConfig{ResolveTimeout: cfg.ResolveTimeout}),
		observer:  observer,
		cfg:       cfg,
	}, nil
}

// ScanChain feeds every record of the chain through the extractor into agg.
// With one worker records are processed strictly in input order; with more,
// extraction fans out but the resulting counts are identical.
func (s *Scanner) ScanChain(ctx context.Context, chain string, resolver TransactionResolver, agg *Aggregator) (domain.ChainResult, error) {
	if agg == nil {
		return domain.ChainResult{}, errors.New("aggregator is required")
	}
	ctx, span := otel.Tracer("addrscan/scan").Start(ctx, "scan.chain")
	defer span.End()
	span.SetAttributes(
		attribute.String("chain", chain),
		attribute.Int("workers", s.cfg.Workers),
	)

	resolver = s.observeResolver(chain, resolver)
	start := time.Now()
	var records, findings atomic.Uint64
	process := func(record domain.Record) {
		found := s.extractor.Extract(ctx, record, resolver)
		agg.AddFindings(found)
		records.Add(1)
		findings.Add(uint64(len(found)))
		if s.observer != nil {
			s.observer.OnRecord(chain)
			if len(found) > 0 {
				s.observer.OnFindings(chain, found)
			}
		}
	}

	filter := RecordFilter{Chain: chain, From: s.cfg.From, To: s.cfg.To}
	var err error
	if s.cfg.Workers == 1 {
		err = s.source.ForEachRecord(ctx, filter, func(record domain.Record) error {
			process(record)
			return nil
		})
	} else {
		var group errgroup.Group
		group.SetLimit(s.cfg.Workers)
		err = s.source.ForEachRecord(ctx, filter, func(record domain.Record) error {
			group.Go(func() error {
				process(record)
				return nil
			})
			return nil
		})
		_ = group.Wait()
	}

	result := domain.ChainResult{
		Chain:    chain,
		Records:  records.Load(),
		Findings: findings.Load(),
		Unique:   agg.UniqueSet().Len(),
	}
	span.SetAttributes(
		attribute.Int64("records", int64(result.Records)),
		attribute.Int64("findings", int64(result.Findings)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return result, fmt.Errorf("scan chain %s: %w", chain, err)
	}

	slog.Info("chain scanned",
		"chain", chain,
		"records", result.Records,
		"findings", result.Findings,
		"unique", result.Unique,
		"duration", time.Since(start),
	)
	return result, nil
}

func (s *Scanner) observeResolver(chain string, resolver TransactionResolver) TransactionResolver {
	if resolver == nil || s.observer == nil {
		return resolver
	}
	return ResolverFunc(func(ctx context.Context, hash string) (domain.Transaction, error) {
		tx, err := resolver.TransactionByHash(ctx, hash)
		if err != nil || tx.From == "" {
			s.observer.OnResolveFailure(chain)
		}
		return tx, err
	})
}
