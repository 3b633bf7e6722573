package application

import (
	"context"
	"errors"
	"time"

	"addrscan/internal/domain"

	"github.com/google/uuid"
)

// ChainTarget pairs a chain with the resolver for its RPC endpoint.
// Transaction hashes only resolve on their own chain.
type ChainTarget struct {
	Name     string
	Resolver TransactionResolver
}

type ReportSink interface {
	SaveRun(ctx context.Context, report domain.RunReport) error
}

// RunCount scans a single chain into agg. The report lists addresses in
// first-seen order.
func (s *Scanner) RunCount(ctx context.Context, target ChainTarget, agg *Aggregator) (domain.RunReport, error) {
	if agg == nil {
		return domain.RunReport{}, errors.New("aggregator is required")
	}
	report := s.newReport(domain.ScanModeCount)
	result, err := s.ScanChain(ctx, target.Name, target.Resolver, agg)
	report.Chains = []domain.ChainResult{result}
	if err != nil {
		return report, err
	}
	report.Addresses, report.Counts = agg.Snapshot()
	return report, nil
}

// RunUnique scans every chain with its own unique set while one counts
// mapping is shared across all of them; each chain's set is merged into
// combined once the chain is done.
func (s *Scanner) RunUnique(ctx context.Context, targets []ChainTarget, combined *Aggregator) (domain.RunReport, error) {
	if combined == nil {
		return domain.RunReport{}, errors.New("aggregator is required")
	}
	report := s.newReport(domain.ScanModeUnique)
	for _, target := range targets {
		chainAgg := NewAggregatorWithCounts(combined.Counts())
		result, err := s.ScanChain(ctx, target.Name, target.Resolver, chainAgg)
		report.Chains = append(report.Chains, result)
		if err != nil {
			return report, err
		}
		combined.Merge(chainAgg.UniqueSet())
	}
	report.Addresses, report.Counts = combined.Snapshot()
	return report, nil
}

func (s *Scanner) newReport(mode domain.ScanMode) domain.RunReport {
	return domain.RunReport{
		RunID:     uuid.NewString(),
		Mode:      mode,
		StartedAt: time.Now().UTC(),
		From:      s.cfg.From,
		To:        s.cfg.To,
	}
}
