package application

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"addrscan/internal/domain"
	"addrscan/internal/streaming"
)

// RunAssembler rebuilds run reports from published result messages. Messages
// of one run may arrive in any order and more than once.
type RunAssembler struct {
	mu      sync.Mutex
	pending map[string]*pendingRun
	done    map[string]struct{}
}

type pendingRun struct {
	report     domain.RunReport
	addresses  map[int]string
	chains     map[int]domain.ChainResult
	closed     bool
	total      int
	chainCount int
}

func NewRunAssembler() *RunAssembler {
	return &RunAssembler{
		pending: make(map[string]*pendingRun),
		done:    make(map[string]struct{}),
	}
}

// Apply records msg and returns the run's report once every address and chain
// announced by its run message has arrived. Messages for a run that was
// already returned are ignored.
func (a *RunAssembler) Apply(msg streaming.Message) (domain.RunReport, bool, error) {
	slog.Debug("collect message",
		"type", msg.Type,
		"run_id", msg.RunID,
		"chain", msg.Chain,
		"position", msg.Position,
	)
	if msg.RunID == "" {
		return domain.RunReport{}, false, errors.New("run id is required")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.done[msg.RunID]; ok {
		return domain.RunReport{}, false, nil
	}
	run, ok := a.pending[msg.RunID]
	if !ok {
		run = &pendingRun{
			report: domain.RunReport{
				RunID:  msg.RunID,
				Mode:   domain.ScanMode(msg.Mode),
				Counts: make(map[string]uint64),
			},
			addresses: make(map[int]string),
			chains:    make(map[int]domain.ChainResult),
		}
	}

	switch msg.Type {
	case streaming.MessageTypeAddress:
		address := domain.NormalizeAddress(msg.Address)
		if address == "" || msg.Position < 0 {
			return domain.RunReport{}, false, fmt.Errorf("run %s: invalid address message", msg.RunID)
		}
		run.addresses[msg.Position] = address
		run.report.Counts[address] = msg.Count
	case streaming.MessageTypeChain:
		if msg.Chain == "" || msg.Position < 0 {
			return domain.RunReport{}, false, fmt.Errorf("run %s: invalid chain message", msg.RunID)
		}
		run.chains[msg.Position] = domain.ChainResult{
			Chain:    msg.Chain,
			Records:  msg.Records,
			Findings: msg.Findings,
			Unique:   msg.Unique,
		}
	case streaming.MessageTypeRun:
		run.closed = true
		run.total = msg.Total
		run.chainCount = msg.ChainCount
		if msg.StartedAt != nil {
			run.report.StartedAt = *msg.StartedAt
		}
		if msg.WindowFrom != nil {
			run.report.From = *msg.WindowFrom
		}
		if msg.WindowTo != nil {
			to := *msg.WindowTo
			run.report.To = &to
		}
	default:
		return domain.RunReport{}, false, fmt.Errorf("run %s: unknown message type %q", msg.RunID, msg.Type)
	}
	a.pending[msg.RunID] = run

	if !run.closed || len(run.addresses) < run.total || len(run.chains) < run.chainCount {
		return domain.RunReport{}, false, nil
	}
	report, err := run.build()
	if err != nil {
		return domain.RunReport{}, false, err
	}
	delete(a.pending, msg.RunID)
	a.done[msg.RunID] = struct{}{}
	return report, true, nil
}

// Pending reports how many runs are still waiting for messages.
func (a *RunAssembler) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

func (r *pendingRun) build() (domain.RunReport, error) {
	report := r.report
	report.Addresses = make([]string, 0, r.total)
	for i := 0; i < r.total; i++ {
		address, ok := r.addresses[i]
		if !ok {
			return domain.RunReport{}, fmt.Errorf("run %s: address position %d missing", report.RunID, i)
		}
		report.Addresses = append(report.Addresses, address)
	}
	report.Chains = make([]domain.ChainResult, 0, r.chainCount)
	for i := 0; i < r.chainCount; i++ {
		chain, ok := r.chains[i]
		if !ok {
			return domain.RunReport{}, fmt.Errorf("run %s: chain position %d missing", report.RunID, i)
		}
		report.Chains = append(report.Chains, chain)
	}
	return report, nil
}
