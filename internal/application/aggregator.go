package application

import (
	"sync"

	"addrscan/internal/domain"
)

// UniqueSet is a union-only set of normalized addresses that remembers
// insertion order.
type UniqueSet struct {
	mu    sync.RWMutex
	order []string
	index map[string]struct{}
}

func NewUniqueSet() *UniqueSet {
	return &UniqueSet{index: make(map[string]struct{})}
}

// Add inserts the address and reports whether it was new.
func (s *UniqueSet) Add(address string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.index[address]; ok {
		return false
	}
	s.index[address] = struct{}{}
	s.order = append(s.order, address)
	return true
}

func (s *UniqueSet) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Addresses returns a copy of the set in insertion order.
func (s *UniqueSet) Addresses() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Merge adds every address of other. Merging the same set again is a no-op.
func (s *UniqueSet) Merge(other *UniqueSet) {
	if other == nil || other == s {
		return
	}
	for _, address := range other.Addresses() {
		s.Add(address)
	}
}

// Counts maps normalized addresses to occurrence counts. Counts only grow.
type Counts struct {
	mu     sync.Mutex
	values map[string]uint64
}

func NewCounts() *Counts {
	return &Counts{values: make(map[string]uint64)}
}

func (c *Counts) Increment(address string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[address]++
	return c.values[address]
}

func (c *Counts) Get(address string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[address]
}

func (c *Counts) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.values)
}

func (c *Counts) Snapshot() map[string]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]uint64, len(c.values))
	for address, count := range c.values {
		out[address] = count
	}
	return out
}

// Aggregator folds findings into a unique set and a counts mapping.
// Several aggregators may share one Counts so that counts are tracked
// across chains while each chain keeps its own set.
type Aggregator struct {
	set    *UniqueSet
	counts *Counts
}

func NewAggregator() *Aggregator {
	return NewAggregatorWithCounts(NewCounts())
}

func NewAggregatorWithCounts(counts *Counts) *Aggregator {
	if counts == nil {
		counts = NewCounts()
	}
	return &Aggregator{set: NewUniqueSet(), counts: counts}
}

func (a *Aggregator) AddFindings(findings []domain.Finding) {
	for _, finding := range findings {
		address := domain.NormalizeAddress(finding.Address)
		if address == "" {
			continue
		}
		a.set.Add(address)
		a.counts.Increment(address)
	}
}

func (a *Aggregator) Merge(other *UniqueSet) {
	a.set.Merge(other)
}

func (a *Aggregator) UniqueSet() *UniqueSet {
	return a.set
}

func (a *Aggregator) Counts() *Counts {
	return a.counts
}

// Snapshot returns every unique address exactly once, in insertion order,
// together with a copy of the counts.
func (a *Aggregator) Snapshot() ([]string, map[string]uint64) {
	return a.set.Addresses(), a.counts.Snapshot()
}
