package domain

import "time"

// ScanMode selects how chains are aggregated in one run.
type ScanMode string

const (
	ScanModeCount  ScanMode = "count"
	ScanModeUnique ScanMode = "unique"
)

// ChainResult summarises one chain's scan.
type ChainResult struct {
	Chain    string
	Records  uint64
	Findings uint64
	Unique   int
}

// RunReport is the final state of a run handed to report sinks.
type RunReport struct {
	RunID     string
	Mode      ScanMode
	StartedAt time.Time
	From      time.Time
	To        *time.Time
	Chains    []ChainResult
	Addresses []string
	Counts    map[string]uint64
}
