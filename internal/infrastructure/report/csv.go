package report

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"addrscan/internal/domain"
)

const (
	uniqueAddressesFile = "unique_addresses.csv"
	addressCountsFile   = "address_counts.csv"
	chainSummaryFile    = "chain_summary.csv"
)

// WriteAddressCounts writes "address,count" rows in the given order.
func WriteAddressCounts(path string, addresses []string, counts map[string]uint64) error {
	rows := make([][]string, 0, len(addresses))
	for _, address := range addresses {
		rows = append(rows, []string{address, strconv.FormatUint(counts[address], 10)})
	}
	return writeCSV(path, []string{"address", "count"}, rows)
}

func WriteUniqueAddresses(path string, addresses []string) error {
	rows := make([][]string, 0, len(addresses))
	for _, address := range addresses {
		rows = append(rows, []string{address})
	}
	return writeCSV(path, []string{"address"}, rows)
}

func WriteChainSummary(path string, chains []domain.ChainResult) error {
	rows := make([][]string, 0, len(chains))
	for _, chain := range chains {
		rows = append(rows, []string{
			chain.Chain,
			strconv.FormatUint(chain.Records, 10),
			strconv.FormatUint(chain.Findings, 10),
			strconv.Itoa(chain.Unique),
		})
	}
	return writeCSV(path, []string{"chain", "records", "findings", "unique"}, rows)
}

func writeCSV(path string, header []string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(file)
	if err := writer.Write(header); err != nil {
		_ = file.Close()
		return err
	}
	if err := writer.WriteAll(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Close()
}

// Writer stores each finished run as CSV files under Dir.
type Writer struct {
	Dir string
}

func NewWriter(dir string) (*Writer, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output dir is required")
	}
	return &Writer{Dir: dir}, nil
}

// SaveRun writes the per-chain counts for count runs, and the merged address
// list plus counts for unique runs. Both get a chain summary.
func (w *Writer) SaveRun(ctx context.Context, run domain.RunReport) error {
	switch run.Mode {
	case domain.ScanModeCount:
		chain := "all"
		if len(run.Chains) == 1 {
			chain = run.Chains[0].Chain
		}
		if err := WriteAddressCounts(w.ChainCountsPath(chain), run.Addresses, run.Counts); err != nil {
			return err
		}
	case domain.ScanModeUnique:
		if err := WriteUniqueAddresses(filepath.Join(w.Dir, uniqueAddressesFile), run.Addresses); err != nil {
			return err
		}
		if err := WriteAddressCounts(filepath.Join(w.Dir, addressCountsFile), run.Addresses, run.Counts); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown scan mode %q", run.Mode)
	}
	return WriteChainSummary(filepath.Join(w.Dir, chainSummaryFile), run.Chains)
}

func (w *Writer) ChainCountsPath(chain string) string {
	return filepath.Join(w.Dir, safeName(chain)+"_address_counts.csv")
}

func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
