package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"addrscan/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("run not found")

type Repository struct {
	db *sql.DB
}

func NewRepository(dbPath string) (*Repository, error) {
	if dbPath == "" {
		return nil, errors.New("db path is required")
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	if err := createSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repository{db: db}, nil
}

func createSchema(db *sql.DB) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS scan_runs (
			run_id TEXT PRIMARY KEY,
			mode TEXT NOT NULL,
			started_at TEXT NOT NULL,
			window_from TEXT,
			window_to TEXT,
			address_count INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS scan_chains (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			chain TEXT NOT NULL,
			records INTEGER NOT NULL,
			findings INTEGER NOT NULL,
			unique_addresses INTEGER NOT NULL,
			PRIMARY KEY (run_id, chain)
		)`,
		`CREATE TABLE IF NOT EXISTS address_counts (
			run_id TEXT NOT NULL,
			position INTEGER NOT NULL,
			address TEXT NOT NULL,
			count INTEGER NOT NULL,
			PRIMARY KEY (run_id, address)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) SaveRun(ctx context.Context, report domain.RunReport) error {
	if report.RunID == "" {
		return errors.New("run id is required")
	}
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var from, to sql.NullString
	if !report.From.IsZero() {
		from = sql.NullString{String: report.From.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if report.To != nil {
		to = sql.NullString{String: report.To.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO scan_runs (run_id, mode, started_at, window_from, window_to, address_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			mode = excluded.mode,
			started_at = excluded.started_at,
			window_from = excluded.window_from,
			window_to = excluded.window_to,
			address_count = excluded.address_count`,
		report.RunID, string(report.Mode), report.StartedAt.UTC().Format(time.RFC3339Nano), from, to, len(report.Addresses)); err != nil {
		_ = tx.Rollback()
		return err
	}

	chainStmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_chains (run_id, position, chain, records, findings, unique_addresses)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, chain) DO UPDATE SET
			position = excluded.position,
			records = excluded.records,
			findings = excluded.findings,
			unique_addresses = excluded.unique_addresses`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer chainStmt.Close()
	for i, chain := range report.Chains {
		if _, err := chainStmt.ExecContext(ctx, report.RunID, i, chain.Chain, int64(chain.Records), int64(chain.Findings), chain.Unique); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	countStmt, err := tx.PrepareContext(ctx, `INSERT INTO address_counts (run_id, position, address, count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(run_id, address) DO UPDATE SET
			position = excluded.position,
			count = excluded.count`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer countStmt.Close()
	for i, address := range report.Addresses {
		if _, err := countStmt.ExecContext(ctx, report.RunID, i, address, int64(report.Counts[address])); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// AddressCounts returns a stored run's addresses in their original order.
func (r *Repository) AddressCounts(ctx context.Context, runID string) ([]string, map[string]uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT address, count FROM address_counts WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	addresses := make([]string, 0)
	counts := make(map[string]uint64)
	for rows.Next() {
		var address string
		var count int64
		if err := rows.Scan(&address, &count); err != nil {
			return nil, nil, err
		}
		addresses = append(addresses, address)
		counts[address] = uint64(count)
	}
	return addresses, counts, rows.Err()
}

// LoadRun reads a stored run back into the report it was saved from.
func (r *Repository) LoadRun(ctx context.Context, runID string) (domain.RunReport, error) {
	queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var mode, startedAt string
	var from, to sql.NullString
	err := r.db.QueryRowContext(queryCtx, `SELECT mode, started_at, window_from, window_to FROM scan_runs WHERE run_id = ?`, runID).
		Scan(&mode, &startedAt, &from, &to)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RunReport{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return domain.RunReport{}, err
	}

	report := domain.RunReport{RunID: runID, Mode: domain.ScanMode(mode)}
	if report.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return domain.RunReport{}, fmt.Errorf("run %s started_at: %w", runID, err)
	}
	if from.Valid {
		if report.From, err = time.Parse(time.RFC3339Nano, from.String); err != nil {
			return domain.RunReport{}, fmt.Errorf("run %s window_from: %w", runID, err)
		}
	}
	if to.Valid {
		parsed, err := time.Parse(time.RFC3339Nano, to.String)
		if err != nil {
			return domain.RunReport{}, fmt.Errorf("run %s window_to: %w", runID, err)
		}
		report.To = &parsed
	}

	if report.Chains, err = r.ChainResults(ctx, runID); err != nil {
		return domain.RunReport{}, err
	}
	if report.Addresses, report.Counts, err = r.AddressCounts(ctx, runID); err != nil {
		return domain.RunReport{}, err
	}
	return report, nil
}

func (r *Repository) ChainResults(ctx context.Context, runID string) ([]domain.ChainResult, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `SELECT chain, records, findings, unique_addresses FROM scan_chains WHERE run_id = ? ORDER BY position ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.ChainResult
	for rows.Next() {
		var result domain.ChainResult
		var records, findings int64
		if err := rows.Scan(&result.Chain, &records, &findings, &result.Unique); err != nil {
			return nil, err
		}
		result.Records = uint64(records)
		result.Findings = uint64(findings)
		results = append(results, result)
	}
	return results, rows.Err()
}

func (r *Repository) Close() error {
	return r.db.Close()
}
