package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"addrscan/internal/domain"

	_ "github.com/go-sql-driver/mysql"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(dsn string) (*Repository, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
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
			run_id CHAR(36) NOT NULL,
			mode VARCHAR(16) NOT NULL,
			started_at DATETIME(6) NOT NULL,
			window_from DATETIME(6) NULL,
			window_to DATETIME(6) NULL,
			address_count BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (run_id)
		)`,
		`CREATE TABLE IF NOT EXISTS scan_chains (
			run_id CHAR(36) NOT NULL,
			position BIGINT UNSIGNED NOT NULL,
			chain VARCHAR(64) NOT NULL,
			records BIGINT UNSIGNED NOT NULL,
			findings BIGINT UNSIGNED NOT NULL,
			unique_addresses BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (run_id, chain)
		)`,
		`CREATE TABLE IF NOT EXISTS address_counts (
			run_id CHAR(36) NOT NULL,
			position BIGINT UNSIGNED NOT NULL,
			address VARCHAR(128) NOT NULL,
			count BIGINT UNSIGNED NOT NULL,
			PRIMARY KEY (run_id, address),
			KEY address_counts_position_idx (run_id, position)
		)`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// SaveRun stores the run, its chain summaries and every address count in one
// transaction. Saving the same run again overwrites it.
func (r *Repository) SaveRun(ctx context.Context, report domain.RunReport) error {
	if report.RunID == "" {
		return errors.New("run id is required")
	}
	ctx, span := startDBSpan(ctx, "mysql.SaveRun",
		attribute.String("run.id", report.RunID),
		attribute.Int("address.count", len(report.Addresses)),
	)
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := saveRun(ctx, tx, report); err != nil {
		_ = tx.Rollback()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	if err := tx.Commit(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

func saveRun(ctx context.Context, tx *sql.Tx, report domain.RunReport) error {
	var from, to sql.NullTime
	if !report.From.IsZero() {
		from = sql.NullTime{Time: report.From.UTC(), Valid: true}
	}
	if report.To != nil {
		to = sql.NullTime{Time: report.To.UTC(), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO scan_runs (run_id, mode, started_at, window_from, window_to, address_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			mode = VALUES(mode),
			started_at = VALUES(started_at),
			window_from = VALUES(window_from),
			window_to = VALUES(window_to),
			address_count = VALUES(address_count)`,
		report.RunID, string(report.Mode), report.StartedAt.UTC(), from, to, len(report.Addresses)); err != nil {
		return err
	}

	chainStmt, err := tx.PrepareContext(ctx, `INSERT INTO scan_chains (run_id, position, chain, records, findings, unique_addresses)
		VALUES (?, ?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			position = VALUES(position),
			records = VALUES(records),
			findings = VALUES(findings),
			unique_addresses = VALUES(unique_addresses)`)
	if err != nil {
		return err
	}
	defer chainStmt.Close()
	for i, chain := range report.Chains {
		if _, err := chainStmt.ExecContext(ctx, report.RunID, i, chain.Chain, chain.Records, chain.Findings, chain.Unique); err != nil {
			return err
		}
	}

	countStmt, err := tx.PrepareContext(ctx, `INSERT INTO address_counts (run_id, position, address, count)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			position = VALUES(position),
			count = VALUES(count)`)
	if err != nil {
		return err
	}
	defer countStmt.Close()
	for i, address := range report.Addresses {
		if _, err := countStmt.ExecContext(ctx, report.RunID, i, address, report.Counts[address]); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func startDBSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.String("db.system", "mysql"))
	return otel.Tracer("addrscan/mysql").Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(attrs...))
}
