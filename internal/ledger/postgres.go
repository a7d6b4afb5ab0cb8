package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/lib/pq"

	"TranscriptPipeline/internal/domain"
	"TranscriptPipeline/internal/ports"
)

// PostgresLedger implements the ledger on a processed_files table, for
// deployments that already run the CRM's Postgres and want the file
// state visible to SQL tooling.
type PostgresLedger struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

var _ ports.Ledger = (*PostgresLedger)(nil)

// NewPostgres wires a sql.DB implementation.
func NewPostgres(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// OpenPostgres connects to dsn and ensures the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping ledger database: %w", err)
	}

	ledger := NewPostgres(db)
	if err := ledger.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return ledger, nil
}

func (l *PostgresLedger) ensureSchema(ctx context.Context) error {
	const schema = `CREATE TABLE IF NOT EXISTS processed_files (
        path            TEXT PRIMARY KEY,
        fingerprint     TEXT NOT NULL,
        status          TEXT NOT NULL,
        attempt_count   INT NOT NULL DEFAULT 0,
        last_attempt_at TIMESTAMPTZ,
        run_id          TEXT,
        version         BIGINT NOT NULL DEFAULT 1
    )`

	if _, err := l.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure processed_files schema: %w", err)
	}
	return nil
}

// Lookup returns the record for path, or nil when absent.
func (l *PostgresLedger) Lookup(ctx context.Context, path string) (*domain.ProcessedFileRecord, error) {
	query, args, err := l.sb.
		Select("path", "fingerprint", "status", "attempt_count", "last_attempt_at", "run_id", "version").
		From("processed_files").
		Where(sq.Eq{"path": path}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build lookup query: %w", err)
	}

	var (
		rec       domain.ProcessedFileRecord
		status    string
		attempted sql.NullTime
		runID     sql.NullString
	)
	row := l.db.QueryRowContext(ctx, query, args...)
	err = row.Scan(&rec.Path, &rec.Fingerprint, &status, &rec.AttemptCount, &attempted, &runID, &rec.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan ledger record: %w", err)
	}

	rec.Status = domain.FileStatus(status)
	if attempted.Valid {
		rec.LastAttemptAt = attempted.Time
	}
	if runID.Valid {
		rec.RunID = runID.String
	}
	return &rec, nil
}

// UpsertPending creates or resets the record for path to pending,
// guarded by the version the caller last observed.
func (l *PostgresLedger) UpsertPending(ctx context.Context, path, fingerprint string, expectedVersion int64) (*domain.ProcessedFileRecord, error) {
	if expectedVersion == 0 {
		query, args, err := l.sb.
			Insert("processed_files").
			Columns("path", "fingerprint", "status", "version").
			Values(path, fingerprint, string(domain.StatusPending), 1).
			Suffix("ON CONFLICT (path) DO NOTHING").
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("build insert: %w", err)
		}

		res, err := l.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("insert pending record: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil, domain.ErrConcurrentModification
		}
		return l.Lookup(ctx, path)
	}

	query, args, err := l.sb.
		Update("processed_files").
		Set("fingerprint", fingerprint).
		Set("status", string(domain.StatusPending)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"path": path, "version": expectedVersion}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reset record to pending: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, domain.ErrConcurrentModification
	}
	return l.Lookup(ctx, path)
}

// Mark records a status milestone for path.
func (l *PostgresLedger) Mark(ctx context.Context, path string, status domain.FileStatus, attemptCount int, runID string) error {
	builder := l.sb.
		Update("processed_files").
		Set("status", string(status)).
		Set("attempt_count", attemptCount).
		Set("last_attempt_at", time.Now().UTC()).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"path": path})
	if runID != "" {
		builder = builder.Set("run_id", runID)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("build mark query: %w", err)
	}

	res, err := l.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("mark record: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("mark %s: unknown ledger path", path)
	}
	return nil
}

// ReconcileStale returns launched records older than olderThan to pending.
func (l *PostgresLedger) ReconcileStale(ctx context.Context, olderThan time.Duration) ([]string, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	query, args, err := l.sb.
		Update("processed_files").
		Set("status", string(domain.StatusPending)).
		Set("version", sq.Expr("version + 1")).
		Where(sq.Eq{"status": string(domain.StatusLaunched)}).
		Where(sq.Lt{"last_attempt_at": cutoff}).
		Suffix("RETURNING path").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build reconcile query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("reconcile stale records: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("scan stale path: %w", err)
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}

	return paths, nil
}
