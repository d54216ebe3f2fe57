package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/rpcprobe/internal/report"
	"github.com/gateway-fm/rpcprobe/pkg/types"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens (or creates) the history database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode keeps writes cheap even when a reader has the file open.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS probe_runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		endpoint TEXT NOT NULL,
		address TEXT NOT NULL,
		chain_id INTEGER NOT NULL,
		iterations INTEGER NOT NULL,
		succeeded INTEGER DEFAULT 0,
		failed INTEGER DEFAULT 0,
		min_ms REAL DEFAULT 0,
		max_ms REAL DEFAULT 0,
		mean_ms REAL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_probe_runs_started ON probe_runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS probe_iterations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		idx INTEGER NOT NULL,
		state TEXT NOT NULL,
		tx_hash TEXT,
		nonce INTEGER,
		submitted_at DATETIME,
		receipt_at DATETIME,
		elapsed_ms REAL DEFAULT 0,
		block_at_submission INTEGER DEFAULT 0,
		block_at_receipt INTEGER DEFAULT 0,
		receipt_block INTEGER DEFAULT 0,
		block_delta INTEGER DEFAULT 0,
		reorg_suspected INTEGER DEFAULT 0,
		error_kind TEXT,
		error_message TEXT,
		FOREIGN KEY (run_id) REFERENCES probe_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_probe_iterations_run ON probe_iterations(run_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun persists a completed run and its iteration results in one transaction.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *types.ProbeRun) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var minMs, maxMs, meanMs float64
	if summary, _ := report.Aggregate(run); summary != nil {
		minMs = float64(summary.Min) / float64(time.Millisecond)
		maxMs = float64(summary.Max) / float64(time.Millisecond)
		meanMs = float64(summary.Mean) / float64(time.Millisecond)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO probe_runs (id, started_at, completed_at, endpoint, address, chain_id, iterations, succeeded, failed, min_ms, max_ms, mean_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.CompletedAt, run.Endpoint, run.Address, run.ChainID,
		run.Iterations, run.Succeeded, run.Failed, minMs, maxMs, meanMs)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO probe_iterations (run_id, idx, state, tx_hash, nonce, submitted_at, receipt_at, elapsed_ms,
			block_at_submission, block_at_receipt, receipt_block, block_delta, reorg_suspected, error_kind, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare iteration insert: %w", err)
	}
	defer stmt.Close()

	for _, it := range run.Results {
		var receiptAt any
		if !it.ReceiptAt.IsZero() {
			receiptAt = it.ReceiptAt
		}
		var submittedAt any
		if !it.SubmittedAt.IsZero() {
			submittedAt = it.SubmittedAt
		}
		_, err = stmt.ExecContext(ctx, run.ID, it.Index, string(it.State), it.TxHash, it.Nonce,
			submittedAt, receiptAt, float64(it.Elapsed)/float64(time.Millisecond),
			it.BlockAtSubmission, it.BlockAtReceipt, it.ReceiptBlock, it.BlockDelta,
			boolToInt(it.ReorgSuspected), string(it.ErrorKind), it.ErrorMessage)
		if err != nil {
			return fmt.Errorf("failed to insert iteration %d: %w", it.Index, err)
		}
	}

	return tx.Commit()
}

// GetRun loads a run with its iteration results.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*types.ProbeRun, error) {
	run := &types.ProbeRun{}
	var completedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, completed_at, endpoint, address, chain_id, iterations, succeeded, failed
		FROM probe_runs WHERE id = ?
	`, id).Scan(&run.ID, &run.StartedAt, &completedAt, &run.Endpoint, &run.Address,
		&run.ChainID, &run.Iterations, &run.Succeeded, &run.Failed)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run: %w", err)
	}
	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT idx, state, tx_hash, nonce, submitted_at, receipt_at, elapsed_ms,
			block_at_submission, block_at_receipt, receipt_block, block_delta, reorg_suspected, error_kind, error_message
		FROM probe_iterations WHERE run_id = ? ORDER BY idx
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load iterations: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it types.IterationResult
		var state, errKind string
		var txHash, errMsg sql.NullString
		var submittedAt, receiptAt sql.NullTime
		var elapsedMs float64
		var reorg int
		err := rows.Scan(&it.Index, &state, &txHash, &it.Nonce, &submittedAt, &receiptAt, &elapsedMs,
			&it.BlockAtSubmission, &it.BlockAtReceipt, &it.ReceiptBlock, &it.BlockDelta, &reorg, &errKind, &errMsg)
		if err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.State = types.IterationState(state)
		it.ErrorKind = types.ErrorKind(errKind)
		it.TxHash = txHash.String
		it.ErrorMessage = errMsg.String
		if submittedAt.Valid {
			it.SubmittedAt = submittedAt.Time
		}
		if receiptAt.Valid {
			it.ReceiptAt = receiptAt.Time
		}
		it.Elapsed = time.Duration(elapsedMs * float64(time.Millisecond))
		it.ReorgSuspected = reorg != 0
		run.Results = append(run.Results, it)
	}

	return run, rows.Err()
}

// ListRuns returns run summaries, most recent first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, endpoint, chain_id, succeeded, failed, min_ms, max_ms, mean_ms
		FROM probe_runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var r RunSummary
		var startedAt time.Time
		if err := rows.Scan(&r.ID, &startedAt, &r.Endpoint, &r.ChainID,
			&r.Succeeded, &r.Failed, &r.MinMs, &r.MaxMs, &r.MeanMs); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = startedAt.UTC().Format(time.RFC3339)
		out = append(out, r)
	}

	return out, rows.Err()
}

// DeleteRun removes a run and its iteration rows.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM probe_runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
