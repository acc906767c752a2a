package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dgallion1/docmd/internal/dispatch"
	"github.com/dgallion1/docmd/internal/summary"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	started_at    TEXT NOT NULL,
	finished_at   TEXT,
	duration_ms   INTEGER NOT NULL,
	documents     INTEGER NOT NULL,
	converted     INTEGER NOT NULL,
	partial       INTEGER NOT NULL,
	failed        INTEGER NOT NULL,
	cached        INTEGER NOT NULL,
	chunks        INTEGER NOT NULL,
	chunks_failed INTEGER NOT NULL,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	worst_kind    TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS documents (
	run_id        TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	position      INTEGER NOT NULL,
	document      TEXT NOT NULL,
	engine        TEXT NOT NULL,
	status        TEXT NOT NULL,
	chunks        INTEGER NOT NULL,
	chunks_ok     INTEGER NOT NULL,
	chunks_failed INTEGER NOT NULL,
	attempts      INTEGER NOT NULL,
	assets        INTEGER NOT NULL,
	elapsed_ms    INTEGER NOT NULL,
	worst_kind    TEXT NOT NULL DEFAULT '',
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	error         TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (run_id, position)
);
`

// SQLiteStore keeps run history in a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create report schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// SaveRun stores a snapshot under runID, replacing any earlier save.
func (s *SQLiteStore) SaveRun(ctx context.Context, runID string, snap summary.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, runID); err != nil {
		return fmt.Errorf("replace run: %w", err)
	}

	t := snap.Totals
	var finished any
	if !snap.FinishedAt.IsZero() {
		finished = snap.FinishedAt.UTC().Format(time.RFC3339Nano)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO runs
		(id, started_at, finished_at, duration_ms, documents, converted, partial, failed, cached,
		 chunks, chunks_failed, input_tokens, output_tokens, worst_kind)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, snap.StartedAt.UTC().Format(time.RFC3339Nano), finished, snap.Duration.Milliseconds(),
		t.Documents, t.Converted, t.Partial, t.Failed, t.Cached,
		t.Chunks, t.ChunksFailed, t.Usage.InputTokens, t.Usage.OutputTokens, string(t.WorstKind))
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO documents
		(run_id, position, document, engine, status, chunks, chunks_ok, chunks_failed, attempts,
		 assets, elapsed_ms, worst_kind, input_tokens, output_tokens, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare document insert: %w", err)
	}
	defer stmt.Close()

	for i, d := range snap.Documents {
		if _, err := stmt.ExecContext(ctx, runID, i, d.Document, d.Engine, string(d.Status),
			d.Chunks, d.ChunksOK, d.ChunksFailed, d.Attempts, d.Assets, d.Elapsed.Milliseconds(),
			string(d.WorstKind), d.Usage.InputTokens, d.Usage.OutputTokens, d.Error); err != nil {
			return fmt.Errorf("insert document %s: %w", d.Document, err)
		}
	}
	return tx.Commit()
}

// RunRow is one stored run.
type RunRow struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration_ns"`
	Documents    int           `json:"documents"`
	Converted    int           `json:"converted"`
	Partial      int           `json:"partial"`
	Failed       int           `json:"failed"`
	Cached       int           `json:"cached"`
	Chunks       int           `json:"chunks"`
	ChunksFailed int           `json:"chunks_failed"`
	WorstKind    dispatch.Kind `json:"worst_kind,omitempty"`
}

// Runs lists the most recent runs first.
func (s *SQLiteStore) Runs(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, started_at, duration_ms, documents, converted,
		partial, failed, cached, chunks, chunks_failed, worst_kind
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		var started, worst string
		var durMs int64
		if err := rows.Scan(&r.ID, &started, &durMs, &r.Documents, &r.Converted,
			&r.Partial, &r.Failed, &r.Cached, &r.Chunks, &r.ChunksFailed, &worst); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(durMs) * time.Millisecond
		r.WorstKind = dispatch.Kind(worst)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Documents returns the per-document rows of a run in recorded order.
func (s *SQLiteStore) Documents(ctx context.Context, runID string) ([]summary.DocumentSummary, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT document, engine, status, chunks, chunks_ok,
		chunks_failed, attempts, assets, elapsed_ms, worst_kind, input_tokens, output_tokens, error
		FROM documents WHERE run_id = ? ORDER BY position`, runID)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var out []summary.DocumentSummary
	for rows.Next() {
		var d summary.DocumentSummary
		var status, worst string
		var elapsedMs int64
		if err := rows.Scan(&d.Document, &d.Engine, &status, &d.Chunks, &d.ChunksOK,
			&d.ChunksFailed, &d.Attempts, &d.Assets, &elapsedMs, &worst,
			&d.Usage.InputTokens, &d.Usage.OutputTokens, &d.Error); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		d.Status = summary.Status(status)
		d.WorstKind = dispatch.Kind(worst)
		d.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		out = append(out, d)
	}
	return out, rows.Err()
}
