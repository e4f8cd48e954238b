package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dealbot/internal/lifecycle"
	"dealbot/internal/models"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"
)

// stateRowID is the primary key of the single state document row.
const stateRowID = 1

// DB wraps the sqlite connection holding the lifecycle state document and
// the run history.
type DB struct {
	conn   *sql.DB
	logger *slog.Logger
}

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, logger: slog.Default().With("component", "database")}

	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	db.logger.Debug("database ready", "path", dbPath)
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// init creates the tables.
func (db *DB) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state_document (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		version INTEGER NOT NULL,
		data TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_history (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		run_at TEXT NOT NULL,
		scanned INTEGER NOT NULL,
		matched INTEGER NOT NULL,
		alerted INTEGER NOT NULL,
		summary TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_run_history_run_at ON run_history(run_at);
	`

	if _, err := db.conn.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// LoadState reads the state document. A database without one yields an
// empty state.
func (db *DB) LoadState(ctx context.Context) (*lifecycle.State, error) {
	query, args, err := sq.Select("data").
		From("state_document").
		Where(sq.Eq{"id": stateRowID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build state query: %w", err)
	}

	var data string
	err = db.conn.QueryRowContext(ctx, query, args...).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return lifecycle.NewState(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}

	state, err := lifecycle.Decode([]byte(data))
	if err != nil {
		return nil, err
	}
	return state, nil
}

// SaveState replaces the state document.
func (db *DB) SaveState(ctx context.Context, state *lifecycle.State, now time.Time) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return saveState(ctx, tx, state, now)
	})
}

// AppendRun adds a summary to the run history.
func (db *DB) AppendRun(ctx context.Context, summary models.RunSummary) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		return appendRun(ctx, tx, summary)
	})
}

// SaveRun writes the state document and appends the run summary in one
// transaction.
func (db *DB) SaveRun(ctx context.Context, state *lifecycle.State, summary models.RunSummary) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if err := saveState(ctx, tx, state, summary.Timestamp); err != nil {
			return err
		}
		return appendRun(ctx, tx, summary)
	})
}

// RecentRuns returns up to limit summaries, newest first.
func (db *DB) RecentRuns(ctx context.Context, limit int) ([]models.RunSummary, error) {
	if limit <= 0 {
		return nil, nil
	}

	query, args, err := sq.Select("summary").
		From("run_history").
		OrderBy("seq DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var runs []models.RunSummary
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		var summary models.RunSummary
		if err := json.Unmarshal([]byte(raw), &summary); err != nil {
			return nil, fmt.Errorf("decode run: %w", err)
		}
		runs = append(runs, summary)
	}
	return runs, rows.Err()
}

// LatestRun returns the most recent summary, or models.ErrNoRuns.
func (db *DB) LatestRun(ctx context.Context) (*models.RunSummary, error) {
	runs, err := db.RecentRuns(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, models.ErrNoRuns
	}
	return &runs[0], nil
}

// CountRuns returns the number of recorded runs.
func (db *DB) CountRuns(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("run_history").ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count query: %w", err)
	}
	var n int
	if err := db.conn.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count runs: %w", err)
	}
	return n, nil
}

func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func saveState(ctx context.Context, tx *sql.Tx, state *lifecycle.State, now time.Time) error {
	data, err := state.Encode(now)
	if err != nil {
		return err
	}

	query, args, err := sq.Insert("state_document").
		Columns("id", "version", "data", "updated_at").
		Values(stateRowID, state.Version, string(data), formatTime(now)).
		Suffix("ON CONFLICT(id) DO UPDATE SET version = excluded.version, data = excluded.data, updated_at = excluded.updated_at").
		ToSql()
	if err != nil {
		return fmt.Errorf("build state upsert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func appendRun(ctx context.Context, tx *sql.Tx, summary models.RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}

	query, args, err := sq.Insert("run_history").
		Columns("id", "run_at", "scanned", "matched", "alerted", "summary").
		Values(summary.ID, formatTime(summary.Timestamp), summary.Scanned, summary.Matched, summary.Alerted, string(data)).
		ToSql()
	if err != nil {
		return fmt.Errorf("build run insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("append run: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
