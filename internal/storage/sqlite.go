package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"changeweave/internal/hierarchy"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout has a fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS summaries (
			key TEXT PRIMARY KEY,
			item_id TEXT,
			summary TEXT NOT NULL,
			created_at TEXT,
			used_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			project TEXT,
			version TEXT,
			started_at TEXT,
			finished_at TEXT,
			final_state TEXT,
			coverage TEXT,
			items INTEGER,
			summarized INTEGER,
			failed INTEGER,
			warnings INTEGER,
			output_path TEXT,
			error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS run_items (
			run_id TEXT,
			item_id TEXT,
			content JSON,
			PRIMARY KEY (run_id, item_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_summaries_item ON summaries(item_id);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// --- SummaryStore Implementation ---

func (s *SQLiteStore) GetSummary(ctx context.Context, key string) (string, bool, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, "SELECT summary FROM summaries WHERE key = ?", key).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if _, err := s.db.ExecContext(ctx, "UPDATE summaries SET used_at = ? WHERE key = ?", s.stamp(), key); err != nil {
		return "", false, err
	}
	return summary, true, nil
}

func (s *SQLiteStore) PutSummary(ctx context.Context, key, itemID, summary string) error {
	now := s.stamp()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO summaries (key, item_id, summary, created_at, used_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			item_id=excluded.item_id,
			summary=excluded.summary,
			used_at=excluded.used_at
	`, key, itemID, summary, now, now)
	return err
}

func (s *SQLiteStore) PruneSummaries(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM summaries WHERE used_at < ?", before.UTC().Format(timeLayout))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- RunStore Implementation ---

func (s *SQLiteStore) SaveRun(ctx context.Context, run RunRecord, items []hierarchy.WorkItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (id, project, version, started_at, finished_at, final_state, coverage, items, summarized, failed, warnings, output_path, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at=excluded.finished_at,
			final_state=excluded.final_state,
			coverage=excluded.coverage,
			items=excluded.items,
			summarized=excluded.summarized,
			failed=excluded.failed,
			warnings=excluded.warnings,
			output_path=excluded.output_path,
			error=excluded.error
	`, run.ID, run.Project, run.Version, formatTime(run.StartedAt), formatTime(run.FinishedAt), run.FinalState, run.Coverage,
		run.Items, run.Summarized, run.Failed, run.Warnings, run.OutputPath, run.Error)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM run_items WHERE run_id = ?", run.ID); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO run_items (run_id, item_id, content) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		content, err := json.Marshal(it)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, run.ID, it.ID, content); err != nil {
			return fmt.Errorf("failed to save run item %s: %w", it.ID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project, version, started_at, finished_at, final_state, coverage, items, summarized, failed, warnings, output_path, error
		FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Project, &r.Version, &started, &finished, &r.FinalState, &r.Coverage,
			&r.Items, &r.Summarized, &r.Failed, &r.Warnings, &r.OutputPath, &r.Error); err != nil {
			return nil, err
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func (s *SQLiteStore) RunItems(ctx context.Context, runID string) ([]hierarchy.WorkItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT content FROM run_items WHERE run_id = ?", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []hierarchy.WorkItem
	for rows.Next() {
		var content []byte
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		var it hierarchy.WorkItem
		if err := json.Unmarshal(content, &it); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sortItems(items)
	return items, nil
}

func (s *SQLiteStore) stamp() string {
	return s.now().Format(timeLayout)
}

func sortItems(items []hierarchy.WorkItem) {
	sort.Slice(items, func(i, j int) bool { return hierarchy.CompareIDs(items[i].ID, items[j].ID) < 0 })
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
