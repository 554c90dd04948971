// Package runstore persists run records and their event logs in SQLite so
// runs survive the process and the HTTP surface can serve status and
// replayable histories.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/warmloop/agent/internal/agent"
)

// ErrNotFound is returned for lookups of unknown run IDs.
var ErrNotFound = errors.New("run not found")

// Store wraps the SQLite handle. Thread-safe via sql.DB pooling.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Open opens or creates the database file, creating parent directories as
// needed.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}
	return open("file:"+path+"?_busy_timeout=5000", logger)
}

// OpenInMemory creates a private in-memory database, used by tests.
func OpenInMemory(logger zerolog.Logger) (*Store, error) {
	return open(":memory:", logger)
}

func open(dsn string, logger zerolog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id     TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			mode       TEXT NOT NULL,
			status     TEXT NOT NULL,
			error      TEXT NOT NULL DEFAULT '',
			metrics    TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS run_events (
			id      INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id  TEXT NOT NULL,
			type    TEXT NOT NULL,
			time    TEXT NOT NULL,
			payload TEXT NOT NULL DEFAULT '{}'
		);

		CREATE INDEX IF NOT EXISTS idx_run_events_run
		ON run_events(run_id, id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveRun upserts the full record. Called at run checkpoints; the latest
// write wins.
func (s *Store) SaveRun(ctx context.Context, rec agent.RunRecord) error {
	metrics, err := json.Marshal(rec.Metrics)
	if err != nil {
		return fmt.Errorf("marshal metrics: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
		(run_id, task_id, mode, status, error, metrics, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID,
		rec.TaskID,
		string(rec.Mode),
		string(rec.Status),
		rec.Error,
		string(metrics),
		rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		rec.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

// GetRun looks up one run by ID.
func (s *Store) GetRun(ctx context.Context, runID string) (agent.RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT run_id, task_id, mode, status, error, metrics, created_at, updated_at
		FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.RunRecord{}, ErrNotFound
	}
	return rec, err
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]agent.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, task_id, mode, status, error, metrics, created_at, updated_at
		FROM runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	out := []agent.RunRecord{}
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

// MarkCancelled flips a pending or running run to cancelled. The stored
// status is authoritative; a run that already reached a terminal state is
// left untouched.
func (s *Store) MarkCancelled(ctx context.Context, runID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET status = ?, updated_at = ?
		WHERE run_id = ? AND status IN (?, ?)`,
		string(agent.StatusCancelled),
		time.Now().UTC().Format(time.RFC3339Nano),
		runID,
		string(agent.StatusPending),
		string(agent.StatusRunning),
	)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}
	if _, err := s.GetRun(ctx, runID); err != nil {
		return err
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (agent.RunRecord, error) {
	var rec agent.RunRecord
	var mode, status, metrics, created, updated string
	if err := row.Scan(&rec.RunID, &rec.TaskID, &mode, &status, &rec.Error, &metrics, &created, &updated); err != nil {
		return agent.RunRecord{}, err
	}
	rec.Mode = agent.Mode(mode)
	rec.Status = agent.Status(status)
	if err := json.Unmarshal([]byte(metrics), &rec.Metrics); err != nil {
		return agent.RunRecord{}, fmt.Errorf("decode metrics for %s: %w", rec.RunID, err)
	}
	rec.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
	return rec, nil
}

// StoredEvent is a persisted event with its append-log position.
type StoredEvent struct {
	ID int64 `json:"id"`
	agent.Event
}

// AppendEvent adds one event to the run's append-only log.
func (s *Store) AppendEvent(ctx context.Context, ev agent.Event) error {
	payload := []byte("{}")
	if ev.Payload != nil {
		data, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = data
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO run_events (run_id, type, time, payload) VALUES (?, ?, ?, ?)`,
		ev.RunID,
		string(ev.Type),
		ev.Time.UTC().Format(time.RFC3339Nano),
		string(payload),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ListEvents returns a run's events with ID greater than afterID, in append
// order. afterID 0 means from the beginning.
func (s *Store) ListEvents(ctx context.Context, runID string, afterID int64) ([]StoredEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, type, time, payload FROM run_events
		WHERE run_id = ? AND id > ? ORDER BY id ASC`, runID, afterID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []StoredEvent{}
	for rows.Next() {
		var ev StoredEvent
		var typ, ts, payload string
		if err := rows.Scan(&ev.ID, &ev.RunID, &typ, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Type = agent.EventType(typ)
		ev.Time, _ = time.Parse(time.RFC3339Nano, ts)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// Emit implements agent.Sink: persistence of events is best-effort and
// never fails the run loop.
func (s *Store) Emit(ctx context.Context, ev agent.Event) {
	if err := s.AppendEvent(ctx, ev); err != nil {
		s.logger.Warn().Err(err).Str("run_id", ev.RunID).Msg("event persist failed")
	}
}

var _ agent.RecordStore = (*Store)(nil)
var _ agent.Sink = (*Store)(nil)
