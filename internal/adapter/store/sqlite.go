package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	_ "modernc.org/sqlite"

	"presenter-ai/internal/domain"
	"presenter-ai/internal/usecase"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	task_id     TEXT PRIMARY KEY,
	instruction TEXT NOT NULL,
	request     TEXT NOT NULL,
	status      TEXT NOT NULL,
	outputs     TEXT NOT NULL,
	final_path  TEXT,
	error       TEXT,
	started_at  TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);
`

// SQLite persists run records in a local database file. A rerun of the same
// task id overwrites the previous record.
type SQLite struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path.
func Open(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.WrapOp("open run store", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, domain.WrapOp("migrate run store", err)
	}
	return &SQLite{db: db}, nil
}

// SaveRun upserts one run record.
func (s *SQLite) SaveRun(ctx context.Context, rec usecase.RunRecord) error {
	outputs, err := json.Marshal(rec.Outputs)
	if err != nil {
		return domain.WrapOp("marshal run outputs", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (task_id, instruction, request, status, outputs, final_path, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			instruction = excluded.instruction,
			request     = excluded.request,
			status      = excluded.status,
			outputs     = excluded.outputs,
			final_path  = excluded.final_path,
			error       = excluded.error,
			started_at  = excluded.started_at,
			finished_at = excluded.finished_at`,
		rec.TaskID, rec.Instruction, string(rec.Request), rec.Status, string(outputs),
		rec.FinalPath, rec.Error, rec.StartedAt, rec.FinishedAt)
	return domain.WrapOp("save run record", err)
}

// LoadRun fetches the record for a task id; found is false when absent.
func (s *SQLite) LoadRun(ctx context.Context, taskID string) (usecase.RunRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT task_id, instruction, request, status, outputs, final_path, error, started_at, finished_at
		FROM runs WHERE task_id = ?`, taskID)

	var rec usecase.RunRecord
	var request, outputs string
	var finalPath, errText sql.NullString
	err := row.Scan(&rec.TaskID, &rec.Instruction, &request, &rec.Status, &outputs,
		&finalPath, &errText, &rec.StartedAt, &rec.FinishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return usecase.RunRecord{}, false, nil
	}
	if err != nil {
		return usecase.RunRecord{}, false, domain.WrapOp("load run record", err)
	}
	rec.Request = json.RawMessage(request)
	rec.FinalPath = finalPath.String
	rec.Error = errText.String
	if err := json.Unmarshal([]byte(outputs), &rec.Outputs); err != nil {
		return usecase.RunRecord{}, false, domain.WrapOp("decode run outputs", err)
	}
	return rec, true, nil
}

// ListRuns returns the most recent records, newest first.
func (s *SQLite) ListRuns(ctx context.Context, limit int) ([]usecase.RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, instruction, status, final_path, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.WrapOp("list run records", err)
	}
	defer rows.Close()

	var out []usecase.RunRecord
	for rows.Next() {
		var rec usecase.RunRecord
		var finalPath sql.NullString
		var startedAt, finishedAt time.Time
		if err := rows.Scan(&rec.TaskID, &rec.Instruction, &rec.Status, &finalPath, &startedAt, &finishedAt); err != nil {
			return nil, domain.WrapOp("scan run record", err)
		}
		rec.FinalPath = finalPath.String
		rec.StartedAt = startedAt
		rec.FinishedAt = finishedAt
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
