package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := initTaskSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool}, nil
}

func initTaskSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			description TEXT NOT NULL,
			mode TEXT NOT NULL,
			priority TEXT NOT NULL DEFAULT 'normal',
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMPTZ NOT NULL,
			created_by TEXT NOT NULL,
			started_at TIMESTAMPTZ NULL,
			completed_at TIMESTAMPTZ NULL,
			result TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			progress DOUBLE PRECISION NULL,
			progress_message TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			metadata JSONB NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status_created ON tasks (status, created_at ASC);`,
		`CREATE TABLE IF NOT EXISTS task_events (
			id TEXT PRIMARY KEY,
			task_id TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
			event_type TEXT NOT NULL,
			timestamp TIMESTAMPTZ NOT NULL,
			data JSONB NOT NULL DEFAULT '{}'
		);`,
		`CREATE INDEX IF NOT EXISTS idx_task_events_task_ts ON task_events (task_id, timestamp);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init task schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const priorityOrder = `CASE priority WHEN 'urgent' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 ELSE 3 END`

func (s *PostgresStore) InsertTask(ctx context.Context, task Task, event TaskEvent) error {
	metadata, err := marshalMeta(task.Metadata)
	if err != nil {
		return fmt.Errorf("encode task metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO tasks (id, description, mode, priority, status, created_at, created_by, metadata)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		task.ID,
		task.Description,
		string(task.Mode),
		string(task.Priority),
		string(task.Status),
		task.CreatedAt,
		task.CreatedBy,
		metadata,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTask(ctx context.Context, taskID string) (Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=$1`, taskID)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, ErrStoreNotFound
		}
		return Task{}, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

func (s *PostgresStore) ListTasks(ctx context.Context, status TaskStatus, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 50
	}

	var (
		rows pgx.Rows
		err  error
	)
	if status == "" {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM tasks ORDER BY created_at DESC LIMIT $1`, limit)
	} else {
		rows, err = s.pool.Query(ctx,
			`SELECT `+taskColumns+` FROM tasks WHERE status=$1 ORDER BY created_at DESC LIMIT $2`,
			string(status), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	out := make([]Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		out = append(out, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) NextPending(ctx context.Context) (Task, bool, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks
		  WHERE status='pending'
		  ORDER BY `+priorityOrder+`, created_at ASC
		  LIMIT 1`)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Task{}, false, nil
		}
		return Task{}, false, fmt.Errorf("next pending: %w", err)
	}
	return task, true, nil
}

func (s *PostgresStore) MarkRunning(ctx context.Context, taskID string, startedAt time.Time, event TaskEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET status='running', started_at=$2 WHERE id=$1 AND status='pending'`,
		taskID, startedAt)
	if err != nil {
		return false, fmt.Errorf("mark running: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) SetProgress(ctx context.Context, taskID string, progress float64, message string, event TaskEvent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET progress=$2, progress_message=$3 WHERE id=$1`,
		taskID, progress, message)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStoreNotFound
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, taskID string, result string, at time.Time, event TaskEvent) (bool, error) {
	return s.finishTask(ctx,
		`UPDATE tasks SET status='completed', completed_at=$2, result=$3, progress=1.0
		  WHERE id=$1 AND status='running'`,
		event, taskID, at, result)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, taskID string, errMsg string, at time.Time, event TaskEvent) (bool, error) {
	return s.finishTask(ctx,
		`UPDATE tasks SET status='failed', completed_at=$2, error=$3
		  WHERE id=$1 AND status='running'`,
		event, taskID, at, errMsg)
}

func (s *PostgresStore) MarkCancelled(ctx context.Context, taskID string, from TaskStatus, at time.Time, event TaskEvent) (bool, error) {
	return s.finishTask(ctx,
		`UPDATE tasks SET status='cancelled', completed_at=$2
		  WHERE id=$1 AND status=$3`,
		event, taskID, at, string(from))
}

func (s *PostgresStore) SetCancelRequested(ctx context.Context, taskID string, event TaskEvent) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE tasks SET cancel_requested=TRUE WHERE id=$1 AND status='running'`,
		taskID)
	if err != nil {
		return false, fmt.Errorf("set cancel_requested: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) CancelRequested(ctx context.Context, taskID string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM tasks WHERE id=$1`, taskID).Scan(&requested)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrStoreNotFound
		}
		return false, fmt.Errorf("cancel_requested lookup: %w", err)
	}
	return requested, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, taskID string) ([]TaskEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, event_type, timestamp, data
		   FROM task_events WHERE task_id=$1 ORDER BY timestamp ASC`,
		taskID)
	if err != nil {
		return nil, fmt.Errorf("list task events: %w", err)
	}
	defer rows.Close()

	events := make([]TaskEvent, 0, 8)
	for rows.Next() {
		var (
			ev        TaskEvent
			eventType string
			data      []byte
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &eventType, &ev.Timestamp, &data); err != nil {
			return nil, fmt.Errorf("scan task event: %w", err)
		}
		ev.Type = EventType(eventType)
		if len(data) > 0 {
			if err := json.Unmarshal(data, &ev.Data); err != nil {
				return nil, fmt.Errorf("decode event data: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task event rows: %w", err)
	}
	return events, nil
}

func (s *PostgresStore) Stats(ctx context.Context) (map[TaskStatus]int, error) {
	stats := make(map[TaskStatus]int, len(AllStatuses()))
	for _, status := range AllStatuses() {
		stats[status] = 0
	}

	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("task stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan task stats: %w", err)
		}
		stats[TaskStatus(status)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate task stats: %w", err)
	}
	return stats, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) finishTask(ctx context.Context, query string, event TaskEvent, args ...any) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("finish task: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := appendEventTx(ctx, tx, event); err != nil {
		return false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

func appendEventTx(ctx context.Context, tx pgx.Tx, event TaskEvent) error {
	data, err := marshalMeta(event.Data)
	if err != nil {
		return fmt.Errorf("encode event data: %w", err)
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO task_events (id, task_id, event_type, timestamp, data)
		 VALUES ($1,$2,$3,$4,$5)`,
		event.ID,
		event.TaskID,
		string(event.Type),
		event.Timestamp,
		data,
	)
	if err != nil {
		return fmt.Errorf("insert task event: %w", err)
	}
	return nil
}

const taskColumns = `id, description, mode, priority, status, created_at, created_by,
	started_at, completed_at, result, error, progress, progress_message, cancel_requested, metadata`

func scanTask(row pgx.Row) (Task, error) {
	var (
		task     Task
		mode     string
		priority string
		status   string
		metadata []byte
	)
	if err := row.Scan(
		&task.ID,
		&task.Description,
		&mode,
		&priority,
		&status,
		&task.CreatedAt,
		&task.CreatedBy,
		&task.StartedAt,
		&task.CompletedAt,
		&task.Result,
		&task.Error,
		&task.Progress,
		&task.ProgressMessage,
		&task.CancelRequested,
		&metadata,
	); err != nil {
		return Task{}, err
	}
	task.Mode = TaskMode(mode)
	task.Priority = TaskPriority(priority)
	task.Status = TaskStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &task.Metadata); err != nil {
			return Task{}, fmt.Errorf("decode task metadata: %w", err)
		}
	}
	return task, nil
}

func marshalMeta(m map[string]any) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}
