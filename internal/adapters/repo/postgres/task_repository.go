// Package postgres stores tasks in PostgreSQL for deployments that keep task
// history beyond the coordination store's retention.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/bnema/drawq/internal/domain"
	"github.com/bnema/drawq/internal/ports"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const createTasksTable = `CREATE TABLE IF NOT EXISTS drawq_tasks (
	id          TEXT PRIMARY KEY,
	action      TEXT NOT NULL,
	status      TEXT NOT NULL,
	mode        TEXT NOT NULL DEFAULT '',
	account_id  TEXT NOT NULL DEFAULT '',
	parent_id   TEXT NOT NULL DEFAULT '',
	prompt      TEXT NOT NULL DEFAULT '',
	submit_time TIMESTAMPTZ NOT NULL,
	start_time  TIMESTAMPTZ,
	finish_time TIMESTAMPTZ,
	progress    TEXT NOT NULL DEFAULT '',
	fail_reason TEXT NOT NULL DEFAULT '',
	image_url   TEXT NOT NULL DEFAULT '',
	properties  JSONB NOT NULL DEFAULT '{}'::jsonb
);
CREATE INDEX IF NOT EXISTS drawq_tasks_active ON drawq_tasks (account_id, status, submit_time);`

const upsertTask = `INSERT INTO drawq_tasks (
	id, action, status, mode, account_id, parent_id, prompt, submit_time,
	start_time, finish_time, progress, fail_reason, image_url, properties
) VALUES (
	:id, :action, :status, :mode, :account_id, :parent_id, :prompt, :submit_time,
	:start_time, :finish_time, :progress, :fail_reason, :image_url, :properties
)
ON CONFLICT (id) DO UPDATE SET
	action = EXCLUDED.action,
	status = EXCLUDED.status,
	mode = EXCLUDED.mode,
	account_id = EXCLUDED.account_id,
	parent_id = EXCLUDED.parent_id,
	prompt = EXCLUDED.prompt,
	submit_time = EXCLUDED.submit_time,
	start_time = EXCLUDED.start_time,
	finish_time = EXCLUDED.finish_time,
	progress = EXCLUDED.progress,
	fail_reason = EXCLUDED.fail_reason,
	image_url = EXCLUDED.image_url,
	properties = EXCLUDED.properties`

type taskRow struct {
	ID         string       `db:"id"`
	Action     string       `db:"action"`
	Status     string       `db:"status"`
	Mode       string       `db:"mode"`
	AccountID  string       `db:"account_id"`
	ParentID   string       `db:"parent_id"`
	Prompt     string       `db:"prompt"`
	SubmitTime time.Time    `db:"submit_time"`
	StartTime  sql.NullTime `db:"start_time"`
	FinishTime sql.NullTime `db:"finish_time"`
	Progress   string       `db:"progress"`
	FailReason string       `db:"fail_reason"`
	ImageURL   string       `db:"image_url"`
	Properties []byte       `db:"properties"`
}

type TaskRepository struct {
	db *sqlx.DB
}

var _ ports.TaskRepository = (*TaskRepository)(nil)

// Open connects with the lib/pq driver. With autoCreate set the tasks table
// is created when missing.
func Open(ctx context.Context, dsn string, autoCreate bool) (*TaskRepository, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	repo, err := NewTaskRepository(ctx, db, autoCreate)
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	return repo, nil
}

func NewTaskRepository(ctx context.Context, db *sqlx.DB, autoCreate bool) (*TaskRepository, error) {
	if autoCreate {
		if _, err := db.ExecContext(ctx, createTasksTable); err != nil {
			return nil, fmt.Errorf("create tasks table: %w", err)
		}
	}
	return &TaskRepository{db: db}, nil
}

func (r *TaskRepository) Close() error {
	return r.db.Close()
}

func (r *TaskRepository) Save(ctx context.Context, task domain.Task) error {
	row, err := toRow(task)
	if err != nil {
		return err
	}
	if _, err := r.db.NamedExecContext(ctx, upsertTask, row); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

func (r *TaskRepository) GetByID(ctx context.Context, id domain.TaskID) (domain.Task, error) {
	var row taskRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM drawq_tasks WHERE id = $1`, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	return fromRow(row)
}

func (r *TaskRepository) Delete(ctx context.Context, id domain.TaskID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM drawq_tasks WHERE id = $1`, string(id))
	if err != nil {
		return fmt.Errorf("delete task %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, id)
	}
	return nil
}

func (r *TaskRepository) ListActive(ctx context.Context, account domain.AccountID, statuses []domain.TaskStatus, since time.Time) ([]domain.Task, error) {
	names := make([]string, 0, len(statuses))
	for _, status := range statuses {
		names = append(names, string(status))
	}

	var rows []taskRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM drawq_tasks
		WHERE account_id = $1 AND status = ANY($2) AND submit_time >= $3
		ORDER BY submit_time ASC`,
		string(account), pq.Array(names), since,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks of %s: %w", account, err)
	}

	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		task, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func toRow(task domain.Task) (taskRow, error) {
	properties := task.Properties
	if properties == nil {
		properties = map[string]string{}
	}
	data, err := json.Marshal(properties)
	if err != nil {
		return taskRow{}, fmt.Errorf("encode properties of %s: %w", task.ID, err)
	}

	return taskRow{
		ID:         string(task.ID),
		Action:     string(task.Action),
		Status:     string(task.Status),
		Mode:       string(task.Mode),
		AccountID:  string(task.AccountID),
		ParentID:   string(task.ParentID),
		Prompt:     task.Prompt,
		SubmitTime: task.SubmitTime,
		StartTime:  nullTime(task.StartTime),
		FinishTime: nullTime(task.FinishTime),
		Progress:   task.Progress,
		FailReason: task.FailReason,
		ImageURL:   task.ImageURL,
		Properties: data,
	}, nil
}

func fromRow(row taskRow) (domain.Task, error) {
	var properties map[string]string
	if len(row.Properties) > 0 {
		if err := json.Unmarshal(row.Properties, &properties); err != nil {
			return domain.Task{}, fmt.Errorf("decode properties of %s: %w", row.ID, err)
		}
	}

	return domain.Task{
		ID:         domain.TaskID(row.ID),
		Action:     domain.ActionKind(row.Action),
		Status:     domain.TaskStatus(row.Status),
		Mode:       domain.SpeedMode(row.Mode),
		AccountID:  domain.AccountID(row.AccountID),
		ParentID:   domain.TaskID(row.ParentID),
		Prompt:     row.Prompt,
		SubmitTime: row.SubmitTime,
		StartTime:  row.StartTime.Time,
		FinishTime: row.FinishTime.Time,
		Progress:   row.Progress,
		FailReason: row.FailReason,
		ImageURL:   row.ImageURL,
		Properties: properties,
	}, nil
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}
