package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/moby/locker"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// Driver names a database/sql driver the SQL store supports.
type Driver string

const (
	DriverMySQL  Driver = "mysql"
	DriverSQLite Driver = "sqlite"
)

const taskColumns = `id, name, source_config_id, intermediate_config_id, warehouse_config_id,
	source_database, source_table, target_database, target_table, options, status,
	current_step, current_step_index, total_steps, cancel_requested, error_message,
	started_at, completed_at`

// SQLStore keeps tasks in MySQL or SQLite.
type SQLStore struct {
	db     *sql.DB
	driver Driver
	keys   *locker.Locker
	now    func() time.Time
}

func NewSQLStore(db *sql.DB, driver Driver) *SQLStore {
	return &SQLStore{db: db, driver: driver, keys: locker.New(), now: time.Now}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.SyncTask, error) {
	var (
		t           models.SyncTask
		status      string
		errMsg      sql.NullString
		startedAt   int64
		completedAt sql.NullInt64
	)
	err := row.Scan(
		&t.ID, &t.Name, &t.SourceConfigID, &t.IntermediateConfigID, &t.WarehouseConfigID,
		&t.SourceDatabase, &t.SourceTable, &t.TargetDatabase, &t.TargetTable, &t.RawOptions, &status,
		&t.CurrentStep, &t.CurrentStepIndex, &t.TotalSteps, &t.CancelRequested, &errMsg,
		&startedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	t.StartedAt = fromMicros(startedAt)
	if completedAt.Valid {
		ts := fromMicros(completedAt.Int64)
		t.CompletedAt = &ts
	}
	if errMsg.Valid {
		msg := errMsg.String
		t.ErrorMessage = &msg
	}
	decodeOptions(&t)
	return &t, nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func fromMicros(v int64) time.Time { return time.UnixMicro(v).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func (s *SQLStore) CreateTask(ctx context.Context, t *models.SyncTask) (int64, error) {
	blob, err := encodeTaskOptions(t)
	if err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `INSERT INTO sync_tasks (
		name, source_config_id, intermediate_config_id, warehouse_config_id,
		source_database, source_table, target_database, target_table, options, status,
		current_step, current_step_index, total_steps, cancel_requested, error_message,
		started_at, completed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.Name, t.SourceConfigID, t.IntermediateConfigID, t.WarehouseConfigID,
		t.SourceDatabase, t.SourceTable, t.TargetDatabase, t.TargetTable, blob, string(t.Status),
		t.CurrentStep, t.CurrentStepIndex, t.TotalSteps, t.CancelRequested, nullString(t.ErrorMessage),
		toMicros(t.StartedAt), nullMicros(t.CompletedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert task: last insert id: %w", err)
	}
	t.ID = id
	return id, nil
}

func (s *SQLStore) GetTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get task %d: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) lockClause() string {
	if s.driver == DriverMySQL {
		return " FOR UPDATE"
	}
	return ""
}

func (s *SQLStore) UpdateTask(ctx context.Context, id int64, mutate func(*models.SyncTask) error) (*models.SyncTask, error) {
	unlock := lockTask(s.keys, id)
	defer unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update task %d: begin: %w", id, err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE id = ?`+s.lockClause(), id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("update task %d: load: %w", id, err)
	}

	if err := mutate(t); err != nil {
		return nil, err
	}
	t.ID = id

	_, err = tx.ExecContext(ctx, `UPDATE sync_tasks SET
		status = ?, current_step = ?, current_step_index = ?, total_steps = ?,
		cancel_requested = ?, error_message = ?, completed_at = ?
		WHERE id = ?`,
		string(t.Status), t.CurrentStep, t.CurrentStepIndex, t.TotalSteps,
		t.CancelRequested, nullString(t.ErrorMessage), nullMicros(t.CompletedAt),
		id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task %d: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update task %d: commit: %w", id, err)
	}
	return t, nil
}

func (s *SQLStore) ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error) {
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	where := ""
	var args []any
	if filter.Status != nil {
		where = " WHERE status = ?"
		args = append(args, string(*filter.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_tasks`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	query := `SELECT ` + taskColumns + ` FROM sync_tasks` + where +
		` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	rows, err := s.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*models.SyncTask, 0, limit)
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("list tasks: scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, total, rows.Err()
}

func (s *SQLStore) ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]*models.SyncTask, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]any, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM sync_tasks WHERE status IN (`+
		strings.Join(placeholders, ", ")+`) ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()

	var tasks []*models.SyncTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("list tasks by status: scan: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLStore) AppendLog(ctx context.Context, taskID int64, level models.LogLevel, message string) (*models.TaskLogEntry, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM sync_tasks WHERE id = ?`, taskID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &apperr.NotFoundError{Kind: "task", ID: taskID}
	}
	if err != nil {
		return nil, fmt.Errorf("append log: %w", err)
	}

	created := s.now().UTC().Truncate(time.Microsecond)
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO task_logs (task_id, level, message, created_at) VALUES (?, ?, ?, ?)`,
		taskID, string(level), message, toMicros(created),
	)
	if err != nil {
		return nil, fmt.Errorf("append log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("append log: last insert id: %w", err)
	}
	return &models.TaskLogEntry{ID: id, TaskID: taskID, Level: level, Message: message, CreatedAt: created}, nil
}

func (s *SQLStore) ListLogs(ctx context.Context, taskID int64) ([]models.TaskLogEntry, error) {
	if _, err := s.GetTask(ctx, taskID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, level, message, created_at FROM task_logs WHERE task_id = ? ORDER BY created_at ASC, id ASC`,
		taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	logs := []models.TaskLogEntry{}
	for rows.Next() {
		var (
			e       models.TaskLogEntry
			level   string
			created int64
		)
		if err := rows.Scan(&e.ID, &e.TaskID, &level, &e.Message, &created); err != nil {
			return nil, fmt.Errorf("list logs: scan: %w", err)
		}
		e.Level = models.LogLevel(level)
		e.CreatedAt = fromMicros(created)
		logs = append(logs, e)
	}
	return logs, rows.Err()
}

func (s *SQLStore) Close() error { return s.db.Close() }
