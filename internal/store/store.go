// Package store persists sync tasks and their logs.
package store

import (
	"context"
	"strconv"

	"github.com/moby/locker"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// TaskStore is the only state shared between task workers and readers.
// Every mutation of a single task is serialized per task id; different
// tasks are independent.
type TaskStore interface {
	// CreateTask inserts t, assigns its id and returns it.
	CreateTask(ctx context.Context, t *models.SyncTask) (int64, error)
	GetTask(ctx context.Context, id int64) (*models.SyncTask, error)
	// UpdateTask runs mutate on the current record and persists the result
	// atomically. If mutate returns an error nothing is written.
	UpdateTask(ctx context.Context, id int64, mutate func(*models.SyncTask) error) (*models.SyncTask, error)
	ListTasks(ctx context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error)
	ListByStatus(ctx context.Context, statuses ...models.TaskStatus) ([]*models.SyncTask, error)

	AppendLog(ctx context.Context, taskID int64, level models.LogLevel, message string) (*models.TaskLogEntry, error)
	ListLogs(ctx context.Context, taskID int64) ([]models.TaskLogEntry, error)

	Close() error
}

// lockTask blocks until no other writer holds task id and returns the
// matching unlock.
func lockTask(l *locker.Locker, id int64) func() {
	key := strconv.FormatInt(id, 10)
	l.Lock(key)
	return func() { _ = l.Unlock(key) }
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// ClampPage applies the list defaults and bounds.
func ClampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func decodeOptions(t *models.SyncTask) {
	opts, err := models.DecodeOptions(t.RawOptions)
	if err != nil {
		t.Options = nil
		t.OptionsUnknown = true
		return
	}
	t.Options = &opts
	t.OptionsUnknown = false
}
