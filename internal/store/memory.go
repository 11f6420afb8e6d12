package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/moby/locker"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     *locker.Locker
	tasks    map[int64]*models.SyncTask
	logs     map[int64][]models.TaskLogEntry
	nextTask int64
	nextLog  int64
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:  locker.New(),
		tasks: make(map[int64]*models.SyncTask),
		logs:  make(map[int64][]models.TaskLogEntry),
		now:   time.Now,
	}
}

func (s *MemoryStore) CreateTask(_ context.Context, t *models.SyncTask) (int64, error) {
	blob, err := encodeTaskOptions(t)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextTask++
	stored := t.Clone()
	stored.ID = s.nextTask
	stored.StartedAt = stored.StartedAt.Truncate(time.Microsecond)
	stored.RawOptions = blob
	decodeOptions(stored)
	s.tasks[stored.ID] = stored
	t.ID = stored.ID
	return stored.ID, nil
}

func (s *MemoryStore) GetTask(_ context.Context, id int64) (*models.SyncTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	return t.Clone(), nil
}

func (s *MemoryStore) UpdateTask(ctx context.Context, id int64, mutate func(*models.SyncTask) error) (*models.SyncTask, error) {
	unlock := lockTask(s.keys, id)
	defer unlock()

	current, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.ID = id

	s.mu.Lock()
	s.tasks[id] = current.Clone()
	s.mu.Unlock()
	return current, nil
}

func (s *MemoryStore) ListTasks(_ context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error) {
	limit, offset := ClampPage(filter.Limit, filter.Offset)

	s.mu.RLock()
	matched := make([]*models.SyncTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if filter.Status == nil || t.Status == *filter.Status {
			matched = append(matched, t.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].StartedAt.Equal(matched[j].StartedAt) {
			return matched[i].StartedAt.After(matched[j].StartedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	if offset >= total {
		return []*models.SyncTask{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, statuses ...models.TaskStatus) ([]*models.SyncTask, error) {
	want := make(map[models.TaskStatus]bool, len(statuses))
	for _, st := range statuses {
		want[st] = true
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.SyncTask
	for _, t := range s.tasks {
		if want[t.Status] {
			out = append(out, t.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AppendLog(_ context.Context, taskID int64, level models.LogLevel, message string) (*models.TaskLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, &apperr.NotFoundError{Kind: "task", ID: taskID}
	}
	s.nextLog++
	entry := models.TaskLogEntry{
		ID:        s.nextLog,
		TaskID:    taskID,
		Level:     level,
		Message:   message,
		CreatedAt: s.now().Truncate(time.Microsecond),
	}
	s.logs[taskID] = append(s.logs[taskID], entry)
	return &entry, nil
}

func (s *MemoryStore) ListLogs(_ context.Context, taskID int64) ([]models.TaskLogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tasks[taskID]; !ok {
		return nil, &apperr.NotFoundError{Kind: "task", ID: taskID}
	}
	out := make([]models.TaskLogEntry, len(s.logs[taskID]))
	copy(out, s.logs[taskID])
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

// encodeTaskOptions serializes the task's options, keeping an existing raw
// blob when the options are unknown.
func encodeTaskOptions(t *models.SyncTask) (string, error) {
	if t.Options == nil {
		return t.RawOptions, nil
	}
	return models.EncodeOptions(*t.Options)
}
