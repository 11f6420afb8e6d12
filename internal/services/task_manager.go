package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/clients"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/store"
)

// WorkerLostMessage is recorded on tasks whose worker disappeared.
const WorkerLostMessage = "interrupted: worker lost"

var (
	// ErrShuttingDown is returned by Submit after Shutdown has started.
	ErrShuttingDown = errors.New("task manager is shutting down")
	// ErrWorkersActive is returned by Shutdown when cancelled workers did not
	// reach a step boundary within the grace period.
	ErrWorkersActive = errors.New("tasks still running after cancellation")
)

// ManagerOptions tunes a TaskManager. Zero values select the defaults.
type ManagerOptions struct {
	// StaleAfter is how old a worker-less pending or running task must be
	// before ReapOrphans fails it.
	StaleAfter time.Duration
	// CancelGrace is how long Shutdown waits for cancelled workers.
	CancelGrace time.Duration
}

// TaskManager owns task lifecycle: submission, cancellation, retry and the
// read paths over the store.
type TaskManager struct {
	store      store.TaskStore
	runner     Runner
	resolver   ConnectionResolver
	connector  clients.Connector
	logger     *slog.Logger
	staleAfter  time.Duration
	cancelGrace time.Duration
	now         func() time.Time

	mu     sync.Mutex
	live   map[int64]*CancelToken
	closed bool
	wg     sync.WaitGroup
}

func NewTaskManager(st store.TaskStore, runner Runner, resolver ConnectionResolver, connector clients.Connector, opts ManagerOptions, logger *slog.Logger) *TaskManager {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 10 * time.Minute
	}
	if opts.CancelGrace <= 0 {
		opts.CancelGrace = 10 * time.Second
	}
	return &TaskManager{
		store:       st,
		runner:      runner,
		resolver:    resolver,
		connector:   connector,
		logger:      logger,
		staleAfter:  opts.StaleAfter,
		cancelGrace: opts.CancelGrace,
		now:         time.Now,
		live:        make(map[int64]*CancelToken),
	}
}

// Submit persists a pending task and starts it in the background.
func (m *TaskManager) Submit(ctx context.Context, req models.SyncRequest) (int64, error) {
	if err := req.Validate(); err != nil {
		return 0, err
	}
	if _, err := resolveConfigs(m.resolver, &req); err != nil {
		return 0, err
	}
	return m.submit(ctx, req)
}

func (m *TaskManager) submit(ctx context.Context, req models.SyncRequest) (int64, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, ErrShuttingDown
	}
	m.wg.Add(1)
	m.mu.Unlock()

	task := models.NewTask(req, m.now().UTC())
	id, err := m.store.CreateTask(ctx, task)
	if err != nil {
		m.wg.Done()
		return 0, err
	}

	token := NewCancelToken()
	m.mu.Lock()
	m.live[id] = token
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		defer m.release(id)
		m.runner.Run(context.WithoutCancel(ctx), id, token)
	}()

	m.logger.Info("task submitted", "task_id", id, "name", task.Name)
	return id, nil
}

// SubmitBatch submits one task per request. All requests must share the
// same three connection ids; nothing is submitted when validation fails.
func (m *TaskManager) SubmitBatch(ctx context.Context, reqs []models.SyncRequest) ([]int64, error) {
	if len(reqs) == 0 {
		return nil, apperr.InvalidInput("batch is empty")
	}
	for i := range reqs {
		if err := reqs[i].Validate(); err != nil {
			return nil, err
		}
		if !reqs[i].SameConfigs(&reqs[0]) {
			return nil, apperr.InvalidInput("batch request %d uses different connection ids", i)
		}
	}
	if _, err := resolveConfigs(m.resolver, &reqs[0]); err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(reqs))
	for _, req := range reqs {
		id, err := m.submit(ctx, req)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Cancel flags a pending or running task. A task with no live worker in this
// process is moved to Cancelled directly.
func (m *TaskManager) Cancel(ctx context.Context, id int64) error {
	orphaned := false
	_, err := m.store.UpdateTask(ctx, id, func(t *models.SyncTask) error {
		if t.Status.IsTerminal() {
			return &apperr.NotCancellableError{TaskID: id, Status: string(t.Status)}
		}
		t.CancelRequested = true
		if token := m.token(id); token != nil {
			token.Cancel()
			return nil
		}
		orphaned = true
		now := m.now().UTC()
		t.Status = models.StatusCancelled
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}

	if orphaned {
		if _, err := m.store.AppendLog(ctx, id, models.LevelWarn, "cancelled: no active worker"); err != nil {
			m.logger.Error("failed to append log", "task_id", id, "error", err)
		}
	}
	m.logger.Info("task cancel requested", "task_id", id, "orphaned", orphaned)
	return nil
}

// Retry resubmits the request of a failed task as a new task.
func (m *TaskManager) Retry(ctx context.Context, id int64) (int64, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return 0, err
	}
	if task.Status != models.StatusFailed {
		return 0, &apperr.NotRetryableError{TaskID: id, Status: string(task.Status)}
	}
	req, err := task.Request()
	if err != nil {
		return 0, err
	}

	newID, err := m.Submit(ctx, req)
	if err != nil {
		return 0, err
	}
	m.logger.Info("task retried", "task_id", id, "new_task_id", newID)
	return newID, nil
}

func (m *TaskManager) GetTask(ctx context.Context, id int64) (*models.SyncTask, error) {
	return m.store.GetTask(ctx, id)
}

func (m *TaskManager) GetProgress(ctx context.Context, id int64) (models.SyncProgress, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return models.SyncProgress{}, err
	}
	return task.Progress(), nil
}

func (m *TaskManager) List(ctx context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error) {
	return m.store.ListTasks(ctx, filter)
}

func (m *TaskManager) Logs(ctx context.Context, id int64) ([]models.TaskLogEntry, error) {
	return m.store.ListLogs(ctx, id)
}

// TestConnection opens and closes a client for a registered connection.
func (m *TaskManager) TestConnection(ctx context.Context, configID int64) error {
	cfg, err := m.resolver.Resolve(configID)
	if err != nil {
		return err
	}
	client, err := m.connector.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	return client.Close()
}

// ReapOrphans fails pending or running tasks that have no worker in this
// process and started longer than staleAfter ago. It returns how many tasks
// were moved.
func (m *TaskManager) ReapOrphans(ctx context.Context) (int, error) {
	candidates, err := m.store.ListByStatus(ctx, models.StatusPending, models.StatusRunning)
	if err != nil {
		return 0, err
	}

	cutoff := m.now().Add(-m.staleAfter)
	reaped := 0
	for _, c := range candidates {
		if m.token(c.ID) != nil || c.StartedAt.After(cutoff) {
			continue
		}

		moved := false
		_, err := m.store.UpdateTask(ctx, c.ID, func(t *models.SyncTask) error {
			if t.Status.IsTerminal() || m.token(t.ID) != nil {
				return nil
			}
			now := m.now().UTC()
			msg := WorkerLostMessage
			t.Status = models.StatusFailed
			t.CompletedAt = &now
			t.ErrorMessage = &msg
			moved = true
			return nil
		})
		if err != nil {
			m.logger.Error("failed to reap task", "task_id", c.ID, "error", err)
			continue
		}
		if !moved {
			continue
		}
		if _, err := m.store.AppendLog(ctx, c.ID, models.LevelError, WorkerLostMessage); err != nil {
			m.logger.Error("failed to append log", "task_id", c.ID, "error", err)
		}
		reaped++
	}
	if reaped > 0 {
		m.logger.Warn("reaped orphaned tasks", "count", reaped)
	}
	return reaped, nil
}

// Shutdown stops accepting tasks and waits for running workers. If ctx ends
// first, every live task is cancelled and Shutdown waits up to the cancel
// grace period for the workers to record it. ErrWorkersActive means some
// workers are still using the store.
func (m *TaskManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
	}

	m.mu.Lock()
	for _, token := range m.live {
		token.Cancel()
	}
	active := len(m.live)
	m.mu.Unlock()
	m.logger.Warn("shutdown timeout reached, cancelling tasks", "tasks", active, "grace", m.cancelGrace)

	grace := time.NewTimer(m.cancelGrace)
	defer grace.Stop()
	select {
	case <-done:
		return nil
	case <-grace.C:
		m.mu.Lock()
		active = len(m.live)
		m.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrWorkersActive, active)
	}
}

func (m *TaskManager) token(id int64) *CancelToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.live[id]
}

func (m *TaskManager) release(id int64) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}
