package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/services"
)

type fakeTasks struct {
	submitted []models.SyncRequest
	batch     []models.SyncRequest
	filter    models.TaskFilter
	err       error
	tasks     map[int64]*models.SyncTask
}

func (f *fakeTasks) Submit(_ context.Context, req models.SyncRequest) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.submitted = append(f.submitted, req)
	return int64(len(f.submitted)), nil
}

func (f *fakeTasks) SubmitBatch(_ context.Context, reqs []models.SyncRequest) ([]int64, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batch = reqs
	ids := make([]int64, len(reqs))
	for i := range reqs {
		ids[i] = int64(i + 10)
	}
	return ids, nil
}

func (f *fakeTasks) Cancel(_ context.Context, id int64) error {
	t, ok := f.tasks[id]
	if !ok {
		return &apperr.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status.IsTerminal() {
		return &apperr.NotCancellableError{TaskID: id, Status: string(t.Status)}
	}
	return nil
}

func (f *fakeTasks) Retry(_ context.Context, id int64) (int64, error) {
	t, ok := f.tasks[id]
	if !ok {
		return 0, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	if t.Status != models.StatusFailed {
		return 0, &apperr.NotRetryableError{TaskID: id, Status: string(t.Status)}
	}
	return 99, nil
}

func (f *fakeTasks) GetTask(_ context.Context, id int64) (*models.SyncTask, error) {
	t, ok := f.tasks[id]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	return t, nil
}

func (f *fakeTasks) GetProgress(ctx context.Context, id int64) (models.SyncProgress, error) {
	t, err := f.GetTask(ctx, id)
	if err != nil {
		return models.SyncProgress{}, err
	}
	return t.Progress(), nil
}

func (f *fakeTasks) List(_ context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error) {
	f.filter = filter
	var out []*models.SyncTask
	for _, t := range f.tasks {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeTasks) Logs(_ context.Context, id int64) ([]models.TaskLogEntry, error) {
	if _, ok := f.tasks[id]; !ok {
		return nil, &apperr.NotFoundError{Kind: "task", ID: id}
	}
	return []models.TaskLogEntry{{ID: 1, TaskID: id, Level: models.LevelInfo, Message: "create_intermediate_source: ok"}}, nil
}

func (f *fakeTasks) TestConnection(_ context.Context, id int64) error {
	if id == 2 {
		return &apperr.ConnectionError{Engine: "risingwave", Err: io.ErrUnexpectedEOF}
	}
	return nil
}

func newServer(f *fakeTasks) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(f, slog.New(slog.NewTextHandler(io.Discard, nil))).Routes(mux)
	return mux
}

func do(t *testing.T, mux *http.ServeMux, method, path, body string) (*httptest.ResponseRecorder, Response) {
	t.Helper()
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader(body)))

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func sampleTasks() map[int64]*models.SyncTask {
	running := models.NewTask(models.SyncRequest{SourceDatabase: "shop", SourceTable: "orders", TargetDatabase: "dw", TargetTable: "orders"}, time.Now())
	running.ID = 1
	running.Status = models.StatusRunning
	running.CurrentStepIndex = 1
	running.TotalSteps = 4

	done := running.Clone()
	done.ID = 2
	done.Status = models.StatusCompleted

	failed := running.Clone()
	failed.ID = 3
	failed.Status = models.StatusFailed
	return map[int64]*models.SyncTask{1: running, 2: done, 3: failed}
}

func TestSubmitSync(t *testing.T) {
	f := &fakeTasks{}
	mux := newServer(f)

	rec, resp := do(t, mux, http.MethodPost, "/api/sync", `{
		"source_config_id": 1, "intermediate_config_id": 2, "warehouse_config_id": 3,
		"source_database": "shop", "source_table": "orders",
		"target_database": "dw", "target_table": "orders",
		"options": {"truncate_warehouse_table": true}
	}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, resp.Success)
	assert.Equal(t, map[string]any{"task_id": float64(1)}, resp.Data)
	require.Len(t, f.submitted, 1)
	assert.True(t, f.submitted[0].Options.TruncateWarehouseTable)

	rec, resp = do(t, mux, http.MethodPost, "/api/sync", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidInput, resp.Code)
}

func TestSubmitSyncErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   apperr.Code
	}{
		{"validation", apperr.InvalidInput("source table is required"), http.StatusBadRequest, apperr.CodeInvalidInput},
		{"unknown connection", &apperr.NotFoundError{Kind: "connection", ID: 5}, http.StatusNotFound, apperr.CodeNotFound},
		{"wrong engine", apperr.InvalidConfig("warehouse connection 3 is mysql"), http.StatusBadRequest, apperr.CodeInvalidConfig},
		{"shutting down", services.ErrShuttingDown, http.StatusServiceUnavailable, apperr.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := do(t, newServer(&fakeTasks{err: tt.err}), http.MethodPost, "/api/sync", `{}`)
			assert.Equal(t, tt.status, rec.Code)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestSubmitBatch(t *testing.T) {
	f := &fakeTasks{}
	rec, resp := do(t, newServer(f), http.MethodPost, "/api/sync/batch", `{"requests":[{"source_table":"a"},{"source_table":"b"}]}`)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{"task_ids": []any{float64(10), float64(11)}}, resp.Data)
	assert.Len(t, f.batch, 2)
}

func TestListTasks(t *testing.T) {
	f := &fakeTasks{tasks: sampleTasks()}
	mux := newServer(f)

	rec, resp := do(t, mux, http.MethodGet, "/api/tasks?status=failed&limit=1000&offset=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, f.filter.Status)
	assert.Equal(t, models.StatusFailed, *f.filter.Status)
	assert.Equal(t, 500, f.filter.Limit)
	assert.Equal(t, 5, f.filter.Offset)

	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 3, data["total"])

	rec, resp = do(t, mux, http.MethodGet, "/api/tasks?status=paused", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, apperr.CodeInvalidInput, resp.Code)

	rec, _ = do(t, mux, http.MethodGet, "/api/tasks?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	_, _ = do(t, mux, http.MethodGet, "/api/tasks", "")
	assert.Equal(t, 50, f.filter.Limit)
}

func TestTaskReads(t *testing.T) {
	mux := newServer(&fakeTasks{tasks: sampleTasks()})

	rec, resp := do(t, mux, http.MethodGet, "/api/tasks/1/progress", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	progress := resp.Data.(map[string]any)
	assert.Equal(t, "running", progress["status"])
	assert.EqualValues(t, 1, progress["current_step_index"])
	assert.EqualValues(t, 4, progress["total_steps"])

	rec, resp = do(t, mux, http.MethodGet, "/api/tasks/1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Sync shop.orders -> dw.orders", resp.Data.(map[string]any)["name"])

	rec, resp = do(t, mux, http.MethodGet, "/api/tasks/1/logs", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, resp.Data, 1)

	rec, resp = do(t, mux, http.MethodGet, "/api/tasks/42/progress", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, apperr.CodeNotFound, resp.Code)

	rec, _ = do(t, mux, http.MethodGet, "/api/tasks/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelAndRetry(t *testing.T) {
	mux := newServer(&fakeTasks{tasks: sampleTasks()})

	rec, _ := do(t, mux, http.MethodPost, "/api/tasks/1/cancel", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, resp := do(t, mux, http.MethodPost, "/api/tasks/2/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeNotCancellable, resp.Code)

	rec, resp = do(t, mux, http.MethodPost, "/api/tasks/3/retry", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, map[string]any{"new_task_id": float64(99)}, resp.Data)

	rec, resp = do(t, mux, http.MethodPost, "/api/tasks/1/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperr.CodeNotRetryable, resp.Code)
}

func TestConnectionCheck(t *testing.T) {
	mux := newServer(&fakeTasks{})

	rec, resp := do(t, mux, http.MethodPost, "/api/connections/1/test", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, resp.Success)

	rec, resp = do(t, mux, http.MethodPost, "/api/connections/2/test", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, apperr.CodeConnection, resp.Code)
}

func TestHealth(t *testing.T) {
	rec, resp := do(t, newServer(&fakeTasks{}), http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Service is running", resp.Message)
}
