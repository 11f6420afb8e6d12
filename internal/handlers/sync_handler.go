package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/services"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/store"
)

// TaskService is what the handlers need from the task manager.
type TaskService interface {
	Submit(ctx context.Context, req models.SyncRequest) (int64, error)
	SubmitBatch(ctx context.Context, reqs []models.SyncRequest) ([]int64, error)
	Cancel(ctx context.Context, id int64) error
	Retry(ctx context.Context, id int64) (int64, error)
	GetTask(ctx context.Context, id int64) (*models.SyncTask, error)
	GetProgress(ctx context.Context, id int64) (models.SyncProgress, error)
	List(ctx context.Context, filter models.TaskFilter) ([]*models.SyncTask, int, error)
	Logs(ctx context.Context, id int64) ([]models.TaskLogEntry, error)
	TestConnection(ctx context.Context, configID int64) error
}

// Handler holds service dependencies
type Handler struct {
	tasks  TaskService
	logger *slog.Logger
}

func NewHandler(tasks TaskService, logger *slog.Logger) *Handler {
	return &Handler{
		tasks:  tasks,
		logger: logger,
	}
}

type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp,omitempty"`
	Error     string      `json:"error,omitempty"`
	Code      apperr.Code `json:"code,omitempty"`
}

type BatchSyncRequest struct {
	Requests []models.SyncRequest `json:"requests"`
}

type taskIDResponse struct {
	TaskID int64 `json:"task_id"`
}

type taskListResponse struct {
	Tasks  []*models.SyncTask `json:"tasks"`
	Total  int                `json:"total"`
	Limit  int                `json:"limit"`
	Offset int                `json:"offset"`
}

// Routes registers every endpoint on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthHandler)
	mux.HandleFunc("POST /api/sync", h.SubmitSyncHandler)
	mux.HandleFunc("POST /api/sync/batch", h.SubmitBatchHandler)
	mux.HandleFunc("GET /api/tasks", h.ListTasksHandler)
	mux.HandleFunc("GET /api/tasks/{id}", h.GetTaskHandler)
	mux.HandleFunc("GET /api/tasks/{id}/progress", h.ProgressHandler)
	mux.HandleFunc("GET /api/tasks/{id}/logs", h.LogsHandler)
	mux.HandleFunc("POST /api/tasks/{id}/cancel", h.CancelHandler)
	mux.HandleFunc("POST /api/tasks/{id}/retry", h.RetryHandler)
	mux.HandleFunc("POST /api/connections/{id}/test", h.TestConnectionHandler)
}

func (h *Handler) SubmitSyncHandler(w http.ResponseWriter, r *http.Request) {
	var req models.SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendErrorResponse(w, "Invalid request body", apperr.CodeInvalidInput, http.StatusBadRequest)
		return
	}

	id, err := h.tasks.Submit(r.Context(), req)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, "Sync task submitted", taskIDResponse{TaskID: id})
}

func (h *Handler) SubmitBatchHandler(w http.ResponseWriter, r *http.Request) {
	var batch BatchSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		sendErrorResponse(w, "Invalid request body", apperr.CodeInvalidInput, http.StatusBadRequest)
		return
	}

	ids, err := h.tasks.SubmitBatch(r.Context(), batch.Requests)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, "Batch submitted", map[string][]int64{"task_ids": ids})
}

func (h *Handler) ListTasksHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter models.TaskFilter

	if s := q.Get("status"); s != "" {
		status, err := models.ParseTaskStatus(s)
		if err != nil {
			h.sendError(w, err)
			return
		}
		filter.Status = &status
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		sendErrorResponse(w, "limit must be an integer", apperr.CodeInvalidInput, http.StatusBadRequest)
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		sendErrorResponse(w, "offset must be an integer", apperr.CodeInvalidInput, http.StatusBadRequest)
		return
	}

	filter.Limit, filter.Offset = store.ClampPage(filter.Limit, filter.Offset)

	tasks, total, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "", taskListResponse{Tasks: tasks, Total: total, Limit: filter.Limit, Offset: filter.Offset})
}

func (h *Handler) GetTaskHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	task, err := h.tasks.GetTask(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "", task)
}

func (h *Handler) ProgressHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	progress, err := h.tasks.GetProgress(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "", progress)
}

func (h *Handler) LogsHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	logs, err := h.tasks.Logs(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "", logs)
}

func (h *Handler) CancelHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.tasks.Cancel(r.Context(), id); err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "Cancellation requested", nil)
}

func (h *Handler) RetryHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	newID, err := h.tasks.Retry(r.Context(), id)
	if err != nil {
		h.sendError(w, err)
		return
	}
	sendJSON(w, http.StatusAccepted, "Retry submitted", map[string]int64{"new_task_id": newID})
}

func (h *Handler) TestConnectionHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.tasks.TestConnection(r.Context(), id); err != nil {
		h.sendError(w, err)
		return
	}
	sendSuccessResponse(w, "Connection OK", nil)
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	sendSuccessResponse(w, "Service is running", nil)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		sendErrorResponse(w, "id must be a positive integer", apperr.CodeInvalidInput, http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// StatusFor maps an error code to an HTTP status.
func StatusFor(err error) int {
	if errors.Is(err, services.ErrShuttingDown) {
		return http.StatusServiceUnavailable
	}
	switch apperr.CodeOf(err) {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeNotCancellable, apperr.CodeNotRetryable:
		return http.StatusConflict
	case apperr.CodeInvalidInput, apperr.CodeInvalidIdentifier, apperr.CodeUnsupportedType,
		apperr.CodeInvalidConfig, apperr.CodeInvalidOptions:
		return http.StatusBadRequest
	case apperr.CodeConnection, apperr.CodeStatementExecution:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) sendError(w http.ResponseWriter, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "error", err, "status", status)
	}
	sendErrorResponse(w, err.Error(), apperr.CodeOf(err), status)
}

func sendSuccessResponse(w http.ResponseWriter, message string, data interface{}) {
	sendJSON(w, http.StatusOK, message, data)
}

func sendJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	response := Response{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

func sendErrorResponse(w http.ResponseWriter, message string, code apperr.Code, statusCode int) {
	response := Response{
		Success:   false,
		Error:     message,
		Code:      code,
		Timestamp: time.Now().Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(response)
}
