package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
)

// TaskStatus is the state of a sync task.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

// ParseTaskStatus accepts a status name in any case.
func ParseTaskStatus(s string) (TaskStatus, error) {
	switch st := TaskStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return st, nil
	}
	return "", apperr.InvalidInput("unknown task status %q", s)
}

// IsTerminal reports whether no further transition is possible.
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransitionTo enforces Pending -> Running -> {Completed|Failed|Cancelled}.
// Pending may also move straight to a terminal state when the task never
// reaches a worker.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusRunning || next == StatusFailed || next == StatusCancelled
	case StatusRunning:
		return next.IsTerminal()
	}
	return false
}

// SyncRequest describes one logical table migration.
type SyncRequest struct {
	SourceConfigID       int64       `json:"source_config_id"`
	IntermediateConfigID int64       `json:"intermediate_config_id"`
	WarehouseConfigID    int64       `json:"warehouse_config_id"`
	SourceDatabase       string      `json:"source_database"`
	SourceTable          string      `json:"source_table"`
	TargetDatabase       string      `json:"target_database"`
	TargetTable          string      `json:"target_table"`
	Options              SyncOptions `json:"options"`
}

// Validate checks required fields.
func (r *SyncRequest) Validate() error {
	switch {
	case r.SourceConfigID <= 0 || r.IntermediateConfigID <= 0 || r.WarehouseConfigID <= 0:
		return apperr.InvalidInput("source, intermediate and warehouse config ids are required")
	case strings.TrimSpace(r.SourceDatabase) == "" || strings.TrimSpace(r.SourceTable) == "":
		return apperr.InvalidInput("source database and table are required")
	case strings.TrimSpace(r.TargetDatabase) == "" || strings.TrimSpace(r.TargetTable) == "":
		return apperr.InvalidInput("target database and table are required")
	}
	return nil
}

// SameConfigs reports whether both requests use the same three connections.
func (r *SyncRequest) SameConfigs(o *SyncRequest) bool {
	return r.SourceConfigID == o.SourceConfigID &&
		r.IntermediateConfigID == o.IntermediateConfigID &&
		r.WarehouseConfigID == o.WarehouseConfigID
}

// TaskName is the display name of a task created from r.
func (r *SyncRequest) TaskName() string {
	return fmt.Sprintf("Sync %s.%s -> %s.%s", r.SourceDatabase, r.SourceTable, r.TargetDatabase, r.TargetTable)
}

// SyncTask is the persisted record of one submitted request.
type SyncTask struct {
	ID                   int64      `json:"id"`
	Name                 string     `json:"name"`
	SourceConfigID       int64      `json:"source_config_id"`
	IntermediateConfigID int64      `json:"intermediate_config_id"`
	WarehouseConfigID    int64      `json:"warehouse_config_id"`
	SourceDatabase       string     `json:"source_database"`
	SourceTable          string     `json:"source_table"`
	TargetDatabase       string     `json:"target_database"`
	TargetTable          string     `json:"target_table"`
	Status               TaskStatus `json:"status"`
	StartedAt            time.Time  `json:"started_at"`
	CompletedAt          *time.Time `json:"completed_at,omitempty"`
	ErrorMessage         *string    `json:"error_message,omitempty"`

	// Options is nil when the stored blob could not be decoded.
	Options        *SyncOptions `json:"options,omitempty"`
	OptionsUnknown bool         `json:"options_unknown,omitempty"`
	RawOptions     string       `json:"-"`

	CurrentStep      string `json:"current_step,omitempty"`
	CurrentStepIndex int    `json:"current_step_index"`
	TotalSteps       int    `json:"total_steps"`
	CancelRequested  bool   `json:"cancel_requested,omitempty"`
}

// NewTask builds a pending task record for req. StartedAt is the submission
// time.
func NewTask(req SyncRequest, now time.Time) *SyncTask {
	opts := req.Options.Normalize()
	return &SyncTask{
		Name:                 req.TaskName(),
		SourceConfigID:       req.SourceConfigID,
		IntermediateConfigID: req.IntermediateConfigID,
		WarehouseConfigID:    req.WarehouseConfigID,
		SourceDatabase:       req.SourceDatabase,
		SourceTable:          req.SourceTable,
		TargetDatabase:       req.TargetDatabase,
		TargetTable:          req.TargetTable,
		Status:               StatusPending,
		StartedAt:            now,
		Options:              &opts,
		CurrentStepIndex:     -1,
	}
}

// Request rebuilds the request the task was created from. It fails when the
// options blob is unknown, since an identical request cannot be produced.
func (t *SyncTask) Request() (SyncRequest, error) {
	if t.Options == nil {
		return SyncRequest{}, &apperr.ValidationError{
			Kind:    apperr.CodeInvalidOptions,
			Message: fmt.Sprintf("task %d has unreadable options", t.ID),
		}
	}
	return SyncRequest{
		SourceConfigID:       t.SourceConfigID,
		IntermediateConfigID: t.IntermediateConfigID,
		WarehouseConfigID:    t.WarehouseConfigID,
		SourceDatabase:       t.SourceDatabase,
		SourceTable:          t.SourceTable,
		TargetDatabase:       t.TargetDatabase,
		TargetTable:          t.TargetTable,
		Options:              *t.Options,
	}, nil
}

// Progress derives the progress view of the task.
func (t *SyncTask) Progress() SyncProgress {
	return SyncProgress{
		TaskID:           t.ID,
		Status:           t.Status,
		CurrentStep:      t.CurrentStep,
		CurrentStepIndex: t.CurrentStepIndex,
		TotalSteps:       t.TotalSteps,
	}
}

// Clone returns a deep copy.
func (t *SyncTask) Clone() *SyncTask {
	if t == nil {
		return nil
	}
	c := *t
	if t.CompletedAt != nil {
		v := *t.CompletedAt
		c.CompletedAt = &v
	}
	if t.ErrorMessage != nil {
		v := *t.ErrorMessage
		c.ErrorMessage = &v
	}
	if t.Options != nil {
		v := *t.Options
		c.Options = &v
	}
	return &c
}

// LogLevel is the severity of a task log entry.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// TaskLogEntry is one append-only log line of a task.
type TaskLogEntry struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SyncProgress is the derived progress view of a task. CurrentStepIndex is
// zero-based and -1 until the first step has run.
type SyncProgress struct {
	TaskID           int64      `json:"task_id"`
	Status           TaskStatus `json:"status"`
	CurrentStep      string     `json:"current_step,omitempty"`
	CurrentStepIndex int        `json:"current_step_index"`
	TotalSteps       int        `json:"total_steps"`
}

// TaskFilter selects tasks for listing.
type TaskFilter struct {
	Status *TaskStatus
	Limit  int
	Offset int
}
