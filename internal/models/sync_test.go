package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
)

func ordersRequest() SyncRequest {
	return SyncRequest{
		SourceConfigID:       1,
		IntermediateConfigID: 2,
		WarehouseConfigID:    3,
		SourceDatabase:       "shop",
		SourceTable:          "orders",
		TargetDatabase:       "dw",
		TargetTable:          "orders",
	}
}

func TestSyncRequestValidate(t *testing.T) {
	req := ordersRequest()
	require.NoError(t, req.Validate())

	req.WarehouseConfigID = 0
	assert.Equal(t, apperr.CodeInvalidInput, apperr.CodeOf(req.Validate()))

	req = ordersRequest()
	req.TargetTable = "  "
	assert.Error(t, req.Validate())
}

func TestStatusTransitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusRunning))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusRunning.CanTransitionTo(StatusCancelled))
	assert.False(t, StatusRunning.CanTransitionTo(StatusPending))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusFailed))
	assert.False(t, StatusFailed.CanTransitionTo(StatusRunning))

	st, err := ParseTaskStatus("FAILED")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, st)
	_, err = ParseTaskStatus("paused")
	assert.Error(t, err)
}

func TestNewTaskAndRequestRoundTrip(t *testing.T) {
	req := ordersRequest()
	req.Options = SyncOptions{RecreateWarehouseTable: true, TruncateWarehouseTable: true}
	now := time.Now()

	task := NewTask(req, now)
	assert.Equal(t, StatusPending, task.Status)
	assert.Equal(t, -1, task.CurrentStepIndex)
	assert.Equal(t, "Sync shop.orders -> dw.orders", task.Name)
	assert.False(t, task.Options.TruncateWarehouseTable)

	rebuilt, err := task.Request()
	require.NoError(t, err)
	req.Options = req.Options.Normalize()
	assert.Equal(t, req, rebuilt)
}

func TestRequestFailsWithUnknownOptions(t *testing.T) {
	task := NewTask(ordersRequest(), time.Now())
	task.Options = nil
	task.OptionsUnknown = true

	_, err := task.Request()
	assert.Equal(t, apperr.CodeInvalidOptions, apperr.CodeOf(err))
}

func TestCloneIsDeep(t *testing.T) {
	task := NewTask(ordersRequest(), time.Now())
	msg := "boom"
	task.ErrorMessage = &msg

	c := task.Clone()
	*c.ErrorMessage = "changed"
	c.Options.RecreateIntermediateSource = true

	assert.Equal(t, "boom", *task.ErrorMessage)
	assert.False(t, task.Options.RecreateIntermediateSource)
}

func TestTableSchemaValidate(t *testing.T) {
	s := TableSchema{
		SourceDatabase: "shop",
		SourceTable:    "orders",
		Columns:        []ColumnSchema{{Name: "id", SourceType: "int"}, {Name: "amount", SourceType: "decimal(10,2)"}},
		PrimaryKeys:    []string{"id"},
	}
	require.NoError(t, s.Validate())
	assert.True(t, s.IsPrimaryKey("id"))
	assert.False(t, s.IsPrimaryKey("amount"))

	s.PrimaryKeys = []string{"missing"}
	assert.Error(t, s.Validate())

	s.PrimaryKeys = nil
	s.Columns = append(s.Columns, ColumnSchema{Name: "id", SourceType: "int"})
	assert.Error(t, s.Validate())
}
