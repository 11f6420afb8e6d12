package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/clients"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/ddl"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/store"
)

// ConnectionResolver looks up connection configs by id.
type ConnectionResolver interface {
	Resolve(id int64) (*models.ConnectionConfig, error)
}

// Runner drives one task to a terminal state.
type Runner interface {
	Run(ctx context.Context, taskID int64, token *CancelToken)
}

var errNotStartable = errors.New("task is no longer pending")

// SyncEngine executes the step plan of a task against the engines.
type SyncEngine struct {
	store            store.TaskStore
	resolver         ConnectionResolver
	metadata         MetadataService
	connector        clients.Connector
	generator        *ddl.Generator
	statementTimeout time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

type EngineOptions struct {
	StatementTimeout time.Duration
	Generator        *ddl.Generator
}

func NewSyncEngine(st store.TaskStore, resolver ConnectionResolver, metadata MetadataService, connector clients.Connector, opts EngineOptions, logger *slog.Logger) *SyncEngine {
	if opts.StatementTimeout <= 0 {
		opts.StatementTimeout = 5 * time.Minute
	}
	if opts.Generator == nil {
		opts.Generator = ddl.NewGenerator(ddl.DefaultConfig())
	}
	return &SyncEngine{
		store:            st,
		resolver:         resolver,
		metadata:         metadata,
		connector:        connector,
		generator:        opts.Generator,
		statementTimeout: opts.StatementTimeout,
		logger:           logger,
		now:              time.Now,
	}
}

type resolvedConfigs struct {
	source       *models.ConnectionConfig
	intermediate *models.ConnectionConfig
	warehouse    *models.ConnectionConfig
}

// resolveConfigs resolves the three connections of req and checks each one
// is the engine its role requires.
func resolveConfigs(resolver ConnectionResolver, req *models.SyncRequest) (*resolvedConfigs, error) {
	roles := []struct {
		role   string
		id     int64
		engine dialect.Dialect
	}{
		{"source", req.SourceConfigID, dialect.MySQL},
		{"intermediate", req.IntermediateConfigID, dialect.RisingWave},
		{"warehouse", req.WarehouseConfigID, dialect.StarRocks},
	}

	out := make([]*models.ConnectionConfig, len(roles))
	for i, r := range roles {
		cfg, err := resolver.Resolve(r.id)
		if err != nil {
			return nil, err
		}
		if cfg.Engine != r.engine {
			return nil, apperr.InvalidConfig("%s connection %d is %s, want %s", r.role, r.id, cfg.Engine, r.engine)
		}
		out[i] = cfg
	}
	return &resolvedConfigs{source: out[0], intermediate: out[1], warehouse: out[2]}, nil
}

// Run never returns an error: every outcome is recorded on the task.
func (e *SyncEngine) Run(ctx context.Context, taskID int64, token *CancelToken) {
	ctx = context.WithoutCancel(ctx)
	logger := e.logger.With("task_id", taskID)

	task, err := e.store.UpdateTask(ctx, taskID, func(t *models.SyncTask) error {
		if t.Status != models.StatusPending {
			return errNotStartable
		}
		t.Status = models.StatusRunning
		return nil
	})
	if err != nil {
		logger.Warn("task not started", "error", err)
		return
	}

	if token.Cancelled() {
		e.cancel(ctx, logger, taskID, "cancelled before start")
		return
	}

	req, err := task.Request()
	if err != nil {
		e.fail(ctx, logger, taskID, err)
		return
	}

	steps, intermediate, warehouse, err := e.prepare(ctx, &req)
	if err != nil {
		e.fail(ctx, logger, taskID, err)
		return
	}
	defer intermediate.Close()
	defer warehouse.Close()

	if _, err := e.store.UpdateTask(ctx, taskID, func(t *models.SyncTask) error {
		t.TotalSteps = len(steps)
		return nil
	}); err != nil {
		logger.Error("failed to record plan", "error", err)
	}
	logger.Info("pipeline planned", "steps", len(steps), "source", req.SourceDatabase+"."+req.SourceTable)

	for i, step := range steps {
		if token.Cancelled() {
			e.cancel(ctx, logger, taskID, fmt.Sprintf("cancelled before step %s", step.Name))
			return
		}

		client := warehouse
		if step.Target == dialect.RisingWave {
			client = intermediate
		}

		skipped, execErr := e.execute(ctx, client, step)

		level, msg := models.LevelInfo, step.Name+": ok"
		switch {
		case execErr != nil:
			level, msg = models.LevelError, step.Name+": "+execErr.Error()
		case skipped:
			msg = step.Name + ": skipped, table does not exist"
		}
		if _, err := e.store.AppendLog(ctx, taskID, level, msg); err != nil {
			logger.Error("failed to append step log", "step", step.Name, "error", err)
		}

		index := i
		if _, err := e.store.UpdateTask(ctx, taskID, func(t *models.SyncTask) error {
			t.CurrentStep = step.Name
			t.CurrentStepIndex = index
			return nil
		}); err != nil {
			logger.Error("failed to record progress", "step", step.Name, "error", err)
		}

		if execErr != nil {
			stepErr := &apperr.StatementExecutionError{Step: step.Name, Engine: step.Target.String(), Err: execErr}
			logger.Error("step failed", "step", step.Name, "engine", step.Target.String(), "error", execErr)
			e.finish(ctx, logger, taskID, models.StatusFailed, stepErr.Error())
			return
		}
		logger.Debug("step done", "step", step.Name, "index", i, "skipped", skipped)
	}

	e.finish(ctx, logger, taskID, models.StatusCompleted, "")
}

func (e *SyncEngine) prepare(ctx context.Context, req *models.SyncRequest) ([]ddl.Step, clients.Client, clients.Client, error) {
	cfgs, err := resolveConfigs(e.resolver, req)
	if err != nil {
		return nil, nil, nil, err
	}

	schema, err := e.metadata.GetTableSchema(ctx, cfgs.source, req.SourceDatabase, req.SourceTable)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read source schema: %w", err)
	}

	steps, err := e.generator.Generate(ddl.Input{
		Schema:         schema,
		Source:         cfgs.source,
		Warehouse:      cfgs.warehouse,
		TargetDatabase: req.TargetDatabase,
		TargetTable:    req.TargetTable,
		Options:        req.Options,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("generate statements: %w", err)
	}

	intermediate, err := e.connector.Connect(ctx, cfgs.intermediate)
	if err != nil {
		return nil, nil, nil, err
	}
	warehouse, err := e.connector.Connect(ctx, cfgs.warehouse)
	if err != nil {
		intermediate.Close()
		return nil, nil, nil, err
	}
	return steps, intermediate, warehouse, nil
}

// execute runs one step under its own timeout. Guarded steps whose table is
// missing are skipped.
func (e *SyncEngine) execute(ctx context.Context, client clients.Client, step ddl.Step) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, e.statementTimeout)
	defer cancel()

	if step.Guard != nil {
		exists, err := client.TableExists(ctx, step.Guard.Database, step.Guard.Table)
		if err != nil {
			return false, err
		}
		if !exists {
			return true, nil
		}
	}
	return false, client.Exec(ctx, step.Statement)
}

func (e *SyncEngine) fail(ctx context.Context, logger *slog.Logger, taskID int64, cause error) {
	logger.Error("task failed before steps", "error", cause, "code", apperr.CodeOf(cause))
	if _, err := e.store.AppendLog(ctx, taskID, models.LevelError, cause.Error()); err != nil {
		logger.Error("failed to append log", "error", err)
	}
	e.finish(ctx, logger, taskID, models.StatusFailed, cause.Error())
}

func (e *SyncEngine) cancel(ctx context.Context, logger *slog.Logger, taskID int64, note string) {
	logger.Info("task cancelled", "note", note)
	if _, err := e.store.AppendLog(ctx, taskID, models.LevelWarn, note); err != nil {
		logger.Error("failed to append log", "error", err)
	}
	e.finish(ctx, logger, taskID, models.StatusCancelled, "")
}

func (e *SyncEngine) finish(ctx context.Context, logger *slog.Logger, taskID int64, status models.TaskStatus, message string) {
	_, err := e.store.UpdateTask(ctx, taskID, func(t *models.SyncTask) error {
		if !t.Status.CanTransitionTo(status) {
			return fmt.Errorf("illegal transition %s -> %s", t.Status, status)
		}
		now := e.now().UTC()
		t.Status = status
		t.CompletedAt = &now
		if message != "" {
			t.ErrorMessage = &message
		}
		return nil
	})
	if err != nil {
		logger.Error("failed to record outcome", "status", status, "error", err)
		return
	}
	logger.Info("task finished", "status", status)
}
