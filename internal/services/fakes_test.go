package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/clients"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeResolver map[int64]*models.ConnectionConfig

func (r fakeResolver) Resolve(id int64) (*models.ConnectionConfig, error) {
	cfg, ok := r[id]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "connection", ID: id}
	}
	return cfg, nil
}

func testResolver() fakeResolver {
	return fakeResolver{
		1: {ID: 1, Engine: dialect.MySQL, Host: "mysql", Port: 3306, Username: "cdc", Password: "pw"},
		2: {ID: 2, Engine: dialect.RisingWave, Host: "rw", Port: 4566, Username: "root"},
		3: {ID: 3, Engine: dialect.StarRocks, Host: "sr", Port: 9030, Username: "root"},
	}
}

type fakeMetadata struct {
	schema *models.TableSchema
	err    error
}

func (m *fakeMetadata) GetTableSchema(_ context.Context, _ *models.ConnectionConfig, database, table string) (*models.TableSchema, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := *m.schema
	s.SourceDatabase, s.SourceTable = database, table
	return &s, nil
}

func ordersSchema() *models.TableSchema {
	return &models.TableSchema{
		Columns: []models.ColumnSchema{
			{Name: "id", SourceType: "bigint"},
			{Name: "amount", SourceType: "decimal(10,2)", Nullable: true},
		},
		PrimaryKeys: []string{"id"},
	}
}

type execCall struct {
	engine    dialect.Dialect
	statement string
}

// fakeEngines records every statement across all clients it hands out.
// onExec runs before each statement with its 1-based sequence number; a
// non-nil return fails the statement.
type fakeEngines struct {
	mu         sync.Mutex
	calls      []execCall
	onExec     func(n int) error
	tableFound bool
	connectErr map[dialect.Dialect]error
	closed     int
}

func (f *fakeEngines) Connect(_ context.Context, cfg *models.ConnectionConfig) (clients.Client, error) {
	if err := f.connectErr[cfg.Engine]; err != nil {
		return nil, &apperr.ConnectionError{Engine: cfg.Engine.String(), Err: err}
	}
	return &fakeClient{engines: f, engine: cfg.Engine}, nil
}

func (f *fakeEngines) statements() []execCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]execCall(nil), f.calls...)
}

type fakeClient struct {
	engines *fakeEngines
	engine  dialect.Dialect
}

func (c *fakeClient) Exec(_ context.Context, statement string) error {
	f := c.engines
	f.mu.Lock()
	f.calls = append(f.calls, execCall{engine: c.engine, statement: statement})
	n := len(f.calls)
	hook := f.onExec
	f.mu.Unlock()

	if hook != nil {
		return hook(n)
	}
	return nil
}

func (c *fakeClient) TableExists(context.Context, string, string) (bool, error) {
	return c.engines.tableFound, nil
}

func (c *fakeClient) Close() error {
	c.engines.mu.Lock()
	c.engines.closed++
	c.engines.mu.Unlock()
	return nil
}

var errBoom = errors.New("boom")

func ordersRequest(opts models.SyncOptions) models.SyncRequest {
	return models.SyncRequest{
		SourceConfigID:       1,
		IntermediateConfigID: 2,
		WarehouseConfigID:    3,
		SourceDatabase:       "shop",
		SourceTable:          "orders",
		TargetDatabase:       "dw",
		TargetTable:          "orders",
		Options:              opts,
	}
}
