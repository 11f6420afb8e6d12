// Package clients opens connections to the three engines.
package clients

import (
	"context"
	"time"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// Client runs statements on one engine. Implementations are not safe for
// concurrent use; each task opens its own.
type Client interface {
	Exec(ctx context.Context, statement string) error
	TableExists(ctx context.Context, database, table string) (bool, error)
	Close() error
}

// Connector opens clients for resolved connection configs.
type Connector interface {
	Connect(ctx context.Context, cfg *models.ConnectionConfig) (Client, error)
}

// DefaultConnector dials real engines.
type DefaultConnector struct {
	DialTimeout time.Duration
}

func NewConnector(dialTimeout time.Duration) *DefaultConnector {
	if dialTimeout <= 0 {
		dialTimeout = 10 * time.Second
	}
	return &DefaultConnector{DialTimeout: dialTimeout}
}

func (c *DefaultConnector) Connect(ctx context.Context, cfg *models.ConnectionConfig) (Client, error) {
	ctx, cancel := context.WithTimeout(ctx, c.DialTimeout)
	defer cancel()

	switch cfg.Engine {
	case dialect.MySQL, dialect.StarRocks:
		return openMySQLProtocol(ctx, cfg, c.DialTimeout)
	case dialect.RisingWave:
		return openRisingWave(ctx, cfg)
	}
	return nil, apperr.InvalidConfig("connection %d: unsupported engine %s", cfg.ID, cfg.Engine)
}

func connErr(cfg *models.ConnectionConfig, err error) error {
	return &apperr.ConnectionError{Engine: cfg.Engine.String(), Err: err}
}
