package clients

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

const (
	risingWaveDefaultDatabase = "dev"
	risingWaveDefaultSchema   = "public"
)

type risingWaveClient struct {
	conn *pgx.Conn
}

// RisingWaveConfig builds the pgx config for a RisingWave frontend.
func RisingWaveConfig(cfg *models.ConnectionConfig) (*pgx.ConnConfig, error) {
	cc, err := pgx.ParseConfig("")
	if err != nil {
		return nil, err
	}
	cc.Host = cfg.Host
	cc.Port = uint16(cfg.Port)
	cc.User = cfg.Username
	cc.Password = cfg.Password
	cc.Database = cfg.Database
	if cc.Database == "" {
		cc.Database = risingWaveDefaultDatabase
	}
	cc.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	return cc, nil
}

func openRisingWave(ctx context.Context, cfg *models.ConnectionConfig) (*risingWaveClient, error) {
	cc, err := RisingWaveConfig(cfg)
	if err != nil {
		return nil, connErr(cfg, err)
	}
	conn, err := pgx.ConnectConfig(ctx, cc)
	if err != nil {
		return nil, connErr(cfg, err)
	}
	return &risingWaveClient{conn: conn}, nil
}

func (c *risingWaveClient) Exec(ctx context.Context, statement string) error {
	_, err := c.conn.Exec(ctx, statement)
	return err
}

// TableExists treats database as the schema name inside the connected
// RisingWave database.
func (c *risingWaveClient) TableExists(ctx context.Context, database, table string) (bool, error) {
	if database == "" {
		database = risingWaveDefaultSchema
	}
	var n int
	err := c.conn.QueryRow(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = $2`,
		database, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", database, table, err)
	}
	return n > 0, nil
}

func (c *risingWaveClient) Close() error {
	return c.conn.Close(context.Background())
}
