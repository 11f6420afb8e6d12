package clients

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

// MySQLConfig builds the driver config for a MySQL-protocol engine. StarRocks
// FE speaks the same protocol.
func MySQLConfig(cfg *models.ConnectionConfig, timeout time.Duration) *mysql.Config {
	c := mysql.NewConfig()
	c.User = cfg.Username
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Addr()
	c.DBName = cfg.Database
	c.Timeout = timeout
	c.ParseTime = true
	c.AllowNativePasswords = true
	return c
}

// OpenMySQL opens and pings a pool for a MySQL-protocol engine.
func OpenMySQL(ctx context.Context, cfg *models.ConnectionConfig, timeout time.Duration) (*sql.DB, error) {
	connector, err := mysql.NewConnector(MySQLConfig(cfg, timeout))
	if err != nil {
		return nil, connErr(cfg, err)
	}
	db := sql.OpenDB(connector)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, connErr(cfg, err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	return db, nil
}

type sqlClient struct {
	db *sql.DB
}

func openMySQLProtocol(ctx context.Context, cfg *models.ConnectionConfig, timeout time.Duration) (*sqlClient, error) {
	db, err := OpenMySQL(ctx, cfg, timeout)
	if err != nil {
		return nil, err
	}
	return &sqlClient{db: db}, nil
}

func (c *sqlClient) Exec(ctx context.Context, statement string) error {
	_, err := c.db.ExecContext(ctx, statement)
	return err
}

func (c *sqlClient) TableExists(ctx context.Context, database, table string) (bool, error) {
	var n int
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = ? AND table_name = ?`,
		database, table,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check table %s.%s: %w", database, table, err)
	}
	return n > 0, nil
}

func (c *sqlClient) Close() error { return c.db.Close() }
