package config

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/store"
)

// InitDatabase opens the task store database.
func InitDatabase(ctx context.Context, cfg *StoreConfig, logger *slog.Logger) (*sql.DB, store.Driver, error) {
	driver := store.Driver(cfg.Driver)
	dsn := cfg.DSN

	if driver == store.DriverMySQL {
		mc, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, "", fmt.Errorf("failed to parse store DSN: %w", err)
		}
		mc.ParseTime = true
		mc.MultiStatements = true
		dsn = mc.FormatDSN()
	}

	db, err := sql.Open(string(driver), dsn)
	if err != nil {
		return nil, "", fmt.Errorf("failed to open store database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err = db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, "", fmt.Errorf("failed to ping store database: %w", err)
	}

	if driver == store.DriverSQLite {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}

	logger.Info("connected to task store", "driver", driver, "dsn", MaskDSN(driver, dsn))
	return db, driver, nil
}

// MaskDSN hides the password of a MySQL DSN. Other DSNs carry no password
// and are returned unchanged.
func MaskDSN(driver store.Driver, dsn string) string {
	if driver != store.DriverMySQL {
		return dsn
	}
	mc, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "<unparseable dsn>"
	}
	if mc.Passwd != "" {
		mc.Passwd = "****"
	}
	return mc.FormatDSN()
}
