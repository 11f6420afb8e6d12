package config

import (
	"fmt"
	"time"

	configLoader "github.com/andiksetyawan/config"
)

type AppConfig struct {
	Server          ServerConfig `envPrefix:"SERVER_"`
	Store           StoreConfig  `envPrefix:"STORE_"`
	Engine          EngineConfig `envPrefix:"ENGINE_"`
	Reaper          ReaperConfig `envPrefix:"REAPER_"`
	Log             LogConfig    `envPrefix:"LOG_"`
	ConnectionsFile string       `env:"CONNECTIONS_FILE" envDefault:"connections.yaml"`
}

type ServerConfig struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
	// CancelGrace is how long cancelled tasks get to reach a step boundary
	// once ShutdownTimeout has passed.
	CancelGrace time.Duration `env:"CANCEL_GRACE" envDefault:"10s"`
}

// StoreConfig selects where tasks and logs are persisted.
type StoreConfig struct {
	Driver         string `env:"DRIVER" envDefault:"sqlite"`
	DSN            string `env:"DSN" envDefault:"file:rw-cdc-sr.db?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"`
	MigrateOnStart bool   `env:"MIGRATE_ON_START" envDefault:"true"`
	MaxOpenConns   int    `env:"MAX_OPEN_CONNS" envDefault:"10"`
	MaxIdleConns   int    `env:"MAX_IDLE_CONNS" envDefault:"5"`
}

type EngineConfig struct {
	StatementTimeout time.Duration `env:"STATEMENT_TIMEOUT" envDefault:"5m"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`
	Buckets          int           `env:"WAREHOUSE_BUCKETS" envDefault:"10"`
	ReplicationNum   int           `env:"WAREHOUSE_REPLICATION_NUM" envDefault:"1"`
	DefaultHTTPPort  int           `env:"WAREHOUSE_HTTP_PORT" envDefault:"8030"`
}

// ReaperConfig controls the sweep that fails tasks abandoned by a previous
// process.
type ReaperConfig struct {
	Schedule   string        `env:"SCHEDULE" envDefault:"*/5 * * * *"`
	StaleAfter time.Duration `env:"STALE_AFTER" envDefault:"10m"`
}

type LogConfig struct {
	Level  string `env:"LEVEL" envDefault:"info"`
	Format string `env:"FORMAT" envDefault:"text"`
}

// Load reads the environment, with envPath loaded first when it exists.
func Load(envPath string) (*AppConfig, error) {
	cfg := &AppConfig{}
	loader := configLoader.New(
		configLoader.WithEnvPath(envPath),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *AppConfig) Validate() error {
	switch c.Store.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("STORE_DRIVER must be mysql or sqlite, got %q", c.Store.Driver)
	}
	if c.Store.DSN == "" {
		return fmt.Errorf("STORE_DSN is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", c.Log.Format)
	}
	if c.Engine.StatementTimeout <= 0 {
		return fmt.Errorf("ENGINE_STATEMENT_TIMEOUT must be positive")
	}
	if c.Reaper.StaleAfter <= 0 {
		return fmt.Errorf("REAPER_STALE_AFTER must be positive")
	}
	return nil
}
