package models

import (
	"fmt"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
)

// ConnectionConfig is a resolved connection to one engine. Storage and
// secret handling for these records live outside this service.
type ConnectionConfig struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Engine   dialect.Dialect `json:"engine"`
	Host     string          `json:"host"`
	Port     int             `json:"port"`
	Username string          `json:"username"`
	Password string          `json:"-"`
	Database string          `json:"database,omitempty"`
	// HTTPPort is the StarRocks FE HTTP port used by the sink for stream load.
	HTTPPort int `json:"http_port,omitempty"`
}

// Addr returns host:port.
func (c *ConnectionConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
