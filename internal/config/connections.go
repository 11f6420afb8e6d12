package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ZhicongZheng/rw-cdc-sr/internal/apperr"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/dialect"
	"github.com/ZhicongZheng/rw-cdc-sr/internal/models"
)

type connectionFile struct {
	Connections []connectionEntry `yaml:"connections"`
}

type connectionEntry struct {
	ID          int64  `yaml:"id"`
	Name        string `yaml:"name"`
	Engine      string `yaml:"engine"`
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	HTTPPort    int    `yaml:"http_port"`
}

// ConnectionRegistry is a read-only set of connection configs loaded from
// YAML.
type ConnectionRegistry struct {
	byID map[int64]*models.ConnectionConfig
}

func LoadConnections(path string) (*ConnectionRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read connections file: %w", err)
	}
	return ParseConnections(data)
}

func ParseConnections(data []byte) (*ConnectionRegistry, error) {
	var file connectionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, &apperr.ValidationError{Kind: apperr.CodeInvalidConfig, Message: "parse connections file", Err: err}
	}

	reg := &ConnectionRegistry{byID: make(map[int64]*models.ConnectionConfig, len(file.Connections))}
	for _, e := range file.Connections {
		if e.ID <= 0 {
			return nil, apperr.InvalidConfig("connection %q: id must be positive", e.Name)
		}
		if _, dup := reg.byID[e.ID]; dup {
			return nil, apperr.InvalidConfig("duplicate connection id %d", e.ID)
		}
		engine, err := dialect.Parse(e.Engine)
		if err != nil {
			return nil, err
		}
		if e.Host == "" || e.Port <= 0 {
			return nil, apperr.InvalidConfig("connection %d: host and port are required", e.ID)
		}

		password := e.Password
		if e.PasswordEnv != "" {
			password = os.Getenv(e.PasswordEnv)
		}
		reg.byID[e.ID] = &models.ConnectionConfig{
			ID:       e.ID,
			Name:     e.Name,
			Engine:   engine,
			Host:     e.Host,
			Port:     e.Port,
			Username: e.Username,
			Password: password,
			Database: e.Database,
			HTTPPort: e.HTTPPort,
		}
	}
	return reg, nil
}

// Resolve returns a copy of the connection with the given id.
func (r *ConnectionRegistry) Resolve(id int64) (*models.ConnectionConfig, error) {
	cfg, ok := r.byID[id]
	if !ok {
		return nil, &apperr.NotFoundError{Kind: "connection", ID: id}
	}
	c := *cfg
	return &c, nil
}

func (r *ConnectionRegistry) Len() int { return len(r.byID) }
