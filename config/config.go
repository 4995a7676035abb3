package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported storage backends
const (
	BackendMongo  = "mongo"
	BackendSQLite = "sqlite"
)

// ErrInvalidConfig is returned by Validate for unusable settings
var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Backend  string `env:"CATALOG_BACKEND" envDefault:"mongo"`
	Mongo    MongoConfig
	SQLite   SQLiteConfig
	Output   OutputConfig
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

type MongoConfig struct {
	URI                    string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database               string        `env:"MONGO_DATABASE" envDefault:"library"`
	Collection             string        `env:"MONGO_COLLECTION" envDefault:"books"`
	ConnectTimeout         time.Duration `env:"MONGO_CONNECT_TIMEOUT" envDefault:"10s"`
	ServerSelectionTimeout time.Duration `env:"MONGO_SERVER_SELECTION_TIMEOUT" envDefault:"5s"`
	HeartbeatInterval      time.Duration `env:"MONGO_HEARTBEAT_INTERVAL" envDefault:"10s"`
	MaxPoolSize            uint64        `env:"MONGO_MAX_POOL_SIZE" envDefault:"10"`
}

type SQLiteConfig struct {
	Path            string `env:"SQLITE_PATH" envDefault:"books.db"`
	MaxOpenConns    int    `env:"SQLITE_MAX_OPEN_CONNS" envDefault:"4"`
	MaxIdleConns    int    `env:"SQLITE_MAX_IDLE_CONNS" envDefault:"4"`
	ConnMaxLifetime int    `env:"SQLITE_CONN_MAX_LIFETIME" envDefault:"300"` // seconds
}

type OutputConfig struct {
	Color bool `env:"CATALOG_COLOR" envDefault:"false"`
}

// Load creates a new Config from environment variables with defaults
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Validate checks the settings required by the selected backend
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMongo:
		if strings.TrimSpace(c.Mongo.URI) == "" {
			return fmt.Errorf("%w: mongo uri is empty", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.Mongo.Database) == "" {
			return fmt.Errorf("%w: mongo database is empty", ErrInvalidConfig)
		}
		if strings.TrimSpace(c.Mongo.Collection) == "" {
			return fmt.Errorf("%w: mongo collection is empty", ErrInvalidConfig)
		}
	case BackendSQLite:
		if strings.TrimSpace(c.SQLite.Path) == "" {
			return fmt.Errorf("%w: sqlite path is empty", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q (want %s or %s)", ErrInvalidConfig, c.Backend, BackendMongo, BackendSQLite)
	}
	return nil
}
