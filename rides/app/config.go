// Package app assembles the rides bot from configuration.
package app

import (
	"fmt"
	"strings"
	"time"

	coreconfig "github.com/m3rciful/ridesbot/core/config"
	coredatabase "github.com/m3rciful/ridesbot/core/database"
	"github.com/m3rciful/ridesbot/core/telegram/state"
)

const (
	// StorageMemory keeps rides in process memory; they are lost on restart.
	StorageMemory = "memory"
	// StoragePostgres keeps rides in the rides table.
	StoragePostgres = "postgres"

	// SessionsMemory keeps wizards in process memory.
	SessionsMemory = "memory"
	// SessionsRedis keeps wizards in Redis so they survive restarts.
	SessionsRedis = "redis"
)

// StorageConfig selects the ride store.
type StorageConfig struct {
	Driver string `yaml:"driver" envconfig:"STORAGE_DRIVER"`
}

// SessionsConfig tunes the wizard session backend.
type SessionsConfig struct {
	Backend       string        `yaml:"backend" envconfig:"SESSIONS_BACKEND"`
	IdleTimeout   time.Duration `yaml:"idle_timeout" envconfig:"SESSIONS_IDLE_TIMEOUT"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"SESSIONS_SWEEP_INTERVAL"`
}

// RidesConfig tunes listing and expiry.
type RidesConfig struct {
	// ExpireAfter is how long a ride stays active; 0 disables expiry.
	ExpireAfter   time.Duration `yaml:"expire_after" envconfig:"RIDES_EXPIRE_AFTER"`
	SweepInterval time.Duration `yaml:"sweep_interval" envconfig:"RIDES_SWEEP_INTERVAL"`
	ListLimit     int           `yaml:"list_limit" envconfig:"RIDES_LIST_LIMIT"`
}

// RedisConfig addresses the session Redis.
type RedisConfig struct {
	Addr      string `yaml:"addr" envconfig:"REDIS_ADDR"`
	Password  string `yaml:"password" envconfig:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" envconfig:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" envconfig:"REDIS_KEY_PREFIX"`
}

// KafkaConfig enables ride event publishing when Brokers is set.
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers" envconfig:"KAFKA_BROKERS"`
	Topic        string        `yaml:"topic" envconfig:"KAFKA_TOPIC"`
	WriteTimeout time.Duration `yaml:"write_timeout" envconfig:"KAFKA_WRITE_TIMEOUT"`
}

// Enabled reports whether events should go to Kafka.
func (k KafkaConfig) Enabled() bool {
	return len(k.Brokers) > 0
}

// Config is the full bot configuration: the shared core plus ride settings.
type Config struct {
	coreconfig.Config `yaml:",inline"`

	Database coredatabase.Config `yaml:"database"`
	Storage  StorageConfig       `yaml:"storage"`
	Sessions SessionsConfig      `yaml:"sessions"`
	Rides    RidesConfig         `yaml:"rides"`
	Redis    RedisConfig         `yaml:"redis"`
	Kafka    KafkaConfig         `yaml:"kafka"`
}

// CoreConfig exposes the embedded core configuration to the runner.
func (c *Config) CoreConfig() *coreconfig.Config {
	if c == nil {
		return nil
	}
	return &c.Config
}

// Load reads the YAML file at path, overlays the environment and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := coreconfig.Decode(path, &cfg); err != nil {
		return nil, err
	}
	if err := coreconfig.Normalize(&cfg.Config); err != nil {
		return nil, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	if c.Storage.Driver == "" {
		c.Storage.Driver = StoragePostgres
	}
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.Database.Host) == "" || strings.TrimSpace(c.Database.Name) == "" {
			return fmt.Errorf("database.host and database.name are required for storage.driver %q", StoragePostgres)
		}
		if c.Database.MigrationsDir == "" {
			c.Database.MigrationsDir = "migrations"
		}
	default:
		return fmt.Errorf("invalid storage.driver %q; allowed: memory, postgres", c.Storage.Driver)
	}

	c.Sessions.Backend = strings.ToLower(strings.TrimSpace(c.Sessions.Backend))
	if c.Sessions.Backend == "" {
		c.Sessions.Backend = SessionsMemory
	}
	switch c.Sessions.Backend {
	case SessionsMemory:
	case SessionsRedis:
		if strings.TrimSpace(c.Redis.Addr) == "" {
			return fmt.Errorf("redis.addr is required for sessions.backend %q", SessionsRedis)
		}
	default:
		return fmt.Errorf("invalid sessions.backend %q; allowed: memory, redis", c.Sessions.Backend)
	}
	if c.Sessions.IdleTimeout <= 0 {
		c.Sessions.IdleTimeout = state.DefaultIdleTimeout
	}
	if c.Sessions.SweepInterval <= 0 {
		c.Sessions.SweepInterval = time.Minute
	}

	if c.Rides.ExpireAfter < 0 {
		return fmt.Errorf("rides.expire_after must be >= 0")
	}
	if c.Rides.SweepInterval <= 0 {
		c.Rides.SweepInterval = 5 * time.Minute
	}
	if c.Rides.ListLimit <= 0 {
		c.Rides.ListLimit = 20
	}

	if c.Kafka.Enabled() && strings.TrimSpace(c.Kafka.Topic) == "" {
		c.Kafka.Topic = "rides.events"
	}
	return nil
}
