package config

import (
	"time"

	"github.com/vietddude/outbox/internal/dispatch"
	"github.com/vietddude/outbox/internal/infra/connectivity"
	redisclient "github.com/vietddude/outbox/internal/infra/redis"
	"github.com/vietddude/outbox/internal/infra/storage/postgres"
	"github.com/vietddude/outbox/internal/infra/storage/sqlite"
	"github.com/vietddude/outbox/internal/queue"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server   ServerConfig      `yaml:"server"`
	Logging  LoggingConfig     `yaml:"logging"`
	Storage  StorageConfig     `yaml:"storage"`
	Queue    queue.RetryConfig `yaml:"queue"`
	Network  NetworkConfig     `yaml:"network"`
	Realtime RealtimeConfig    `yaml:"realtime"`
	Dispatch dispatch.Config   `yaml:"dispatch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=0,lt=65536"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json text"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
	DriverPostgres = "postgres"
)

// StorageConfig selects and configures the durable store for the queue.
type StorageConfig struct {
	Driver   string             `yaml:"driver" validate:"oneof=memory sqlite redis postgres"`
	Prefix   string             `yaml:"prefix"`
	Key      string             `yaml:"key"`
	SQLite   sqlite.Config      `yaml:"sqlite"`
	Redis    redisclient.Config `yaml:"redis"`
	Postgres postgres.Config    `yaml:"postgres"`
}

// Connectivity sources.
const (
	SourceProbe  = "probe"
	SourceFile   = "file"
	SourceManual = "manual"
)

// NetworkConfig configures connectivity observation.
type NetworkConfig struct {
	Source     string                   `yaml:"source" validate:"oneof=probe file manual"`
	Debounce   time.Duration            `yaml:"debounce" validate:"gte=0"`
	Probe      connectivity.ProbeConfig `yaml:"probe"`
	StatusFile string                   `yaml:"status_file" validate:"required_if=Source file"`
}

// RealtimeConfig configures the realtime channel. An empty URL disables it.
type RealtimeConfig struct {
	URL           string          `yaml:"url" validate:"omitempty,url"`
	AuthToken     string          `yaml:"auth_token"`
	BackoffDelays []time.Duration `yaml:"backoff_delays" validate:"dive,gte=0"`
	MaxDelay      time.Duration   `yaml:"max_delay" validate:"gte=0"`
	BufferSize    int             `yaml:"buffer_size" validate:"gte=0"`
	MaxAttempts   int             `yaml:"max_attempts" validate:"gte=0"` // 0 = unlimited
	PingInterval  time.Duration   `yaml:"ping_interval"`
	PongWait      time.Duration   `yaml:"pong_wait"`
}
