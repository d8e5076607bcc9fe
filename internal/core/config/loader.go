package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v2"

	"github.com/vietddude/outbox/internal/core/validate"
	"github.com/vietddude/outbox/internal/infra/connectivity"
	"github.com/vietddude/outbox/internal/infra/storage/sqlite"
	"github.com/vietddude/outbox/internal/network"
	"github.com/vietddude/outbox/internal/queue"
	"github.com/vietddude/outbox/internal/realtime"
)

// Default returns a configuration that runs without a config file.
func Default() *AppConfig {
	return &AppConfig{
		Server:  ServerConfig{Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Storage: StorageConfig{
			Driver: DriverSQLite,
			Prefix: "outbox:",
			Key:    queue.DefaultStorageKey,
			SQLite: sqlite.Config{Path: "outbox.db"},
		},
		Queue: queue.DefaultRetryConfig(),
		Network: NetworkConfig{
			Source:   SourceProbe,
			Debounce: network.DefaultDebounce,
			Probe:    connectivity.DefaultProbeConfig(),
		},
		Realtime: RealtimeConfig{
			BackoffDelays: realtime.DefaultBackoff(),
			MaxDelay:      realtime.DefaultMaxDelay,
			BufferSize:    realtime.DefaultBufferSize,
			PingInterval:  25 * time.Second,
			PongWait:      60 * time.Second,
		},
	}
}

// Load reads configuration from a YAML file on top of Default.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, expanding environment variables first.
func Parse(data []byte) (*AppConfig, error) {
	cfg := Default()
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.Key == "" {
		cfg.Storage.Key = queue.DefaultStorageKey
	}
	if cfg.Network.Debounce == 0 {
		cfg.Network.Debounce = network.DefaultDebounce
	}
	if len(cfg.Realtime.BackoffDelays) == 0 {
		cfg.Realtime.BackoffDelays = realtime.DefaultBackoff()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func init() {
	validate.RegisterStructValidation(storageRules, StorageConfig{})
}

// storageRules requires the connection settings of the selected driver.
func storageRules(sl validator.StructLevel) {
	s := sl.Current().Interface().(StorageConfig)
	switch s.Driver {
	case DriverSQLite:
		if s.SQLite.Path == "" {
			sl.ReportError(s.SQLite.Path, "sqlite.path", "Path", "required", "")
		}
	case DriverRedis:
		if s.Redis.URL == "" {
			sl.ReportError(s.Redis.URL, "redis.url", "URL", "required", "")
		}
	case DriverPostgres:
		if s.Postgres.URL == "" {
			sl.ReportError(s.Postgres.URL, "postgres.url", "URL", "required", "")
		}
	}
}

// Validate checks every section, including the queue retry settings.
func (c *AppConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
