package config

import (
	"fmt"
	"time"

	"github.com/relayq/relayq/internal/domain"
	"github.com/relayq/relayq/internal/env"
)

// Config holds the full runtime configuration for a relayq instance.
type Config struct {
	// Storage connection. Either ConnectionString or the discrete
	// host/port/user/password/database fields; ConnectionString wins
	// when both are set. The discrete fields are assembled into a
	// postgres keyword/value DSN, so the mysql and sqlite drivers take
	// their connection from ConnectionString only.
	Driver           string `env:"RELAYQ_DRIVER"`
	ConnectionString string `env:"RELAYQ_CONNECTION_STRING"`
	Host             string `env:"RELAYQ_HOST"`
	Port             int    `env:"RELAYQ_PORT"`
	User             string `env:"RELAYQ_USER"`
	Password         string `env:"RELAYQ_PASSWORD"`
	Database         string `env:"RELAYQ_DATABASE"`
	Schema           string `env:"RELAYQ_SCHEMA"`

	AutoCreateDatabase bool `env:"RELAYQ_AUTO_CREATE_DATABASE"`

	Pool StoragePoolConfig

	// Cadences, all in seconds unless noted.
	ArchiveInterval             int `env:"RELAYQ_ARCHIVE_INTERVAL"`
	ArchiveFailedInterval       int `env:"RELAYQ_ARCHIVE_FAILED_INTERVAL"`
	DeleteAfter                 int `env:"RELAYQ_DELETE_AFTER"`
	MaintenanceIntervalSeconds  int `env:"RELAYQ_MAINTENANCE_INTERVAL_SECONDS"`
	MonitorStateIntervalSeconds int `env:"RELAYQ_MONITOR_STATE_INTERVAL_SECONDS"`
	ClockMonitorIntervalSeconds int `env:"RELAYQ_CLOCK_MONITOR_INTERVAL_SECONDS"`
	PollingIntervalSeconds      int `env:"RELAYQ_POLLING_INTERVAL_SECONDS"`

	// ShutdownTimeout bounds Stop's worker drain when Stop is called
	// with a zero timeout, as an ISO 8601 duration (e.g. "PT30S",
	// "PT1M").
	ShutdownTimeout string `env:"RELAYQ_SHUTDOWN_TIMEOUT"`

	Observability ObservabilityConfig
}

// defaults is applied before the environment is consulted, since
// env.Load leaves unset fields at their zero value.
func defaults() Config {
	return Config{
		Driver:                      "postgres",
		Schema:                      "swift_queue",
		Port:                        5432,
		AutoCreateDatabase:          false,
		Pool:                        StoragePoolConfig{DBMaxOpenConns: 10},
		ArchiveInterval:             86400,
		ArchiveFailedInterval:       86400,
		DeleteAfter:                 86400,
		MaintenanceIntervalSeconds:  300,
		MonitorStateIntervalSeconds: 60,
		ClockMonitorIntervalSeconds: 60,
		PollingIntervalSeconds:      2,
		ShutdownTimeout:             "PT30S",
		Observability:               ObservabilityConfig{OTelEnabled: true},
	}
}

// Load parses environment variables into a Config, seeded with
// defaults. env.Load calls Validate automatically once the
// environment has been applied.
func Load() (*Config, error) {
	cfg := defaults()

	if err := env.Load(&cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// Validate implements env.Validator.
func (c *Config) Validate() error {
	switch c.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unknown RELAYQ_DRIVER: %s", c.Driver)
	}

	if c.ConnectionString == "" && c.Driver != "sqlite" && c.Database == "" {
		return fmt.Errorf("RELAYQ_DATABASE or RELAYQ_CONNECTION_STRING is required for driver %s", c.Driver)
	}

	if c.ArchiveInterval <= 0 {
		return fmt.Errorf("RELAYQ_ARCHIVE_INTERVAL must be positive")
	}
	if c.MaintenanceIntervalSeconds <= 0 {
		return fmt.Errorf("RELAYQ_MAINTENANCE_INTERVAL_SECONDS must be positive")
	}
	if c.MonitorStateIntervalSeconds <= 0 {
		return fmt.Errorf("RELAYQ_MONITOR_STATE_INTERVAL_SECONDS must be positive")
	}
	if c.ClockMonitorIntervalSeconds <= 0 {
		return fmt.Errorf("RELAYQ_CLOCK_MONITOR_INTERVAL_SECONDS must be positive")
	}
	if c.PollingIntervalSeconds <= 0 {
		return fmt.Errorf("RELAYQ_POLLING_INTERVAL_SECONDS must be positive")
	}
	if c.ShutdownTimeout != "" {
		if _, err := domain.NewDuration(c.ShutdownTimeout); err != nil {
			return fmt.Errorf("RELAYQ_SHUTDOWN_TIMEOUT: %w", err)
		}
	}

	return nil
}

// ShutdownTimeoutDuration returns the parsed ShutdownTimeout, or 30s
// when unset. Call only on a validated Config.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	if c.ShutdownTimeout == "" {
		return 30 * time.Second
	}
	d, err := domain.NewDuration(c.ShutdownTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d.Value()
}
