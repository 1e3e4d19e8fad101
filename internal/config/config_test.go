package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, "postgres", cfg.Driver)
	assert.Equal(t, "swift_queue", cfg.Schema)
	assert.Equal(t, 86400, cfg.ArchiveInterval)
	assert.Equal(t, 300, cfg.MaintenanceIntervalSeconds)
	assert.True(t, cfg.Observability.OTelEnabled)
}

func TestValidate(t *testing.T) {
	t.Run("rejects unknown driver", func(t *testing.T) {
		cfg := defaults()
		cfg.Driver = "oracle"
		cfg.Database = "x"
		assert.Error(t, cfg.Validate())
	})

	t.Run("sqlite needs no database name", func(t *testing.T) {
		cfg := defaults()
		cfg.Driver = "sqlite"
		require.NoError(t, cfg.Validate())
	})

	t.Run("postgres requires database or connection string", func(t *testing.T) {
		cfg := defaults()
		cfg.Driver = "postgres"
		assert.Error(t, cfg.Validate())

		cfg.ConnectionString = "postgres://localhost/relayq"
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects non-positive cadence", func(t *testing.T) {
		cfg := defaults()
		cfg.Driver = "sqlite"
		cfg.PollingIntervalSeconds = 0
		assert.Error(t, cfg.Validate())
	})

	t.Run("rejects malformed shutdown timeout", func(t *testing.T) {
		cfg := defaults()
		cfg.Driver = "sqlite"
		cfg.ShutdownTimeout = "30 seconds"
		assert.Error(t, cfg.Validate())
	})
}

func TestShutdownTimeoutDuration(t *testing.T) {
	cfg := defaults()
	assert.Equal(t, 30*time.Second, cfg.ShutdownTimeoutDuration())

	cfg.ShutdownTimeout = "PT1M"
	assert.Equal(t, time.Minute, cfg.ShutdownTimeoutDuration())
}
