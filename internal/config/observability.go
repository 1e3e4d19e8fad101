package config

// ObservabilityConfig holds observability configuration.
type ObservabilityConfig struct {
	OTelEnabled bool `env:"RELAYQ_OTEL_ENABLED" default:"true"`
}
