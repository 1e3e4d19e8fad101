package config

// StoragePoolConfig holds storage connection pool configuration.
type StoragePoolConfig struct {
	DBMaxOpenConns    int `env:"RELAYQ_DB_MAX_OPEN_CONNS" default:"10"`
	DBMaxIdleConns    int `env:"RELAYQ_DB_MAX_IDLE_CONNS" default:"5"`
	DBConnMaxLifetime int `env:"RELAYQ_DB_CONN_MAX_LIFETIME" default:"300"`
	DBConnMaxIdleTime int `env:"RELAYQ_DB_CONN_MAX_IDLE_TIME" default:"60"`
}
