package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all service configuration, loaded from the environment.
type Config struct {
	Service  ServiceConfig
	Server   ServerConfig
	Database DatabaseConfig
	NATS     NATSConfig
	Issuance IssuanceConfig
	Outbox   OutboxConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds Postgres pool settings.
type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	SSLMode     string
	MaxConns    int32
	MinConns    int32
	MaxConnTime time.Duration
	MaxIdleTime time.Duration
	HealthCheck time.Duration
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// IssuanceConfig holds issuance policy settings.
type IssuanceConfig struct {
	// Tolerance is the maximum allowed absolute drift between the quoted
	// proposal total and the recomputed grand total, in currency units.
	Tolerance string
	// MaxRetries bounds retries of the issuance transaction after a
	// serialization or version conflict.
	MaxRetries int
	// TaxpayerID is included in the integrity hash of every document.
	TaxpayerID string
}

// OutboxConfig holds unpublished-event poller settings.
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
}

// Load reads configuration from environment variables with sane defaults.
func Load() (*Config, error) {
	return &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-fiscal-issuance"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("PORT", 8086),
			ReadTimeout:     getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SERVER_SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "fiscal"),
			Password:    getEnv("DB_PASSWORD", "fiscal"),
			Database:    getEnv("DB_NAME", "fiscal_issuance"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_IDLE_TIME", 30*time.Minute),
			HealthCheck: getEnvDuration("DB_HEALTH_CHECK", time.Minute),
		},
		NATS: NATSConfig{
			URL:           getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects: getEnvInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait: getEnvDuration("NATS_RECONNECT_WAIT", 2*time.Second),
		},
		Issuance: IssuanceConfig{
			Tolerance:  getEnv("ISSUANCE_TOLERANCE", "0.05"),
			MaxRetries: getEnvInt("ISSUANCE_MAX_RETRIES", 3),
			TaxpayerID: getEnv("ISSUANCE_TAXPAYER_ID", ""),
		},
		Outbox: OutboxConfig{
			BatchSize:    getEnvInt("OUTBOX_BATCH_SIZE", 100),
			PollInterval: getEnvDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}
