// Package config loads the service configuration from environment
// variables. Every knob has a sensible default so a development instance
// runs with nothing but MQTTGATE_DATABASE_DSN set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/store"
	"github.com/emstrack/mqttgate/pkg/token"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Database      store.Config
	Cache         CacheConfig
	Broker        BrokerConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// CacheConfig holds grant cache configuration. Redis is optional; when
// RedisURL is empty only the in-process layer runs.
type CacheConfig struct {
	Enabled       bool
	L1Size        int
	TTL           time.Duration
	RedisURL      string
	RedisPassword string
	RedisDB       int
}

// BrokerConfig holds the connection to the message broker for publishing
// resource updates and the settings document. The broker is optional; when
// URL is empty the event dispatcher logs and drops events.
type BrokerConfig struct {
	URL      string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// AuthConfig holds credential handling settings.
type AuthConfig struct {
	// TokenIterations is the PBKDF2 iteration count for delegated token
	// handles. Changing it invalidates all outstanding handles.
	TokenIterations int
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Cache:         loadCacheConfig(),
		Broker:        loadBrokerConfig(),
		Auth:          loadAuthConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("MQTTGATE_HOST", "0.0.0.0"),
		Port:            getEnv("MQTTGATE_PORT", "8080"),
		ReadTimeout:     getEnvDuration("MQTTGATE_READ_TIMEOUT", 10*time.Second),
		WriteTimeout:    getEnvDuration("MQTTGATE_WRITE_TIMEOUT", 10*time.Second),
		IdleTimeout:     getEnvDuration("MQTTGATE_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("MQTTGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
	}
}

func loadDatabaseConfig() store.Config {
	cfg := store.DefaultConfig()
	if driver := getEnv("MQTTGATE_DATABASE_DRIVER", ""); driver != "" {
		cfg.Driver = driver
	}
	cfg.DSN = getEnv("MQTTGATE_DATABASE_DSN", "")
	if maxOpen := getEnvInt("MQTTGATE_DATABASE_MAX_OPEN_CONNS", 0); maxOpen > 0 {
		cfg.MaxOpenConns = maxOpen
	}
	if maxIdle := getEnvInt("MQTTGATE_DATABASE_MAX_IDLE_CONNS", 0); maxIdle > 0 {
		cfg.MaxIdleConns = maxIdle
	}
	if lifetime := getEnvDuration("MQTTGATE_DATABASE_CONN_MAX_LIFETIME", 0); lifetime > 0 {
		cfg.ConnMaxLifetime = lifetime
	}
	if timeout := getEnvDuration("MQTTGATE_DATABASE_CONNECT_TIMEOUT", 0); timeout > 0 {
		cfg.ConnectTimeout = timeout
	}
	return cfg
}

func loadCacheConfig() CacheConfig {
	defaults := store.DefaultCacheConfig()
	return CacheConfig{
		Enabled:       getEnvBool("MQTTGATE_CACHE_ENABLED", true),
		L1Size:        getEnvInt("MQTTGATE_CACHE_L1_SIZE", defaults.L1Size),
		TTL:           getEnvDuration("MQTTGATE_CACHE_TTL", defaults.TTL),
		RedisURL:      getEnv("MQTTGATE_REDIS_URL", ""),
		RedisPassword: getEnv("MQTTGATE_REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("MQTTGATE_REDIS_DB", -1),
	}
}

func loadBrokerConfig() BrokerConfig {
	return BrokerConfig{
		URL:      getEnv("MQTTGATE_BROKER_URL", ""),
		ClientID: getEnv("MQTTGATE_BROKER_CLIENT_ID", "mqttgate"),
		Username: getEnv("MQTTGATE_BROKER_USERNAME", ""),
		Password: getEnv("MQTTGATE_BROKER_PASSWORD", ""),
		QoS:      byte(getEnvInt("MQTTGATE_BROKER_QOS", 2)),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		TokenIterations: getEnvInt("MQTTGATE_TOKEN_ITERATIONS", token.DefaultIterations),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("MQTTGATE_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("MQTTGATE_METRICS_ENABLED", true),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}
	switch c.Database.Driver {
	case string(store.DialectPostgres), string(store.DialectSQLite):
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Auth.TokenIterations < 1000 {
		return fmt.Errorf("token iterations must be at least 1000, got %d", c.Auth.TokenIterations)
	}
	if c.Broker.QoS > 2 {
		return fmt.Errorf("broker QoS must be 0, 1 or 2, got %d", c.Broker.QoS)
	}
	return nil
}

// getEnv returns an environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default.
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
