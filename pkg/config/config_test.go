package config

import (
	"testing"
	"time"

	"github.com/emstrack/mqttgate/pkg/observability"
	"github.com/emstrack/mqttgate/pkg/store"
)

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
	}{
		{
			name:         "returns env value when set",
			key:          "TEST_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
		},
		{
			name:         "returns default when env not set",
			key:          "TEST_VAR_NOT_SET",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv(tt.key, tt.envValue)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	tests := []struct {
		name         string
		defaultValue bool
		envValue     string
		want         bool
	}{
		{name: "returns true for 'true'", envValue: "true", want: true},
		{name: "returns true for '1'", envValue: "1", want: true},
		{name: "returns false for 'false'", defaultValue: true, envValue: "false", want: false},
		{name: "returns default when not set", defaultValue: true, envValue: "", want: true},
		{name: "case insensitive", envValue: "TRUE", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.envValue != "" {
				t.Setenv("TEST_BOOL", tt.envValue)
			}

			got := getEnvBool("TEST_BOOL", tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnvBool() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	if got := getEnvInt("TEST_INT", 7); got != 42 {
		t.Errorf("getEnvInt() = %v, want 42", got)
	}
	if got := getEnvInt("TEST_INT_NOT_SET", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default 7", got)
	}
	t.Setenv("TEST_INT_BAD", "not-a-number")
	if got := getEnvInt("TEST_INT_BAD", 7); got != 7 {
		t.Errorf("getEnvInt() = %v, want default on parse failure", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR", "30s")
	if got := getEnvDuration("TEST_DUR", time.Minute); got != 30*time.Second {
		t.Errorf("getEnvDuration() = %v, want 30s", got)
	}
	if got := getEnvDuration("TEST_DUR_NOT_SET", time.Minute); got != time.Minute {
		t.Errorf("getEnvDuration() = %v, want default", got)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MQTTGATE_DATABASE_DSN", "postgres://localhost/mqttgate")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Errorf("unexpected default port %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != string(store.DialectPostgres) {
		t.Errorf("unexpected default driver %s", cfg.Database.Driver)
	}
	if !cfg.Cache.Enabled {
		t.Error("cache should be enabled by default")
	}
	if cfg.Broker.URL != "" {
		t.Errorf("broker should be disabled by default, got %s", cfg.Broker.URL)
	}
	if cfg.Broker.QoS != 2 {
		t.Errorf("unexpected default QoS %d", cfg.Broker.QoS)
	}
	if cfg.Observability.LogLevel != observability.InfoLevel {
		t.Errorf("unexpected default log level %v", cfg.Observability.LogLevel)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("MQTTGATE_DATABASE_DSN", "file::memory:")
	t.Setenv("MQTTGATE_DATABASE_DRIVER", "sqlite3")
	t.Setenv("MQTTGATE_PORT", "8081")
	t.Setenv("MQTTGATE_CACHE_TTL", "5s")
	t.Setenv("MQTTGATE_REDIS_URL", "redis://localhost:6379")
	t.Setenv("MQTTGATE_BROKER_URL", "tcp://localhost:1883")
	t.Setenv("MQTTGATE_TOKEN_ITERATIONS", "50000")
	t.Setenv("MQTTGATE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if cfg.Server.Port != "8081" {
		t.Errorf("unexpected port %s", cfg.Server.Port)
	}
	if cfg.Database.Driver != string(store.DialectSQLite) {
		t.Errorf("unexpected driver %s", cfg.Database.Driver)
	}
	if cfg.Cache.TTL != 5*time.Second {
		t.Errorf("unexpected cache TTL %v", cfg.Cache.TTL)
	}
	if cfg.Cache.RedisURL != "redis://localhost:6379" {
		t.Errorf("unexpected redis URL %s", cfg.Cache.RedisURL)
	}
	if cfg.Broker.URL != "tcp://localhost:1883" {
		t.Errorf("unexpected broker URL %s", cfg.Broker.URL)
	}
	if cfg.Auth.TokenIterations != 50000 {
		t.Errorf("unexpected iterations %d", cfg.Auth.TokenIterations)
	}
	if cfg.Observability.LogLevel != observability.DebugLevel {
		t.Errorf("unexpected log level %v", cfg.Observability.LogLevel)
	}
}

func TestConfigValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: "8080"},
			Database: store.Config{Driver: "postgres", DSN: "postgres://localhost/mqttgate"},
			Auth:     AuthConfig{TokenIterations: 36000},
			Broker:   BrokerConfig{QoS: 2},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing port", mutate: func(c *Config) { c.Server.Port = "" }, wantErr: true},
		{name: "missing DSN", mutate: func(c *Config) { c.Database.DSN = "" }, wantErr: true},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "too few iterations", mutate: func(c *Config) { c.Auth.TokenIterations = 10 }, wantErr: true},
		{name: "bad QoS", mutate: func(c *Config) { c.Broker.QoS = 3 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
