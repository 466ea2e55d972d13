package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/Prashanth-Ravikumar/SafeSteps-Backend/internal/logging"
)

type Config struct {
	Server   ServerConfig
	DB       DatabaseConfig
	Auth     AuthConfig
	Admin    AdminConfig
	Dispatch DispatchConfig
	Notify   NotifyConfig
	MQTT     MQTTConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	Path string
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type AdminConfig struct {
	Name     string
	Email    string
	Password string
	Phone    string
}

type DispatchConfig struct {
	// MaxRetries bounds the optimistic-update retry loop on contended
	// triggers before surfacing a conflict.
	MaxRetries int
}

type NotifyConfig struct {
	Workers    int
	BufferSize int
}

type MQTTConfig struct {
	Enabled     bool
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "localhost"),
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		DB: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/safesteps.db"),
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
			TokenTTL:  getEnvDuration("JWT_TTL", 24*time.Hour),
		},
		Admin: AdminConfig{
			Name:     getEnv("ADMIN_NAME", "Administrator"),
			Email:    getEnv("ADMIN_EMAIL", "admin@safesteps.local"),
			Password: getEnv("ADMIN_PASSWORD", ""),
			Phone:    getEnv("ADMIN_PHONE", "000-000-0000"),
		},
		Dispatch: DispatchConfig{
			MaxRetries: getEnvInt("DISPATCH_MAX_RETRIES", 5),
		},
		Notify: NotifyConfig{
			Workers:    getEnvInt("NOTIFY_WORKERS", 2),
			BufferSize: getEnvInt("NOTIFY_BUFFER_SIZE", 256),
		},
		MQTT: MQTTConfig{
			Enabled:     getEnvBool("MQTT_ENABLED", false),
			BrokerURL:   getEnv("MQTT_BROKER_URL", "tcp://localhost:1883"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "safesteps-dispatch"),
			TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "safesteps"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	if c.Auth.TokenTTL < time.Minute {
		return fmt.Errorf("JWT TTL must be at least 1 minute")
	}

	if c.Dispatch.MaxRetries < 1 {
		return fmt.Errorf("dispatch max retries must be at least 1")
	}
	if c.Notify.Workers < 1 {
		return fmt.Errorf("notify workers must be at least 1")
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
