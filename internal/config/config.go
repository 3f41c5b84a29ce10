package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Agent    AgentConfig
	Server   ServerConfig
	Database DatabaseConfig
	Sync     SyncConfig
	Logging  LoggingConfig
}

// AgentConfig covers the agent's own local HTTP API.
type AgentConfig struct {
	Host     string
	Port     string
	Env      string
	APIToken string
	CORS     string
}

// ServerConfig points at the central milestone server.
type ServerConfig struct {
	BaseURL             string
	AuthToken           string
	RequestTimeout      time.Duration
	HealthCheckInterval time.Duration
	RealtimeURL         string
}

// DatabaseConfig is the agent's local CouchDB store for offline state.
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

type SyncConfig struct {
	RetryDelay    time.Duration
	ReconnectWait time.Duration
	PongWait      time.Duration
}

type LoggingConfig struct {
	Level string
}

func Load() (*Config, error) {
	godotenv.Load()

	requestTimeout, err := time.ParseDuration(getEnv("SERVER_REQUEST_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_REQUEST_TIMEOUT: %w", err)
	}

	healthInterval, err := time.ParseDuration(getEnv("HEALTH_CHECK_INTERVAL", "15s"))
	if err != nil {
		return nil, fmt.Errorf("invalid HEALTH_CHECK_INTERVAL: %w", err)
	}

	retryDelay, err := time.ParseDuration(getEnv("SYNC_RETRY_DELAY", "150ms"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_RETRY_DELAY: %w", err)
	}

	reconnectWait, err := time.ParseDuration(getEnv("WS_RECONNECT_WAIT", "5s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_RECONNECT_WAIT: %w", err)
	}

	pongWait, err := time.ParseDuration(getEnv("WS_PONG_WAIT", "60s"))
	if err != nil {
		return nil, fmt.Errorf("invalid WS_PONG_WAIT: %w", err)
	}

	baseURL := getEnv("SERVER_BASE_URL", "http://localhost:8080/api/v1")

	return &Config{
		Agent: AgentConfig{
			Host:     getEnv("AGENT_HOST", "127.0.0.1"),
			Port:     getEnv("AGENT_PORT", "8090"),
			Env:      getEnv("ENV", "development"),
			APIToken: getEnv("AGENT_API_TOKEN", ""),
			CORS:     getEnv("AGENT_CORS_ORIGINS", "*"),
		},
		Server: ServerConfig{
			BaseURL:             baseURL,
			AuthToken:           getEnv("SERVER_AUTH_TOKEN", ""),
			RequestTimeout:      requestTimeout,
			HealthCheckInterval: healthInterval,
			RealtimeURL:         getEnv("SERVER_REALTIME_URL", "ws://localhost:8080/ws"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5984"),
			User:     getEnv("DB_USER", "admin"),
			Password: getEnv("DB_PASSWORD", "password"),
			Name:     getEnv("DB_NAME", "fieldsync"),
		},
		Sync: SyncConfig{
			RetryDelay:    retryDelay,
			ReconnectWait: reconnectWait,
			PongWait:      pongWait,
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
