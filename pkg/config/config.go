// Package config provides configuration handling for botrunner.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Config represents the application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Storage configuration
	Storage StorageConfig `json:"storage"`

	// Redis configuration (used for the distributed sweep lease)
	Redis RedisConfig `json:"redis"`

	// Auth configuration
	Auth AuthConfig `json:"auth"`

	// Engine configuration
	Engine EngineConfig `json:"engine"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	// Host to bind to
	Host string `json:"host"`

	// Port to listen on
	Port int `json:"port"`
}

// StorageConfig contains storage settings
type StorageConfig struct {
	// Type of storage to use
	Type string `json:"type"` // "memory", "postgresql"

	// PostgreSQL configuration
	Postgres PostgresConfig `json:"postgres"`
}

// PostgresConfig contains PostgreSQL settings
type PostgresConfig struct {
	// Host is the database host
	Host string `json:"host"`

	// Port is the database port
	Port int `json:"port"`

	// Database is the database name
	Database string `json:"database"`

	// User is the database user
	User string `json:"user"`

	// Password is the database password
	Password string `json:"password"`

	// SSLMode is the SSL mode
	SSLMode string `json:"ssl_mode"`
}

// RedisConfig contains Redis settings for the sweep lease
type RedisConfig struct {
	// Enabled switches the lease from in-process to Redis
	Enabled bool `json:"enabled"`

	// Addr is the Redis address
	Addr string `json:"addr"`

	// Password is the Redis password
	Password string `json:"password"`

	// DB is the Redis database number
	DB int `json:"db"`
}

// AuthConfig contains authentication settings
type AuthConfig struct {
	// JWTSecret is the secret for signing JWT tokens
	JWTSecret string `json:"jwt_secret"`

	// TokenExpiration is the token expiration time in hours
	TokenExpiration int `json:"token_expiration"`

	// SchedulerSecret protects the scheduler tick endpoint
	SchedulerSecret string `json:"scheduler_secret"`

	// APIKeys maps user IDs to bcrypt hashes of static API keys
	APIKeys []APIKeyConfig `json:"api_keys,omitempty"`
}

// APIKeyConfig is one static API key entry
type APIKeyConfig struct {
	// UserID the key belongs to
	UserID string `json:"user_id"`

	// Hash is the bcrypt hash of the key material
	Hash string `json:"hash"`
}

// EngineConfig contains execution engine settings
type EngineConfig struct {
	// ExecutionTimeoutSeconds is the per-execution wall-clock budget
	ExecutionTimeoutSeconds int `json:"execution_timeout_seconds"`

	// LeaseTTLSeconds bounds how long a bot stays locked during a sweep
	LeaseTTLSeconds int `json:"lease_ttl_seconds"`

	// MaxConcurrentDispatches caps parallel dispatches within one sweep
	MaxConcurrentDispatches int `json:"max_concurrent_dispatches"`
}

// LoggingConfig contains process log settings. Execution logs are
// persisted per execution and are not affected by these settings.
type LoggingConfig struct {
	// Level is the minimum process log level ("debug", "info", "error")
	Level string `json:"level"`
}

// LoadConfig loads the configuration from a file
func LoadConfig(path string) (*Config, error) {
	// Read the file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse the JSON
	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return &config, nil
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
		Storage: StorageConfig{
			Type: "memory",
			Postgres: PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				Database: "botrunner",
				User:     "botrunner",
				SSLMode:  "disable",
			},
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Auth: AuthConfig{
			TokenExpiration: 24,
		},
		Engine: EngineConfig{
			ExecutionTimeoutSeconds: 300,
			LeaseTTLSeconds:         60,
			MaxConcurrentDispatches: 8,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// SaveConfig saves the configuration to a file
func SaveConfig(config *Config, path string) error {
	// Create the directory if it doesn't exist
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Marshal the JSON
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// Write the file
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
