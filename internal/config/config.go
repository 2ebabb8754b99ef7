// Package config loads service configuration from the environment. Every
// knob has a development default so the service starts with no env set.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Service   ServiceConfig
	Server    ServerConfig
	Database  DatabaseConfig
	NATS      NATSConfig
	Directory DirectoryConfig
	Workflow  WorkflowConfig
}

// ServiceConfig identifies the running service.
type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig controls the Postgres pool.
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
}

// NATSConfig controls the notification publisher connection.
type NATSConfig struct {
	URL     string
	Enabled bool
}

// DirectoryConfig points at the platform directory service.
type DirectoryConfig struct {
	BaseURL string
}

// WorkflowConfig carries the approval engine defaults.
type WorkflowConfig struct {
	ApprovalDueDays    int    // default approval horizon from submission
	WarningLeadHours   int    // warning fires this long before a deadline
	DeadlineScanSpec   string // cron spec for the warning/overdue scans
	DeadlineScanEnable bool
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Service: ServiceConfig{
			Name:        getEnv("SERVICE_NAME", "be-hr-workflows"),
			Version:     getEnv("SERVICE_VERSION", "dev"),
			Environment: getEnv("ENVIRONMENT", "development"),
		},
		Server: ServerConfig{
			Port:            getEnvInt("HTTP_PORT", 8096),
			ReadTimeout:     getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Host:        getEnv("DB_HOST", "localhost"),
			Port:        getEnvInt("DB_PORT", 5432),
			User:        getEnv("DB_USER", "postgres"),
			Password:    getEnv("DB_PASSWORD", "postgres"),
			Database:    getEnv("DB_NAME", "hr_workflows"),
			SSLMode:     getEnv("DB_SSLMODE", "disable"),
			MaxConns:    int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns:    int32(getEnvInt("DB_MIN_CONNS", 2)),
			MaxConnTime: getEnvDuration("DB_MAX_CONN_LIFETIME", time.Hour),
			MaxIdleTime: getEnvDuration("DB_MAX_CONN_IDLE", 30*time.Minute),
		},
		NATS: NATSConfig{
			URL:     getEnv("NATS_URL", "nats://localhost:4222"),
			Enabled: getEnvBool("NATS_ENABLED", true),
		},
		Directory: DirectoryConfig{
			BaseURL: getEnv("DIRECTORY_URL", "http://localhost:8081"),
		},
		Workflow: WorkflowConfig{
			ApprovalDueDays:    getEnvInt("APPROVAL_DUE_DAYS", 5),
			WarningLeadHours:   getEnvInt("DEADLINE_WARNING_LEAD_HOURS", 24),
			DeadlineScanSpec:   getEnv("DEADLINE_SCAN_SPEC", "@hourly"),
			DeadlineScanEnable: getEnvBool("DEADLINE_SCAN_ENABLED", true),
		},
	}

	if cfg.Workflow.ApprovalDueDays < 1 {
		return nil, fmt.Errorf("APPROVAL_DUE_DAYS must be >= 1")
	}
	if cfg.Workflow.WarningLeadHours < 0 {
		return nil, fmt.Errorf("DEADLINE_WARNING_LEAD_HOURS must be >= 0")
	}

	return cfg, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseBool(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}
