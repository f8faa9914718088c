package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Vima      VimaConfig
	PayShack  PayShackConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port string
	Host string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type VimaConfig struct {
	BaseURL string
	APIKey  string
}

type PayShackConfig struct {
	BaseURL  string
	Email    string
	Password string
}

type SyncConfig struct {
	PageSize     int
	BackfillDays int
}

type SchedulerConfig struct {
	Enabled            bool
	SyncInterval       time.Duration
	ReconciliationTime string
	WorkerCount        int
	QueueSize          int
	RunOnStartup       bool
}

type TelemetryConfig struct {
	Enabled      bool
	ServiceName  string
	Environment  string
	OTLPEndpoint string
	MetricsPort  string
}

func Load() (*Config, error) {

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	// Parse sync configuration
	syncPageSize, err := strconv.Atoi(getEnv("SYNC_PAGE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_PAGE_SIZE: %w", err)
	}
	backfillDays, err := strconv.Atoi(getEnv("SYNC_BACKFILL_DAYS", "7"))
	if err != nil {
		return nil, fmt.Errorf("invalid SYNC_BACKFILL_DAYS: %w", err)
	}

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	syncInterval, err := time.ParseDuration(getEnv("SCHEDULER_SYNC_INTERVAL", "5m"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_SYNC_INTERVAL: %w", err)
	}
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "3"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "100"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerRunOnStartup := getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false)

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
			Host: getEnv("HOST", "0.0.0.0"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "payrecon"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "payrecon"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Vima: VimaConfig{
			BaseURL: getEnv("VIMA_BASE_URL", "https://payment.woozuki.com/collector1/api/v1"),
			APIKey:  getEnv("VIMA_API_KEY", ""),
		},
		PayShack: PayShackConfig{
			BaseURL:  getEnv("PAYSHACK_BASE_URL", "https://api.payshack.in"),
			Email:    getEnv("PAYSHACK_EMAIL", ""),
			Password: getEnv("PAYSHACK_PASSWORD", ""),
		},
		Sync: SyncConfig{
			PageSize:     syncPageSize,
			BackfillDays: backfillDays,
		},
		Scheduler: SchedulerConfig{
			Enabled:            schedulerEnabled,
			SyncInterval:       syncInterval,
			ReconciliationTime: getEnv("SCHEDULER_RECONCILIATION_TIME", "01:00"),
			WorkerCount:        schedulerWorkers,
			QueueSize:          schedulerQueueSize,
			RunOnStartup:       schedulerRunOnStartup,
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "payrecon-api"),
			Environment:  getEnv("OTEL_ENVIRONMENT", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("OTEL_METRICS_PORT", "9090"),
		},
	}

	// Validate required fields
	if cfg.Vima.APIKey == "" {
		return nil, fmt.Errorf("VIMA_API_KEY is required")
	}
	if cfg.PayShack.Email == "" || cfg.PayShack.Password == "" {
		return nil, fmt.Errorf("PAYSHACK_EMAIL and PAYSHACK_PASSWORD are required")
	}
	if cfg.Sync.PageSize < 1 || cfg.Sync.PageSize > 100 {
		return nil, fmt.Errorf("SYNC_PAGE_SIZE must be between 1 and 100")
	}
	if _, err := time.Parse("15:04", cfg.Scheduler.ReconciliationTime); err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_RECONCILIATION_TIME (expected HH:MM): %w", err)
	}

	return cfg, nil
}

func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	// Accept: true, false, 1, 0, yes, no (case-insensitive)
	switch strings.ToLower(value) {
	case "true", "1", "yes":
		return true
	case "false", "0", "no":
		return false
	default:
		return defaultValue
	}
}
