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
	Dedup     DedupConfig
	Scheduler SchedulerConfig
	Telemetry TelemetryConfig
}

type ServerConfig struct {
	Port     string
	Host     string
	APIToken string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type DedupConfig struct {
	RulesPath string
}

type SchedulerConfig struct {
	Enabled        bool
	ScheduleTimes  []string
	WorkerCount    int
	JobDelay       time.Duration
	QueueSize      int
	RunOnStartup   bool
	HealthcheckURL string
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

	// Parse scheduler configuration
	schedulerEnabled := getBoolEnv("SCHEDULER_ENABLED", true)
	schedulerTimes := strings.Split(getEnv("SCHEDULER_TIMES", "06:30"), ",")
	// One worker by default: engine runs assume exclusive write access to
	// the group tables, so scheduled runs must not overlap.
	schedulerWorkers, err := strconv.Atoi(getEnv("SCHEDULER_WORKERS", "1"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_WORKERS: %w", err)
	}
	schedulerJobDelay, err := time.ParseDuration(getEnv("SCHEDULER_JOB_DELAY", "1s"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_JOB_DELAY: %w", err)
	}
	schedulerQueueSize, err := strconv.Atoi(getEnv("SCHEDULER_QUEUE_SIZE", "10"))
	if err != nil {
		return nil, fmt.Errorf("invalid SCHEDULER_QUEUE_SIZE: %w", err)
	}
	schedulerRunOnStartup := getBoolEnv("SCHEDULER_RUN_ON_STARTUP", false)

	cfg := &Config{
		Server: ServerConfig{
			Port:     getEnv("PORT", "8080"),
			Host:     getEnv("HOST", "0.0.0.0"),
			APIToken: getEnv("API_TOKEN", ""),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     dbPort,
			User:     getEnv("DB_USER", "sterling"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "sterling"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Dedup: DedupConfig{
			RulesPath: getEnv("DEDUP_RULES_PATH", "config/rules.yaml"),
		},
		Scheduler: SchedulerConfig{
			Enabled:        schedulerEnabled,
			ScheduleTimes:  schedulerTimes,
			WorkerCount:    schedulerWorkers,
			JobDelay:       schedulerJobDelay,
			QueueSize:      schedulerQueueSize,
			RunOnStartup:   schedulerRunOnStartup,
			HealthcheckURL: getEnv("HEALTHCHECK_PING_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getBoolEnv("OTEL_ENABLED", false),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "sterling-api"),
			Environment:  getEnv("APP_ENV", "development"),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_ENDPOINT", "localhost:4317"),
			MetricsPort:  getEnv("METRICS_PORT", "9091"),
		},
	}

	// Validate required fields
	if cfg.Server.APIToken == "" {
		return nil, fmt.Errorf("API_TOKEN is required")
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
