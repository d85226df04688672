package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Scheduler SchedulerConfig
	Database  DatabaseConfig
}

type SchedulerConfig struct {
	// Name identifies the scheduler instance in logs and listener callbacks.
	Name string
	// StoreRetryInterval is the pause between retries when reporting a
	// completed firing to the job store fails with a persistence error.
	StoreRetryInterval time.Duration
	// BreakerFailureThreshold is the number of consecutive job store
	// failures that opens the completion-write circuit breaker.
	BreakerFailureThreshold int
	// BreakerCooldown is how long the completion-write breaker stays open.
	BreakerCooldown time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func Load() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Name:                    getEnv("SCHEDULER_NAME", "chronolens"),
			StoreRetryInterval:      getEnvAsDuration("STORE_RETRY_INTERVAL", 5*time.Second),
			BreakerFailureThreshold: getEnvAsInt("STORE_BREAKER_THRESHOLD", 5),
			BreakerCooldown:         getEnvAsDuration("STORE_BREAKER_COOLDOWN", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "chronolens"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "chronolens"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func (c *Config) DatabaseURL() string {
	// If DATABASE_URL is set, use it directly
	if databaseURL := os.Getenv("DATABASE_URL"); databaseURL != "" {
		return databaseURL
	}

	// Otherwise, construct from individual components
	return "postgres://" + c.Database.User + ":" + c.Database.Password +
		"@" + c.Database.Host + ":" + c.Database.Port +
		"/" + c.Database.DBName + "?sslmode=" + c.Database.SSLMode
}
