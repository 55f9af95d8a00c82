package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Site     SiteConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	Redis    RedisConfig
	Postgres PostgresConfig
	Logging  LoggingConfig
}

type SiteConfig struct {
	BaseURL   string
	LoginPath string
	ListPath  string
	Email     string
	Password  string
	UserAgent string
	Timeout   time.Duration
}

type PipelineConfig struct {
	WorkerAuthToken  string
	BasicInterval    time.Duration
	DetailInterval   time.Duration
	ImageInterval    time.Duration
	DetailBatchSize  int
	ImageBatchSize   int
	RequestCap       int
	InvocationBudget time.Duration
	ItemDelay        time.Duration
	PageDelay        time.Duration
	DetailTriggerURL string
	ImageTriggerURL  string
	SessionTTL       time.Duration
}

type ServerConfig struct {
	Port int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type LoggingConfig struct {
	Level string
	File  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			BaseURL:   getEnv("SITE_BASE_URL", "https://www.comisapolive.com"),
			LoginPath: getEnv("SITE_LOGIN_PATH", "/login/"),
			ListPath:  getEnv("SITE_LIST_PATH", "/liver/list/"),
			Email:     getEnv("SITE_LOGIN_EMAIL", ""),
			Password:  getEnv("SITE_LOGIN_PASSWORD", ""),
			UserAgent: getEnv("SITE_USER_AGENT", defaultUserAgent),
			Timeout:   time.Duration(getEnvInt("SITE_TIMEOUT_SECONDS", 30)) * time.Second,
		},
		Pipeline: PipelineConfig{
			WorkerAuthToken:  getEnv("WORKER_AUTH_TOKEN", ""),
			BasicInterval:    time.Duration(getEnvInt("BASIC_INTERVAL_MINUTES", 360)) * time.Minute,
			DetailInterval:   time.Duration(getEnvInt("DETAIL_INTERVAL_MINUTES", 5)) * time.Minute,
			ImageInterval:    time.Duration(getEnvInt("IMAGE_INTERVAL_MINUTES", 5)) * time.Minute,
			DetailBatchSize:  getEnvInt("DETAIL_BATCH_SIZE", 15),
			ImageBatchSize:   getEnvInt("IMAGE_BATCH_SIZE", 8),
			RequestCap:       getEnvInt("REQUEST_CAP", 40),
			InvocationBudget: time.Duration(getEnvInt("INVOCATION_BUDGET_SECONDS", 25)) * time.Second,
			ItemDelay:        time.Duration(getEnvInt("ITEM_DELAY_MS", 500)) * time.Millisecond,
			PageDelay:        time.Duration(getEnvInt("PAGE_DELAY_MS", 1000)) * time.Millisecond,
			DetailTriggerURL: getEnv("DETAIL_TRIGGER_URL", ""),
			ImageTriggerURL:  getEnv("IMAGE_TRIGGER_URL", ""),
			SessionTTL:       time.Duration(getEnvInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
		},
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", 8080),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Postgres: PostgresConfig{
			Host:     getEnv("POSTGRES_HOST", ""),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", ""),
			Database: getEnv("POSTGRES_DB", "liver_reviews"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		Logging: LoggingConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			File:  getEnv("LOG_FILE", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Site.BaseURL == "" {
		return fmt.Errorf("SITE_BASE_URL is required")
	}
	if c.Site.Email == "" {
		return fmt.Errorf("SITE_LOGIN_EMAIL is required")
	}
	if c.Site.Password == "" {
		return fmt.Errorf("SITE_LOGIN_PASSWORD is required")
	}
	if c.Pipeline.WorkerAuthToken == "" {
		return fmt.Errorf("WORKER_AUTH_TOKEN is required")
	}
	if c.Pipeline.DetailBatchSize <= 0 {
		return fmt.Errorf("DETAIL_BATCH_SIZE must be positive")
	}
	if c.Pipeline.ImageBatchSize <= 0 {
		return fmt.Errorf("IMAGE_BATCH_SIZE must be positive")
	}
	return nil
}

// ReviewsEnabled reports whether the review store should be wired up.
func (c *Config) ReviewsEnabled() bool {
	return c.Postgres.Host != ""
}

// PostgresDSN builds the connection string for lib/pq.
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
