package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	// Load environment variables from .env files when present.
	_ "github.com/joho/godotenv/autoload"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	AI            AIConfig
	Pipeline      PipelineConfig
	Observability ObservabilityConfig
}

type ServerConfig struct {
	Host    string
	Port    int
	BaseURL string
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// AIConfig configures the external extraction and categorization capabilities.
// Both are optional: an empty base URL leaves the pipeline in degraded mode
// (rows flagged for manual mapping, transactions left unclassified).
type AIConfig struct {
	BaseURL        string
	APIKey         string
	Model          string
	RequestTimeout time.Duration
	MaxRetries     int
	InitialBackoff time.Duration
	RatePerSecond  float64
	RateBurst      int
}

// PipelineConfig holds tunables for deduplication, classification and
// rule proposal. The dedup window and similarity threshold are deliberate
// configuration, not hard-coded policy.
type PipelineConfig struct {
	DedupDateToleranceDays int
	DedupSimilarity        float64
	ReclassifyThreshold    float64
	RuleProposalMinCount   int
	RuleProposalWindowDays int
	HistorySampleSize      int
	IngestWorkers          int
}

type ObservabilityConfig struct {
	MetricsEnabled bool
	MetricsPort    int
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:    getEnv("SERVER_HOST", "localhost"),
			Port:    getEnvAsInt("SERVER_PORT", 8080),
			BaseURL: getEnv("BASE_URL", "http://localhost:8080"),
		},
		Database: DatabaseConfig{
			Host:     getEnv("POSTGRES_HOST", "localhost"),
			Port:     getEnvAsInt("POSTGRES_PORT", 5432),
			User:     getEnv("POSTGRES_USER", "postgres"),
			Password: getEnv("POSTGRES_PASSWORD", "postgres"),
			Database: getEnv("POSTGRES_DB", "ledgerpipe-dev"),
			SSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		},
		AI: AIConfig{
			BaseURL:        getEnv("AI_BASE_URL", ""),
			APIKey:         getEnv("AI_API_KEY", ""),
			Model:          getEnv("AI_MODEL", "statement-extract-1"),
			RequestTimeout: getEnvAsDuration("AI_REQUEST_TIMEOUT", 20*time.Second),
			MaxRetries:     getEnvAsInt("AI_MAX_RETRIES", 3),
			InitialBackoff: getEnvAsDuration("AI_INITIAL_BACKOFF", 250*time.Millisecond),
			RatePerSecond:  getEnvAsFloat("AI_RATE_PER_SECOND", 5),
			RateBurst:      getEnvAsInt("AI_RATE_BURST", 10),
		},
		Pipeline: PipelineConfig{
			DedupDateToleranceDays: getEnvAsInt("DEDUP_DATE_TOLERANCE_DAYS", 1),
			DedupSimilarity:        getEnvAsFloat("DEDUP_SIMILARITY", 0.80),
			ReclassifyThreshold:    getEnvAsFloat("RECLASSIFY_CONFIDENCE_THRESHOLD", 0.70),
			RuleProposalMinCount:   getEnvAsInt("RULE_PROPOSAL_MIN_COUNT", 3),
			RuleProposalWindowDays: getEnvAsInt("RULE_PROPOSAL_WINDOW_DAYS", 30),
			HistorySampleSize:      getEnvAsInt("AI_HISTORY_SAMPLE_SIZE", 25),
			IngestWorkers:          getEnvAsInt("INGEST_WORKERS", 4),
		},
		Observability: ObservabilityConfig{
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:    getEnvAsInt("METRICS_PORT", 9090),
		},
	}

	if cfg.Pipeline.DedupSimilarity <= 0 || cfg.Pipeline.DedupSimilarity > 1 {
		return nil, fmt.Errorf("DEDUP_SIMILARITY must be in (0,1], got %v", cfg.Pipeline.DedupSimilarity)
	}
	if cfg.Pipeline.DedupDateToleranceDays < 0 {
		return nil, fmt.Errorf("DEDUP_DATE_TOLERANCE_DAYS must be >= 0")
	}

	return cfg, nil
}

// DSN returns the database connection string
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
