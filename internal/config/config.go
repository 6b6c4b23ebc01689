package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// CasdoorConfig holds Casdoor identity provider settings
type CasdoorConfig struct {
	Endpoint     string
	ClientID     string
	ClientSecret string
	Cert         string
	Organization string
	Application  string
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// KafkaConfig holds event publishing settings. Empty brokers disable Kafka
// and the service falls back to a local no-op publisher.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// ReconcileConfig holds the reconciliation engine defaults
type ReconcileConfig struct {
	AcceptThreshold float64
	AmbiguityMargin float64
	Workers         int
}

// Config is the full service configuration, loaded from the environment
type Config struct {
	Environment string
	Port        string
	LogLevel    slog.Level

	Database  DatabaseConfig
	RedisURL  string
	Casdoor   CasdoorConfig
	Kafka     KafkaConfig
	Reconcile ReconcileConfig
}

// LoadConfig reads configuration from the environment. A .env file is loaded
// first when present; real environment variables win over it.
func LoadConfig() (*Config, error) {
	// Missing .env is fine in containerized deployments
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    parseLogLevel(getEnv("LOG_LEVEL", "info")),

		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Name:     getEnv("DB_NAME", "correction_service"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},

		RedisURL: getEnv("REDIS_URL", ""),

		Casdoor: CasdoorConfig{
			Endpoint:     getEnv("CASDOOR_ENDPOINT", ""),
			ClientID:     getEnv("CASDOOR_CLIENT_ID", ""),
			ClientSecret: getEnv("CASDOOR_CLIENT_SECRET", ""),
			Cert:         getEnv("CASDOOR_CERT", ""),
			Organization: getEnv("CASDOOR_ORGANIZATION", ""),
			Application:  getEnv("CASDOOR_APPLICATION", ""),
		},

		Kafka: KafkaConfig{
			Brokers: splitNonEmpty(getEnv("KAFKA_BROKERS", "")),
			Topic:   getEnv("KAFKA_TOPIC", "correction-events"),
		},

		Reconcile: ReconcileConfig{
			AcceptThreshold: getEnvFloat("RECONCILE_ACCEPT_THRESHOLD", 0.5),
			AmbiguityMargin: getEnvFloat("RECONCILE_AMBIGUITY_MARGIN", 0.15),
			Workers:         getEnvInt("RECONCILE_WORKERS", 4),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Reconcile.AcceptThreshold < 0 || c.Reconcile.AcceptThreshold > 1 {
		return fmt.Errorf("RECONCILE_ACCEPT_THRESHOLD must be in [0,1], got %v", c.Reconcile.AcceptThreshold)
	}
	if c.Reconcile.AmbiguityMargin < 0 || c.Reconcile.AmbiguityMargin > 1 {
		return fmt.Errorf("RECONCILE_AMBIGUITY_MARGIN must be in [0,1], got %v", c.Reconcile.AmbiguityMargin)
	}
	if c.Reconcile.Workers <= 0 {
		return fmt.Errorf("RECONCILE_WORKERS must be positive, got %d", c.Reconcile.Workers)
	}
	return nil
}

// DSN builds the PostgreSQL connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func splitNonEmpty(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
