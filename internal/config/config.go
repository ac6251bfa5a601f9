package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Gateway  GatewayConfig
	Secrets  SecretsConfig
	Logger   LoggerConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port        int
	Host        string
	MetricsPort int
}

// DatabaseConfig holds PostgreSQL configuration. The transaction store is
// optional: when Enabled is false the service runs stateless and commit
// outcomes are not persisted.
type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// GatewayConfig holds Webpay REST gateway configuration
type GatewayConfig struct {
	BaseURL      string // Base URL for the Webpay API (e.g., https://webpay3gint.transbank.cl)
	CommerceCode string // Merchant commerce code, sent as Tbk-Api-Key-Id
	APIKeySecret string // API key secret, sent as Tbk-Api-Key-Secret (leave empty to resolve via SecretPath)
	SecretPath   string // Secret manager path for the API key secret
	Timeout      int    // Request timeout in seconds (default: 30)
}

// SecretsConfig selects and configures the secret management backend
type SecretsConfig struct {
	Backend      string // "local", "aws", or "vault"
	LocalPath    string // Base path for the local backend
	AWSRegion    string
	AWSProfile   string
	AWSEndpoint  string // Override for localstack testing
	VaultAddress string
	VaultToken   string
	CacheTTL     time.Duration
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string // debug, info, warn, error
	Development bool
}

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:        getEnvAsInt("SERVER_PORT", 8080),
			Host:        getEnv("SERVER_HOST", "0.0.0.0"),
			MetricsPort: getEnvAsInt("METRICS_PORT", 9090),
		},
		Database: DatabaseConfig{
			Enabled:  getEnvAsBool("DB_ENABLED", false),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "webpay_service"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 5)),
		},
		Gateway: GatewayConfig{
			BaseURL:      getEnv("WEBPAY_BASE_URL", "https://webpay3gint.transbank.cl"),
			CommerceCode: getEnv("WEBPAY_COMMERCE_CODE", ""),
			APIKeySecret: getEnv("WEBPAY_API_KEY_SECRET", ""),
			SecretPath:   getEnv("WEBPAY_SECRET_PATH", ""),
			Timeout:      getEnvAsInt("WEBPAY_TIMEOUT", 30),
		},
		Secrets: SecretsConfig{
			Backend:      getEnv("SECRETS_BACKEND", "local"),
			LocalPath:    getEnv("SECRETS_LOCAL_PATH", ".secrets"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			AWSProfile:   getEnv("AWS_PROFILE", ""),
			AWSEndpoint:  getEnv("AWS_SECRETS_ENDPOINT", ""),
			VaultAddress: getEnv("VAULT_ADDR", ""),
			VaultToken:   getEnv("VAULT_TOKEN", ""),
			CacheTTL:     time.Duration(getEnvAsInt("SECRETS_CACHE_TTL_SECONDS", 300)) * time.Second,
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
	}

	// Validate required fields
	if cfg.Gateway.CommerceCode == "" {
		return nil, fmt.Errorf("WEBPAY_COMMERCE_CODE is required")
	}
	if cfg.Gateway.APIKeySecret == "" && cfg.Gateway.SecretPath == "" {
		return nil, fmt.Errorf("one of WEBPAY_API_KEY_SECRET or WEBPAY_SECRET_PATH is required")
	}
	if cfg.Database.Enabled && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when DB_ENABLED is true")
	}
	switch cfg.Secrets.Backend {
	case "local", "aws", "vault":
	default:
		return nil, fmt.Errorf("unsupported SECRETS_BACKEND: %s", cfg.Secrets.Backend)
	}
	if cfg.Secrets.Backend == "vault" && cfg.Gateway.SecretPath != "" && cfg.Secrets.VaultAddress == "" {
		return nil, fmt.Errorf("VAULT_ADDR is required for the vault secrets backend")
	}

	return cfg, nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
