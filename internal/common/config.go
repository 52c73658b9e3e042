package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/joseph-ayodele/invoice-audit/constants"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Storage  StorageConfig
	LLM      LLMConfig
	Auth     AuthConfig
	Notify   NotifyConfig
	Audit    AuditConfig
	Log      LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" or "sqlite"
	DSN              string
	SQLitePath       string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string
	HealthGRPCAddr  string
	MaxUploadBytes  int64
	ShutdownTimeout time.Duration
}

// StorageConfig selects the blob backend and its buckets.
type StorageConfig struct {
	Provider           string // "local" or "gcs"
	LocalRoot          string
	GCSCredentialsJSON string
	InvoiceBucket      string
	DocumentBucket     string
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL     string
	Model       string
	APIKey      string
	MaxTokens   int
	Temperature float32
	Timeout     time.Duration
}

// AuthConfig maps bearer tokens to caller identities.
type AuthConfig struct {
	Tokens map[string]string
}

// NotifyConfig configures status events on terminal transitions.
type NotifyConfig struct {
	Provider        string // "none" or "pubsub"
	ProjectID       string
	Topic           string
	CredentialsJSON string
}

// AuditConfig tunes the pipeline and the orphan sweeper.
type AuditConfig struct {
	ProcessTimeout time.Duration
	SweepInterval  time.Duration
	SweepGrace     time.Duration
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// LoadConfig loads configuration from environment variables. A .env file in the
// working directory is applied first; real environment variables win.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Database: DatabaseConfig{
			Driver:           getEnv("DB_DRIVER", "postgres"),
			DSN:              getEnv("DB_URL", ""),
			SQLitePath:       getEnv("SQLITE_PATH", "./invoice-audit.db"),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 5),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
		},
		Server: ServerConfig{
			HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
			HealthGRPCAddr:  getEnv("HEALTH_GRPC_ADDR", ""),
			MaxUploadBytes:  getEnvAsInt64("MAX_UPLOAD_BYTES", 32<<20),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Provider:           strings.ToLower(getEnv("STORAGE_PROVIDER", "local")),
			LocalRoot:          getEnv("STORAGE_LOCAL_ROOT", "./data/blobs"),
			GCSCredentialsJSON: getEnv("GCS_CREDENTIALS_JSON", ""),
			InvoiceBucket:      getEnv("INVOICE_BUCKET", constants.InvoiceBucket),
			DocumentBucket:     getEnv("DOCUMENT_BUCKET", constants.DocumentBucket),
		},
		LLM: LLMConfig{
			BaseURL:     getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Model:       getEnv("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
			APIKey:      getEnv("ANTHROPIC_API_KEY", ""),
			MaxTokens:   getEnvAsInt("ANTHROPIC_MAX_TOKENS", 8192),
			Temperature: getEnvAsFloat32("ANTHROPIC_TEMPERATURE", 0.0),
			Timeout:     getEnvAsDuration("ANTHROPIC_TIMEOUT", 3*time.Minute),
		},
		Auth: AuthConfig{
			Tokens: parseTokenMap(getEnv("AUTH_TOKENS", "")),
		},
		Notify: NotifyConfig{
			Provider:        strings.ToLower(getEnv("NOTIFY_PROVIDER", "none")),
			ProjectID:       firstNonEmpty(os.Getenv("PUBSUB_PROJECT_ID"), os.Getenv("GOOGLE_CLOUD_PROJECT")),
			Topic:           getEnv("NOTIFY_PUBSUB_TOPIC", "invoice-audit-status"),
			CredentialsJSON: getEnv("PUBSUB_CREDENTIALS_JSON", ""),
		},
		Audit: AuditConfig{
			ProcessTimeout: getEnvAsDuration("AUDIT_PROCESS_TIMEOUT", 5*time.Minute),
			SweepInterval:  getEnvAsDuration("SWEEP_INTERVAL", 0),
			SweepGrace:     getEnvAsDuration("SWEEP_GRACE", 24*time.Hour),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// parseTokenMap reads "token1:alice,token2:bob".
func parseTokenMap(raw string) map[string]string {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		token, caller, ok := strings.Cut(strings.TrimSpace(pair), ":")
		token, caller = strings.TrimSpace(token), strings.TrimSpace(caller)
		if !ok || token == "" || caller == "" {
			continue
		}
		out[token] = caller
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if err := c.ValidateDatabase(); err != nil {
		return err
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "ANTHROPIC_API_KEY is required", ErrInvalidInput)
	}
	if c.Server.HTTPAddr == "" {
		return NewAppError("CONFIG_ERROR", "HTTP_ADDR is required", ErrInvalidInput)
	}
	if len(c.Auth.Tokens) == 0 {
		return NewAppError("CONFIG_ERROR", "AUTH_TOKENS is required", ErrInvalidInput)
	}
	switch c.Storage.Provider {
	case "local", "gcs":
	default:
		return NewAppError("CONFIG_ERROR", "STORAGE_PROVIDER must be local or gcs", ErrInvalidInput)
	}
	if c.Notify.Provider == "pubsub" && c.Notify.ProjectID == "" {
		return NewAppError("CONFIG_ERROR", "PUBSUB_PROJECT_ID is required for pubsub notifications", ErrInvalidInput)
	}
	return nil
}

// ValidateDatabase checks only the database section, for tools that never call the model.
func (c *Config) ValidateDatabase() error {
	switch c.Database.Driver {
	case "postgres":
		if c.Database.DSN == "" {
			return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			return NewAppError("CONFIG_ERROR", "SQLITE_PATH is required", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "DB_DRIVER must be postgres or sqlite", ErrInvalidInput)
	}
	return nil
}
