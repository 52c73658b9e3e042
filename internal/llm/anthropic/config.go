package anthropic

import (
	"log/slog"
	"net/http"
	"os"
	"time"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens = 8192
	APIVersion       = "2023-06-01"
)

// Config for the Anthropic Messages client.
type Config struct {
	APIKey      string // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL     string // default https://api.anthropic.com
	Model       string
	MaxTokens   int
	Temperature float32       // 0..1
	Timeout     time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}
