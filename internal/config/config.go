// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string

	Engine    EngineConfig
	LLM       LLMConfig
	Deploy    DeployConfig
	RateLimit RateLimitConfig

	// HistoryWindow is the number of recent turns given to the model as
	// conversation context.
	HistoryWindow int
}

// EngineConfig points at the remote workflow automation engine.
type EngineConfig struct {
	BaseURL string
	APIKey  string
}

// LLMConfig controls the model endpoint used by the agent invoker.
type LLMConfig struct {
	BaseURL string
	Model   string
	// Timeout is the hard wall-clock limit on one model call. It must stay
	// strictly below the server's outer request deadline.
	Timeout time.Duration
}

// DeployConfig tunes the deployment orchestrator.
type DeployConfig struct {
	// SettleDelay is how long to wait after activation before the
	// confirming read-back.
	SettleDelay time.Duration
	// CheckpointTTL bounds how long an abandoned in-flight checkpoint can
	// stay in memory before time-based eviction.
	CheckpointTTL time.Duration
}

// RateLimitConfig controls per-user request throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/flowpilot.db"),
		Engine: EngineConfig{
			BaseURL: getEnv("ENGINE_BASE_URL", "http://localhost:5678"),
			APIKey:  getEnv("ENGINE_API_KEY", ""),
		},
		LLM: LLMConfig{
			BaseURL: getEnv("LLM_BASE_URL", "https://api.openai.com"),
			Model:   getEnv("LLM_MODEL", "gpt-4o"),
			Timeout: getEnvDuration("LLM_TIMEOUT", 25*time.Second),
		},
		Deploy: DeployConfig{
			SettleDelay:   getEnvDuration("DEPLOY_SETTLE_DELAY", 2*time.Second),
			CheckpointTTL: getEnvDuration("DEPLOY_CHECKPOINT_TTL", 30*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 20),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		HistoryWindow: getEnvInt("HISTORY_WINDOW", 10),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.Engine.BaseURL == "" {
		return fmt.Errorf("ENGINE_BASE_URL cannot be empty")
	}
	if c.LLM.BaseURL == "" {
		return fmt.Errorf("LLM_BASE_URL cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}
	if c.Deploy.CheckpointTTL <= 0 {
		return fmt.Errorf("DEPLOY_CHECKPOINT_TTL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.HistoryWindow <= 0 {
		return fmt.Errorf("HISTORY_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
