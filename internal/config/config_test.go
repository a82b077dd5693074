package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.Port)
	require.Equal(t, "./data/flowpilot.db", cfg.DBPath)
	require.Equal(t, "http://localhost:5678", cfg.Engine.BaseURL)
	require.Equal(t, "gpt-4o", cfg.LLM.Model)
	require.Equal(t, 25*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 2*time.Second, cfg.Deploy.SettleDelay)
	require.Equal(t, 30*time.Minute, cfg.Deploy.CheckpointTTL)
	require.Equal(t, 20, cfg.RateLimit.RequestsPerWindow)
	require.Equal(t, 10, cfg.HistoryWindow)
	require.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_TIMEOUT", "10s")
	t.Setenv("RATE_LIMIT_REQUESTS", "5")
	t.Setenv("FRONTEND_URL", "https://flowpilot.example.com")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "9090", cfg.Port)
	require.Equal(t, 10*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 5, cfg.RateLimit.RequestsPerWindow)
	require.False(t, cfg.IsDevelopment())
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("LLM_TIMEOUT", "soon")
	t.Setenv("HISTORY_WINDOW", "many")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 25*time.Second, cfg.LLM.Timeout)
	require.Equal(t, 10, cfg.HistoryWindow)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Port:   "8080",
			DBPath: "./data/flowpilot.db",
			Engine: EngineConfig{BaseURL: "http://localhost:5678"},
			LLM:    LLMConfig{BaseURL: "https://api.openai.com", Timeout: time.Second},
			Deploy: DeployConfig{CheckpointTTL: time.Minute},
			RateLimit: RateLimitConfig{
				RequestsPerWindow: 20,
				WindowDuration:    time.Minute,
			},
			HistoryWindow: 10,
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Engine.BaseURL = ""
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.LLM.Timeout = 0
	require.Error(t, cfg.Validate())

	cfg = base()
	cfg.HistoryWindow = 0
	require.Error(t, cfg.Validate())
}
