package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("HOME", t.TempDir()) // keep any real nestor-config.yaml out of the test

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8790", cfg.Port)
	assert.False(t, cfg.DevMode)
	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 30*time.Second, cfg.Agent.Deadline)
	assert.Equal(t, 50, cfg.History.MaxExchanges)
	assert.Equal(t, 8, cfg.Pool.PerWorkerConcurrency)
	assert.Equal(t, "async", cfg.Confirm.Mode)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LLM_URL", "http://planner:9000")
	t.Setenv("EXECUTOR_URL", "http://exec:9001")
	t.Setenv("DEV_MODE", "true")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("NESTOR_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://planner:9000", cfg.Workers.LLMURL)
	assert.Equal(t, "http://exec:9001", cfg.Workers.ExecutorURL)
	assert.True(t, cfg.DevMode)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "9999", cfg.Port)
}

func TestValidateRejectsAutoConfirmWithoutDevMode(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CONFIRM_MODE", "auto")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DEV_MODE")
}

func TestValidateRejectsNonPositiveBounds(t *testing.T) {
	cfg := Config{
		Agent:   AgentConfig{MaxSteps: 0, Deadline: time.Second},
		History: HistoryConfig{MaxExchanges: 50},
		Pool:    CoordinatorConfig{PerWorkerConcurrency: 8},
		Confirm: ConfirmConfig{Mode: "async", Timeout: time.Minute},
	}
	assert.Error(t, cfg.Validate())

	cfg.Agent.MaxSteps = 10
	cfg.Confirm.Mode = "carrier-pigeon"
	assert.Error(t, cfg.Validate())
}
