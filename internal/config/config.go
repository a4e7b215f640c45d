package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WorkerConfig holds the addresses of the out-of-process workers.
type WorkerConfig struct {
	LLMURL        string `mapstructure:"llm_url"`
	ExecutorURL   string `mapstructure:"executor_url"`
	ConnectorsURL string `mapstructure:"connectors_url"`
	IndexerURL    string `mapstructure:"indexer_url"`
	LearningURL   string `mapstructure:"learning_url"`
}

// AgentConfig bounds the reasoning loop.
type AgentConfig struct {
	MaxSteps       int           `mapstructure:"max_steps"`
	Deadline       time.Duration `mapstructure:"deadline"`
	PlannerTimeout time.Duration `mapstructure:"planner_timeout"`
}

// HistoryConfig bounds per-principal conversation history.
type HistoryConfig struct {
	MaxExchanges int           `mapstructure:"max_exchanges"`
	IdleTTL      time.Duration `mapstructure:"idle_ttl"`
}

// AuditConfig controls the append-only audit log.
type AuditConfig struct {
	Dir         string `mapstructure:"dir"`
	DigestBytes int    `mapstructure:"digest_bytes"`
}

// ConfirmConfig selects the confirmation mode and its deadline.
type ConfirmConfig struct {
	Mode    string        `mapstructure:"mode"` // interactive | async | auto
	Timeout time.Duration `mapstructure:"timeout"`
}

// CoordinatorConfig bounds concurrency toward each worker.
type CoordinatorConfig struct {
	PerWorkerConcurrency int           `mapstructure:"per_worker_concurrency"`
	HealthTimeout        time.Duration `mapstructure:"health_timeout"`
}

// PolicyConfig points at the on-disk policy documents.
type PolicyConfig struct {
	FilesystemPath string `mapstructure:"filesystem_path"`
	ExecPath       string `mapstructure:"exec_path"`
}

// Config is the full runtime configuration of the orchestrator.
type Config struct {
	Port     string            `mapstructure:"port"`
	Env      string            `mapstructure:"env"`
	DevMode  bool              `mapstructure:"dev_mode"`
	LogLevel string            `mapstructure:"log_level"`
	Workers  WorkerConfig      `mapstructure:"workers"`
	Agent    AgentConfig       `mapstructure:"agent"`
	History  HistoryConfig     `mapstructure:"history"`
	Audit    AuditConfig       `mapstructure:"audit"`
	Confirm  ConfirmConfig     `mapstructure:"confirm"`
	Pool     CoordinatorConfig `mapstructure:"pool"`
	Policy   PolicyConfig      `mapstructure:"policy"`
	Learning bool              `mapstructure:"learning_enabled"`
}

// envBindings maps viper keys to the environment variables the core consumes.
// The first name wins; later names are legacy aliases.
var envBindings = map[string]string{
	"port":                   "NESTOR_PORT PORT",
	"env":                    "NESTOR_ENV ENVIRONMENT",
	"dev_mode":               "DEV_MODE",
	"log_level":              "LOG_LEVEL",
	"workers.llm_url":        "LLM_URL",
	"workers.executor_url":   "EXECUTOR_URL",
	"workers.connectors_url": "CONNECTORS_URL",
	"workers.indexer_url":    "INDEXER_URL",
	"workers.learning_url":   "LEARNING_URL",
	"confirm.mode":           "CONFIRM_MODE",
	"policy.filesystem_path": "FS_POLICY_PATH",
	"policy.exec_path":       "EXEC_WHITELIST_PATH",
	"audit.dir":              "AUDIT_DIR",
	"learning_enabled":       "LEARNING_ENABLED",
}

// Load reads configuration from nestor-config.yaml (optional) and the
// environment, applies defaults, and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("nestor-config")
	v.SetConfigType("yaml")
	v.AddConfigPath("$HOME")
	v.AddConfigPath(".")

	setDefaults(v)

	for key, names := range envBindings {
		args := append([]string{key}, strings.Fields(names)...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine; the environment carries everything.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8790")
	v.SetDefault("env", "development")
	v.SetDefault("dev_mode", false)
	v.SetDefault("log_level", "INFO")

	v.SetDefault("workers.llm_url", "http://localhost:8701")
	v.SetDefault("workers.executor_url", "http://localhost:8702")
	v.SetDefault("workers.connectors_url", "http://localhost:8703")
	v.SetDefault("workers.indexer_url", "http://localhost:8704")
	v.SetDefault("workers.learning_url", "http://localhost:8705")

	v.SetDefault("agent.max_steps", 10)
	v.SetDefault("agent.deadline", 30*time.Second)
	v.SetDefault("agent.planner_timeout", 20*time.Second)

	v.SetDefault("history.max_exchanges", 50)
	v.SetDefault("history.idle_ttl", 2*time.Hour)

	v.SetDefault("audit.dir", "audit")
	v.SetDefault("audit.digest_bytes", 512)

	v.SetDefault("confirm.mode", "async")
	v.SetDefault("confirm.timeout", 60*time.Second)

	v.SetDefault("pool.per_worker_concurrency", 8)
	v.SetDefault("pool.health_timeout", 3*time.Second)

	v.SetDefault("policy.filesystem_path", "")
	v.SetDefault("policy.exec_path", "")

	v.SetDefault("learning_enabled", true)
}

// Validate rejects configurations that would disable the safety pipeline.
func (c *Config) Validate() error {
	if c.Agent.MaxSteps <= 0 {
		return fmt.Errorf("agent.max_steps must be positive, got %d", c.Agent.MaxSteps)
	}
	if c.Agent.Deadline <= 0 {
		return fmt.Errorf("agent.deadline must be positive, got %v", c.Agent.Deadline)
	}
	if c.History.MaxExchanges <= 0 {
		return fmt.Errorf("history.max_exchanges must be positive, got %d", c.History.MaxExchanges)
	}
	if c.Pool.PerWorkerConcurrency <= 0 {
		return fmt.Errorf("pool.per_worker_concurrency must be positive, got %d", c.Pool.PerWorkerConcurrency)
	}
	if c.Confirm.Timeout <= 0 {
		return fmt.Errorf("confirm.timeout must be positive, got %v", c.Confirm.Timeout)
	}
	switch c.Confirm.Mode {
	case "interactive", "async", "auto":
	default:
		return fmt.Errorf("confirm.mode must be interactive, async, or auto; got %q", c.Confirm.Mode)
	}
	if c.Confirm.Mode == "auto" && !c.DevMode {
		return fmt.Errorf("confirm.mode=auto requires DEV_MODE=true")
	}
	return nil
}
