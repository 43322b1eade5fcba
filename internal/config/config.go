// Package config holds the runtime configuration of the execution core.
// Options come from an optional YAML file overridden by environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	LLM          LLMConfig          `yaml:"llm"`
	Conversation ConversationConfig `yaml:"conversation"`
	HITL         HITLConfig         `yaml:"hitl"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	HTTPPort    int    `yaml:"http_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	// Path is the sqlite database file; empty selects in-memory stores.
	Path string `yaml:"path"`
}

type LLMConfig struct {
	Model          string        `yaml:"model"`
	ProxyURL       string        `yaml:"proxy_url"`
	InternalAPIKey string        `yaml:"internal_api_key"`
	Timeout        time.Duration `yaml:"timeout"`

	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout"`
}

type ConversationConfig struct {
	MaxMessages int `yaml:"max_messages"`
	MaxSwitches int `yaml:"max_switches"`
}

type HITLConfig struct {
	Enabled         bool          `yaml:"enabled"`
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration with every option at its default.
func Default() *Config {
	cfg := &Config{}
	cfg.HITL.Enabled = true
	applyDefaults(cfg)
	return cfg
}

// Load reads the YAML file (skipped when path is empty), overlays environment
// variables, and applies defaults.
func Load(path string) (*Config, error) {
	var cfg Config
	// HITL defaults to enabled; only an explicit file key or env var disables it.
	cfg.HITL.Enabled = true

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

// applyEnv overlays the recognized environment variables.
func applyEnv(cfg *Config) error {
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_PROXY_URL"); v != "" {
		cfg.LLM.ProxyURL = v
	}
	if v := os.Getenv("INTERNAL_API_KEY"); v != "" {
		cfg.LLM.InternalAPIKey = v
	}
	if err := envInt("MAX_SWITCHES_PER_CONVERSATION", &cfg.Conversation.MaxSwitches); err != nil {
		return err
	}
	if err := envInt("MAX_MESSAGES_PER_CONVERSATION", &cfg.Conversation.MaxMessages); err != nil {
		return err
	}
	if err := envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", &cfg.LLM.CircuitBreaker.FailureThreshold); err != nil {
		return err
	}
	if err := envSeconds("CIRCUIT_BREAKER_RECOVERY_SECONDS", &cfg.LLM.CircuitBreaker.RecoveryTimeout); err != nil {
		return err
	}
	if err := envInt("LLM_RETRY_MAX_ATTEMPTS", &cfg.LLM.Retry.MaxAttempts); err != nil {
		return err
	}
	if err := envSeconds("LLM_RETRY_BASE_SECONDS", &cfg.LLM.Retry.BaseDelay); err != nil {
		return err
	}
	if err := envSeconds("LLM_RETRY_MAX_SECONDS", &cfg.LLM.Retry.MaxDelay); err != nil {
		return err
	}
	if v := os.Getenv("HITL_GLOBAL_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid HITL_GLOBAL_ENABLED %q: %w", v, err)
		}
		cfg.HITL.Enabled = enabled
	}
	return nil
}

func envInt(name string, dst *int) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = n
	return nil
}

func envSeconds(name string, dst *time.Duration) error {
	v := os.Getenv(name)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	*dst = time.Duration(n) * time.Second
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.HTTPPort == 0 {
		cfg.Server.HTTPPort = 8080
	}
	if cfg.Server.MetricsPort == 0 {
		cfg.Server.MetricsPort = 9090
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "gpt-4o"
	}
	if cfg.LLM.Timeout == 0 {
		cfg.LLM.Timeout = 360 * time.Second
	}
	if cfg.LLM.Retry.MaxAttempts == 0 {
		cfg.LLM.Retry.MaxAttempts = 3
	}
	if cfg.LLM.Retry.BaseDelay == 0 {
		cfg.LLM.Retry.BaseDelay = 2 * time.Second
	}
	if cfg.LLM.Retry.MaxDelay == 0 {
		cfg.LLM.Retry.MaxDelay = 10 * time.Second
	}
	if cfg.LLM.CircuitBreaker.FailureThreshold == 0 {
		cfg.LLM.CircuitBreaker.FailureThreshold = 5
	}
	if cfg.LLM.CircuitBreaker.RecoveryTimeout == 0 {
		cfg.LLM.CircuitBreaker.RecoveryTimeout = 60 * time.Second
	}
	if cfg.Conversation.MaxMessages == 0 {
		cfg.Conversation.MaxMessages = 1000
	}
	if cfg.Conversation.MaxSwitches == 0 {
		cfg.Conversation.MaxSwitches = 50
	}
	if cfg.HITL.ApprovalTimeout == 0 {
		cfg.HITL.ApprovalTimeout = 30 * time.Minute
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
