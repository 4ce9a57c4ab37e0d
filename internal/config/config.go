// Package config handles loading and validating Kazi configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for Kazi.
type Config struct {
	Workspace     string               `json:"workspace,omitempty" yaml:"workspace,omitempty"` // Root for file/search/shell tools. Default: ".". Override: KAZI_WORKSPACE env var.
	Runtime       RuntimeConfig        `json:"runtime" yaml:"runtime"`
	Tools         ToolsConfig          `json:"tools" yaml:"tools"`
	Provider      *ProviderConfig      `json:"provider,omitempty" yaml:"provider,omitempty"`           // nil = llm binding disabled
	Store         *StoreConfig         `json:"store,omitempty" yaml:"store,omitempty"`                 // nil = in-memory session store
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Scheduler     *SchedulerConfig     `json:"scheduler,omitempty" yaml:"scheduler,omitempty"`         // nil = cron scheduler disabled
}

// RuntimeConfig bounds script executions.
type RuntimeConfig struct {
	TimeoutS          int `json:"timeout_s" yaml:"timeout_s"`                     // Whole-execution deadline in seconds. Default: 60.
	MaxLoopIterations int `json:"max_loop_iterations" yaml:"max_loop_iterations"` // Cumulative loop budget. Default: 10000.
	MapConcurrency    int `json:"map_concurrency" yaml:"map_concurrency"`         // Concurrent map() callbacks. Default: 3.
	LLMConcurrency    int `json:"llm_concurrency" yaml:"llm_concurrency"`         // Global cap on concurrent model calls. 0 = unlimited.
}

// Timeout returns the execution deadline as a duration.
func (r RuntimeConfig) Timeout() time.Duration {
	if r.TimeoutS <= 0 {
		return 60 * time.Second
	}
	return time.Duration(r.TimeoutS) * time.Second
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	Shell  *ShellToolConfig `json:"shell,omitempty" yaml:"shell,omitempty"` // nil = shell_exec disabled
	File   *FileToolConfig  `json:"file,omitempty" yaml:"file,omitempty"`   // nil = file tools disabled
	Search bool             `json:"search" yaml:"search"`                   // code_search over the workspace
}

// ShellToolConfig configures shell command execution.
type ShellToolConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	TimeoutS int  `json:"timeout_s" yaml:"timeout_s"` // Per-command timeout. Default: 30.
}

// Timeout returns the per-command timeout as a duration.
func (s *ShellToolConfig) Timeout() time.Duration {
	if s == nil || s.TimeoutS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutS) * time.Second
}

// FileToolConfig configures file read/list access.
type FileToolConfig struct {
	Enabled          bool     `json:"enabled" yaml:"enabled"`
	AllowedPaths     []string `json:"allowed_paths,omitempty" yaml:"allowed_paths,omitempty"` // Empty = workspace only.
	MaxFileSizeBytes int64    `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`         // Default: 10 MB.
}

// ProviderConfig selects the model backend for the llm binding.
type ProviderConfig struct {
	Kind      string          `json:"kind" yaml:"kind"`       // "openai" (default) or "ollama"
	APIKey    string          `json:"api_key" yaml:"api_key"` // Override: OPENAI_API_KEY env var.
	Model     string          `json:"model" yaml:"model"`
	BaseURL   string          `json:"base_url" yaml:"base_url"` // Override for OpenAI-compatible gateways.
	MaxTokens int             `json:"max_tokens" yaml:"max_tokens"`
	Fallback  *ProviderConfig `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Tried when the primary fails.
}

// StoreConfig configures the session store backend.
// When nil, the in-memory store is used.
type StoreConfig struct {
	Driver    string `json:"driver" yaml:"driver"`                 // "memory" (default), "sqlite" or "postgres".
	Path      string `json:"path,omitempty" yaml:"path,omitempty"` // SQLite database file. Empty: <workspace>/.kazi/kazi.db.
	DSN       string `json:"dsn,omitempty" yaml:"dsn,omitempty"`   // Postgres DSN. Override: KAZI_STORE_DSN env var.
	SessionID string `json:"session_id" yaml:"session_id"`
}

// StoreDriver returns the configured driver, defaulting to "memory".
func (s *StoreConfig) StoreDriver() string {
	if s != nil && s.Driver != "" {
		return s.Driver
	}
	return "memory"
}

// ObservabilityConfig configures metrics and tracing.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics collection.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kazi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// SchedulerConfig configures recurring script executions.
type SchedulerConfig struct {
	Enabled bool           `json:"enabled" yaml:"enabled"`
	Jobs    []ScheduledJob `json:"jobs" yaml:"jobs"`
}

// ScheduledJob is one cron-driven script run.
type ScheduledJob struct {
	Name       string `json:"name" yaml:"name"`
	Schedule   string `json:"schedule" yaml:"schedule"`                           // Cron expression, e.g. "0 * * * *".
	Script     string `json:"script,omitempty" yaml:"script,omitempty"`           // Inline script source.
	ScriptFile string `json:"script_file,omitempty" yaml:"script_file,omitempty"` // Or a file path, relative to the workspace.
}

// Load reads a config file (YAML or JSON by extension) and applies
// environment overrides. Env vars take precedence over file values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

/// Default returns a usable zero-config setup: workspace-rooted tools,
// in-memory store, no provider, no observability.
func Default() *Config {
	cfg := &Config{Workspace: "."}
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	if ws := os.Getenv("KAZI_WORKSPACE"); ws != "" {
		c.Workspace = ws
	}
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Provider != nil && c.Provider.APIKey == "" {
		c.Provider.APIKey = key
	}
	if dsn := os.Getenv("KAZI_STORE_DSN"); dsn != "" {
		if c.Store == nil {
			c.Store = &StoreConfig{Driver: "postgres"}
		}
		c.Store.DSN = dsn
	}
}

// Validate rejects configurations that cannot be started.
func (c *Config) Validate() error {
	if c.Runtime.TimeoutS < 0 {
		return fmt.Errorf("runtime.timeout_s must not be negative")
	}
	if c.Runtime.MaxLoopIterations < 0 {
		return fmt.Errorf("runtime.max_loop_iterations must not be negative")
	}
	if c.Store != nil {
		switch c.Store.StoreDriver() {
		case "memory":
		case "sqlite":
			// Path is optional; an empty path defaults to the workspace
			// data directory at wiring time.
		case "postgres":
			if c.Store.DSN == "" {
				return fmt.Errorf("store.dsn is required for the postgres driver")
			}
		default:
			return fmt.Errorf("unknown store driver %q", c.Store.Driver)
		}
		if c.Store.StoreDriver() != "memory" && c.Store.SessionID == "" {
			return fmt.Errorf("store.session_id is required for persistent drivers")
		}
	}
	if c.Scheduler != nil && c.Scheduler.Enabled {
		for i, job := range c.Scheduler.Jobs {
			if job.Schedule == "" {
				return fmt.Errorf("scheduler.jobs[%d]: schedule is required", i)
			}
			if job.Script == "" && job.ScriptFile == "" {
				return fmt.Errorf("scheduler.jobs[%d]: script or script_file is required", i)
			}
		}
	}
	return nil
}
