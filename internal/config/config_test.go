package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, "kazi.yaml", `
workspace: /tmp/ws
runtime:
  timeout_s: 120
  max_loop_iterations: 500
  map_concurrency: 5
tools:
  shell:
    enabled: true
    timeout_s: 10
  search: true
provider:
  kind: openai
  model: gpt-4o-mini
  max_tokens: 2048
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/tmp/ws" {
		t.Errorf("workspace = %q", cfg.Workspace)
	}
	if cfg.Runtime.Timeout() != 120*time.Second {
		t.Errorf("timeout = %s, want 2m", cfg.Runtime.Timeout())
	}
	if cfg.Runtime.MapConcurrency != 5 {
		t.Errorf("map_concurrency = %d", cfg.Runtime.MapConcurrency)
	}
	if cfg.Tools.Shell == nil || !cfg.Tools.Shell.Enabled || cfg.Tools.Shell.Timeout() != 10*time.Second {
		t.Errorf("shell tool config = %+v", cfg.Tools.Shell)
	}
	if !cfg.Tools.Search {
		t.Error("search should be enabled")
	}
	if cfg.Provider == nil || cfg.Provider.Model != "gpt-4o-mini" {
		t.Errorf("provider = %+v", cfg.Provider)
	}
	if cfg.Tools.File != nil {
		t.Error("file tools should be nil when absent")
	}
}

func TestLoadJSON(t *testing.T) {
	path := writeConfig(t, "kazi.json", `{
  "runtime": {"timeout_s": 30},
  "store": {"driver": "sqlite", "path": "/tmp/kazi.db", "session_id": "s1"}
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Runtime.TimeoutS != 30 {
		t.Errorf("timeout_s = %d", cfg.Runtime.TimeoutS)
	}
	if cfg.Store == nil || cfg.Store.StoreDriver() != "sqlite" {
		t.Errorf("store = %+v", cfg.Store)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAZI_WORKSPACE", "/env/ws")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("KAZI_STORE_DSN", "postgres://env")

	path := writeConfig(t, "kazi.yaml", `
workspace: /file/ws
provider:
  kind: openai
  model: gpt-4o-mini
store:
  driver: postgres
  session_id: s1
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace != "/env/ws" {
		t.Errorf("workspace = %q, want env override", cfg.Workspace)
	}
	if cfg.Provider.APIKey != "sk-env" {
		t.Errorf("api key = %q, want env value", cfg.Provider.APIKey)
	}
	if cfg.Store.DSN != "postgres://env" {
		t.Errorf("dsn = %q, want env value", cfg.Store.DSN)
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Workspace == "" {
		t.Error("default workspace should not be empty")
	}
	if cfg.Provider != nil || cfg.Store != nil || cfg.Observability != nil || cfg.Scheduler != nil {
		t.Error("optional features should default to disabled")
	}
	if cfg.Runtime.Timeout() != 60*time.Second {
		t.Errorf("default timeout = %s, want 1m", cfg.Runtime.Timeout())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantMsg string
	}{
		{
			"negative timeout",
			Config{Runtime: RuntimeConfig{TimeoutS: -1}},
			"timeout_s",
		},
		{
			"negative loop budget",
			Config{Runtime: RuntimeConfig{MaxLoopIterations: -5}},
			"max_loop_iterations",
		},
		{
			"postgres without dsn",
			Config{Store: &StoreConfig{Driver: "postgres", SessionID: "s"}},
			"store.dsn",
		},
		{
			"persistent store without session",
			Config{Store: &StoreConfig{Driver: "sqlite", Path: "/tmp/x.db"}},
			"session_id",
		},
		{
			"unknown store driver",
			Config{Store: &StoreConfig{Driver: "redis"}},
			"unknown store driver",
		},
		{
			"scheduled job without schedule",
			Config{Scheduler: &SchedulerConfig{Enabled: true, Jobs: []ScheduledJob{{Name: "x", Script: "1"}}}},
			"schedule is required",
		},
		{
			"scheduled job without script",
			Config{Scheduler: &SchedulerConfig{Enabled: true, Jobs: []ScheduledJob{{Name: "x", Schedule: "@hourly"}}}},
			"script or script_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantMsg)
			}
		})
	}
}

func TestValidateAccepts(t *testing.T) {
	cfgs := []Config{
		{},
		{Store: &StoreConfig{Driver: "memory"}},
		{Store: &StoreConfig{Driver: "sqlite", Path: "/tmp/x.db", SessionID: "s"}},
		{Store: &StoreConfig{Driver: "sqlite", SessionID: "s"}}, // path defaults at wiring time
		{Scheduler: &SchedulerConfig{Enabled: false, Jobs: []ScheduledJob{{}}}},
		{Scheduler: &SchedulerConfig{Enabled: true, Jobs: []ScheduledJob{{Name: "ok", Schedule: "0 * * * *", Script: "1"}}}},
	}
	for i, cfg := range cfgs {
		if err := cfg.Validate(); err != nil {
			t.Errorf("config %d rejected: %v", i, err)
		}
	}
}
