package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/governor"
	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/llm/openai"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/script"
	"github.com/jkaninda/kazi/internal/store"
	"github.com/jkaninda/kazi/internal/tools"
	"github.com/jkaninda/kazi/internal/tools/file"
	"github.com/jkaninda/kazi/internal/tools/search"
	"github.com/jkaninda/kazi/internal/tools/shell"
	"github.com/jkaninda/kazi/internal/workspace"
)

// components holds the initialized subsystems shared by run and serve modes.
// Built once by initComponents, torn down by Cleanup.
type components struct {
	Config    *config.Config
	Logger    *slog.Logger
	Workspace *workspace.Workspace
	Obs       *observability.Observability
	Runtime   *script.Runtime

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// loadConfig reads the config file named by the flag or KAZI_CONFIG, falling
// back to defaults when neither is set.
func loadConfig(flagPath string) (*config.Config, error) {
	path := goutils.Env("KAZI_CONFIG", flagPath)
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(goutils.Env("KAZI_LOG_LEVEL", "info")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initComponents builds the script runtime and its collaborators from config.
// Callers must call Cleanup when done.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{Config: cfg, Logger: logger}

	ws, err := workspace.New(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("initializing workspace: %w", err)
	}
	c.Workspace = ws
	logger.Debug("workspace initialized", slog.String("root", ws.Root))

	obs, err := observability.New(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	provider, err := newProvider(cfg.Provider, logger)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing provider: %w", err)
	}
	if provider != nil {
		if obs.MetricsOrNil() != nil {
			provider = observability.NewInstrumentedProvider(provider, obs.Metrics, obs.TracerOrNil())
		}
		logger.Debug("llm provider initialized", slog.String("provider", provider.Name()))
	}

	sessionStore, err := newStore(cfg.Store, ws)
	if err != nil {
		c.Cleanup()
		return nil, fmt.Errorf("initializing session store: %w", err)
	}

	registry := newToolRegistry(cfg, ws, obs, logger)
	logger.Debug("tools registered", slog.Any("tools", registry.List()))

	var llmLimiter *governor.Governor
	if cfg.Runtime.LLMConcurrency > 0 {
		llmLimiter = governor.New(cfg.Runtime.LLMConcurrency)
	}

	maxTokens := 0
	if cfg.Provider != nil {
		maxTokens = cfg.Provider.MaxTokens
	}

	rt := script.New(script.Options{
		Tools:             registry,
		Provider:          provider,
		ProviderMaxTokens: maxTokens,
		Store:             sessionStore,
		Logger:            logger,
		Observability:     obs,
		Timeout:           cfg.Runtime.Timeout(),
		MaxLoopIterations: cfg.Runtime.MaxLoopIterations,
		MapConcurrency:    cfg.Runtime.MapConcurrency,
		LLMLimiter:        llmLimiter,
	})
	c.Runtime = rt
	c.addCleanup(func() {
		if err := rt.Close(); err != nil {
			logger.Error("closing runtime", slog.String("error", err.Error()))
		}
	})

	return c, nil
}

// newProvider builds the configured provider, chaining a fallback when one
// is configured. A nil config disables the llm binding.
func newProvider(pc *config.ProviderConfig, logger *slog.Logger) (llm.Provider, error) {
	if pc == nil {
		return nil, nil
	}
	primary, err := buildProvider(pc, logger)
	if err != nil {
		return nil, err
	}
	if pc.Fallback == nil {
		return primary, nil
	}
	fallback, err := newProvider(pc.Fallback, logger)
	if err != nil {
		logger.Warn("skipping fallback provider", slog.String("error", err.Error()))
		return primary, nil
	}
	return llm.NewFallbackProvider([]llm.Provider{primary, fallback}, logger), nil
}

func buildProvider(pc *config.ProviderConfig, logger *slog.Logger) (llm.Provider, error) {
	switch pc.Kind {
	case "openai", "":
		var opts []openai.Option
		if pc.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(pc.BaseURL))
		}
		return openai.NewClient(pc.APIKey, pc.Model, logger, opts...), nil
	case "ollama":
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return openai.NewClient("", pc.Model, logger,
			openai.WithBaseURL(baseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unknown provider kind: %q", pc.Kind)
	}
}

// newStore builds the session store backend. A nil config means in-memory.
// SQLite without an explicit path lands in the workspace data directory.
func newStore(sc *config.StoreConfig, ws *workspace.Workspace) (store.Store, error) {
	switch sc.StoreDriver() {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		path := sc.Path
		if path == "" {
			path = filepath.Join(ws.DataDir(), "kazi.db")
		}
		return store.NewSQLite(path, sc.SessionID)
	case "postgres":
		return store.NewPostgres(sc.DSN, sc.SessionID)
	default:
		return nil, fmt.Errorf("unknown store driver: %q", sc.Driver)
	}
}

// newToolRegistry registers the configured built-in tools, each wrapped with
// observability when metrics are enabled.
func newToolRegistry(cfg *config.Config, ws *workspace.Workspace, obs *observability.Observability, logger *slog.Logger) *tools.Registry {
	registry := tools.NewRegistry()
	register := func(t tools.Tool) {
		if obs.MetricsOrNil() != nil {
			t = observability.NewInstrumentedTool(t, obs.Metrics, obs.TracerOrNil())
		}
		registry.Register(t)
	}

	if sc := cfg.Tools.Shell; sc != nil && sc.Enabled {
		register(shell.NewTool(ws.Root, sc.Timeout(), logger))
	}
	if fc := cfg.Tools.File; fc != nil && fc.Enabled {
		allowed := fc.AllowedPaths
		if len(allowed) == 0 {
			allowed = []string{ws.Root}
		}
		fileCfg := file.Config{
			AllowedPaths:     allowed,
			MaxFileSizeBytes: fc.MaxFileSizeBytes,
		}
		register(file.NewReadTool(fileCfg, logger))
		register(file.NewListTool(fileCfg, logger))
	}
	if cfg.Tools.Search {
		register(search.NewTool(ws.Root, logger))
	}
	return registry
}
