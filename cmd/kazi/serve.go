package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/scheduler"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the script runtime over MCP stdio",
	Long: `Expose the runtime as an MCP server on stdio. Clients get a
run_script tool returning the result envelope as JSON, and a clear_session
tool resetting the session store and output buffer. Scheduled jobs run in
the background when the scheduler is enabled.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "", "config file (YAML or JSON)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(serveConfigPath)
	if err != nil {
		return err
	}
	logger := newLogger()

	c, err := initComponents(cfg, logger)
	if err != nil {
		return err
	}
	defer c.Cleanup()

	if cfg.Scheduler != nil && cfg.Scheduler.Enabled {
		var metrics *scheduler.Metrics
		if mc := c.Obs.MetricsOrNil(); mc != nil {
			metrics = scheduler.NewMetrics(mc.Registry)
		}
		sched := scheduler.New(c.Runtime, cfg.Scheduler, c.Workspace, metrics, logger)
		stop, err := sched.Start(cmd.Context())
		if err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer stop()
	}

	s := server.NewMCPServer(
		"kazi",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("run_script",
			mcp.WithDescription("Execute an orchestration script in the sandboxed runtime and return its result envelope as JSON."),
			mcp.WithString("source",
				mcp.Required(),
				mcp.Description("JavaScript source of the orchestration script."),
			),
		),
		c.handleRunScript,
	)

	s.AddTool(
		mcp.NewTool("clear_session",
			mcp.WithDescription("Clear the session store and output buffer."),
		),
		c.handleClearSession,
	)

	logger.Info("mcp server listening on stdio")
	if err := server.ServeStdio(s); err != nil {
		return fmt.Errorf("serving MCP: %w", err)
	}
	return nil
}

func (c *components) handleRunScript(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	source, _ := args["source"].(string)
	if source == "" {
		return mcp.NewToolResultError("source is required"), nil
	}

	res := c.Runtime.Execute(ctx, source)
	out, err := json.Marshal(runEnvelope{
		Result: res,
		Output: c.Runtime.Output().Items(),
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (c *components) handleClearSession(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := c.Runtime.Store().Clear(ctx); err != nil {
		c.Logger.Error("clearing session store", slog.String("error", err.Error()))
		return mcp.NewToolResultError(fmt.Sprintf("clearing session store: %v", err)), nil
	}
	c.Runtime.Output().Clear()
	return mcp.NewToolResultText("session cleared"), nil
}
