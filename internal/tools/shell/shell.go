// Package shell implements the shell execution tool.
// Commands run through sh -c under a hard timeout with truncated output.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/jkaninda/kazi/internal/tools"
)

// DefaultTimeout bounds a single command when the caller supplies none.
const DefaultTimeout = 30 * time.Second

// Tool executes shell commands on the host.
type Tool struct {
	workDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewTool creates a shell tool rooted at workDir. A zero timeout falls back
// to DefaultTimeout.
func NewTool(workDir string, timeout time.Duration, logger *slog.Logger) *Tool {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{workDir: workDir, timeout: timeout, logger: logger}
}

func (t *Tool) Name() string        { return "shell_exec" }
func (t *Tool) Description() string { return "Execute a shell command and return its output" }

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{"type": "string", "description": "The shell command to execute"},
			"timeout": map[string]any{"type": "string", "description": "Duration string (e.g. '10s', '1m'), overrides default timeout"},
		},
		"required": []string{"command"},
	}
}

// Validate checks that required params are present and well-formed.
func (t *Tool) Validate(params map[string]any) error {
	if _, err := requireString(params, "command"); err != nil {
		return err
	}
	if timeout, ok := params["timeout"].(string); ok && timeout != "" {
		if _, err := time.ParseDuration(timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeout, err)
		}
	}
	return nil
}

// Execute runs the command via sh -c.
//
// Required params:
//
//	"command" (string): the shell command to execute
//
// Optional params:
//
//	"timeout" (string): duration string (e.g. "10s", "1m"), overrides default
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	command, err := requireString(params, "command")
	if err != nil {
		return nil, err
	}

	timeout := t.timeout
	if raw, ok := params["timeout"].(string); ok && raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid timeout %q: %w", raw, err)
		}
		timeout = d
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t.logger.InfoContext(ctx, "shell tool executing",
		slog.String("command", command),
	)

	start := time.Now()
	cmd := exec.CommandContext(execCtx, "sh", "-c", command)
	cmd.Dir = t.workDir
	out, runErr := cmd.CombinedOutput()
	duration := time.Since(start)

	output := tools.TruncateOutput(string(out), tools.MaxOutputBytes)

	if execCtx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("command timed out after %s", timeout)
	}
	if runErr != nil {
		if _, ok := runErr.(*exec.ExitError); !ok {
			return nil, fmt.Errorf("starting command: %w", runErr)
		}
	}
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	return &tools.Result{
		Output:  output,
		Success: exitCode == 0,
		Metadata: map[string]any{
			"exit_code": exitCode,
			"duration":  duration.String(),
		},
	}, nil
}

// requireString extracts a required non-empty string parameter.
func requireString(params map[string]any, key string) (string, error) {
	v, ok := params[key]
	if !ok {
		return "", fmt.Errorf("missing required parameter: %s", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("parameter %s must be a string, got %T", key, v)
	}
	if s == "" {
		return "", fmt.Errorf("parameter %s must not be empty", key)
	}
	return s, nil
}
