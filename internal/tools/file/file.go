// Package file implements file access tools with path restriction and
// symlink protection.
//
// Security: every path is resolved to its absolute, symlink-free form and
// checked against the configured allowlist before any I/O occurs.
package file

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/jkaninda/kazi/internal/tools"
)

// Config configures file tool restrictions.
type Config struct {
	AllowedPaths     []string // Path prefixes that are allowed. Empty = deny all.
	MaxFileSizeBytes int64    // Maximum file size for read. 0 = 10 MB default.
}

const defaultMaxFileSize = 10 << 20 // 10 MB

// safePath resolves a user-supplied path to its absolute, symlink-free form
// and verifies it falls within one of the allowed prefixes.
//
// This prevents:
//   - Path traversal via ../ sequences
//   - Symlink-based escapes (symlink pointing outside allowed dirs)
//   - Relative path tricks
func safePath(raw string, allowed []string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("path must not be empty")
	}

	abs, err := filepath.Abs(raw)
	if err != nil {
		return "", fmt.Errorf("resolving path: %w", err)
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("path does not exist: %w", err)
	}

	for _, prefix := range allowed {
		absPrefix, err := filepath.Abs(prefix)
		if err != nil {
			continue
		}
		// Directory-safe prefix matching: "/tmp" matches "/tmp/foo"
		// but not "/tmpevil".
		if strings.HasPrefix(resolved, absPrefix+string(filepath.Separator)) || resolved == absPrefix {
			return resolved, nil
		}
	}

	return "", fmt.Errorf("path %q resolves to %q which is outside allowed directories", raw, resolved)
}

func maxSize(cfg Config) int64 {
	if cfg.MaxFileSizeBytes > 0 {
		return cfg.MaxFileSizeBytes
	}
	return defaultMaxFileSize
}

// requireString extracts a required non-empty string param.
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

// ---- ReadTool ----

// ReadTool reads file contents within allowed paths.
type ReadTool struct {
	config Config
	logger *slog.Logger
}

// NewReadTool creates a file read tool restricted to the given paths.
func NewReadTool(cfg Config, logger *slog.Logger) *ReadTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ReadTool{config: cfg, logger: logger}
}

func (t *ReadTool) Name() string { return "file_read" }
func (t *ReadTool) Description() string {
	return "Read file contents within allowed paths"
}

func (t *ReadTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{"type": "string", "description": "Path of the file to read"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *ReadTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	raw, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := safePath(raw, t.config.AllowedPaths)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, use file_list", path)
	}
	if info.Size() > maxSize(t.config) {
		return nil, fmt.Errorf("file %s is %d bytes, exceeds limit of %d", path, info.Size(), maxSize(t.config))
	}

	t.logger.InfoContext(ctx, "file tool reading", slog.String("path", path))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return &tools.Result{
		Output:  string(data),
		Success: true,
		Metadata: map[string]any{
			"path": path,
			"size": info.Size(),
		},
	}, nil
}

// ---- ListTool ----

// ListTool lists directory entries within allowed paths.
type ListTool struct {
	config Config
	logger *slog.Logger
}

// NewListTool creates a directory listing tool restricted to the given paths.
func NewListTool(cfg Config, logger *slog.Logger) *ListTool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ListTool{config: cfg, logger: logger}
}

func (t *ListTool) Name() string { return "file_list" }
func (t *ListTool) Description() string {
	return "List directory entries within allowed paths"
}

func (t *ListTool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":      map[string]any{"type": "string", "description": "Directory to list"},
			"recursive": map[string]any{"type": "boolean", "description": "Recurse into subdirectories"},
		},
		"required": []string{"path"},
	}
}

func (t *ListTool) Validate(params map[string]any) error {
	_, err := requireString(params, "path")
	return err
}

func (t *ListTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	raw, err := requireString(params, "path")
	if err != nil {
		return nil, err
	}
	path, err := safePath(raw, t.config.AllowedPaths)
	if err != nil {
		return nil, err
	}
	recursive, _ := params["recursive"].(bool)

	t.logger.InfoContext(ctx, "file tool listing", slog.String("path", path))

	var lines []string
	if recursive {
		err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if p == path {
				return nil
			}
			rel, relErr := filepath.Rel(path, p)
			if relErr != nil {
				return relErr
			}
			if d.IsDir() {
				rel += string(filepath.Separator)
			}
			lines = append(lines, rel)
			return nil
		})
	} else {
		var entries []fs.DirEntry
		entries, err = os.ReadDir(path)
		for _, e := range entries {
			name := e.Name()
			if e.IsDir() {
				name += string(filepath.Separator)
			}
			lines = append(lines, name)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", path, err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(strings.Join(lines, "\n"), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"path":  path,
			"count": len(lines),
		},
	}, nil
}
