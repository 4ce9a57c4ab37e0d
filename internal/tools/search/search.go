// Package search implements the code search tool: a recursive grep over a
// rooted directory tree, emitting "path:line: text" matches.
package search

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jkaninda/kazi/internal/tools"
)

// DefaultMaxMatches caps result lines so one broad query cannot flood the
// script with megabytes of matches.
const DefaultMaxMatches = 500

// skipDirs are directory names never descended into.
var skipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	".idea":        true,
}

// Tool searches file contents under a fixed root.
type Tool struct {
	root       string
	maxMatches int
	logger     *slog.Logger
}

// NewTool creates a search tool rooted at root.
func NewTool(root string, logger *slog.Logger) *Tool {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Tool{root: root, maxMatches: DefaultMaxMatches, logger: logger}
}

func (t *Tool) Name() string { return "code_search" }
func (t *Tool) Description() string {
	return "Search file contents for a pattern, returning path:line matches"
}

func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "Regular expression to search for"},
			"path":  map[string]any{"type": "string", "description": "Subdirectory to search, relative to the root"},
		},
		"required": []string{"query"},
	}
}

func (t *Tool) Validate(params map[string]any) error {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return fmt.Errorf("missing required parameter: query")
	}
	if _, err := regexp.Compile(query); err != nil {
		return fmt.Errorf("invalid query %q: %w", query, err)
	}
	return nil
}

// Execute walks the tree under root (optionally narrowed by "path") and
// reports every line matching the query regexp.
func (t *Tool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("missing required parameter: query")
	}
	re, err := regexp.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("invalid query %q: %w", query, err)
	}

	start := t.root
	if sub, ok := params["path"].(string); ok && sub != "" {
		start = filepath.Join(t.root, sub)
		rel, err := filepath.Rel(t.root, start)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil, fmt.Errorf("path %q escapes the search root", sub)
		}
	}

	t.logger.InfoContext(ctx, "code search",
		slog.String("query", query),
		slog.String("path", start),
	)

	var matches []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil // unreadable entries are skipped, not fatal
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if skipDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if len(matches) >= t.maxMatches {
			return filepath.SkipAll
		}
		found, err := t.searchFile(p, re, t.maxMatches-len(matches))
		if err != nil {
			return nil
		}
		matches = append(matches, found...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching: %w", err)
	}

	return &tools.Result{
		Output:  tools.TruncateOutput(strings.Join(matches, "\n"), tools.MaxOutputBytes),
		Success: true,
		Metadata: map[string]any{
			"matches":   len(matches),
			"truncated": len(matches) >= t.maxMatches,
		},
	}, nil
}

func (t *Tool) searchFile(path string, re *regexp.Regexp, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	rel, err := filepath.Rel(t.root, path)
	if err != nil {
		rel = path
	}

	var found []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.ContainsRune(line, 0) {
			return found, nil // binary file, stop scanning
		}
		if re.MatchString(line) {
			found = append(found, fmt.Sprintf("%s:%d: %s", rel, lineNo, strings.TrimSpace(line)))
			if len(found) >= limit {
				return found, nil
			}
		}
	}
	return found, scanner.Err()
}
