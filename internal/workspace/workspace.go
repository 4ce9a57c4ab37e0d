// Package workspace resolves and prepares the Kazi working directory.
// The workspace root is where the file, search and shell tools operate,
// where scheduled script files resolve, and where local runtime state
// (the SQLite session database) lives under .kazi/.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Workspace is a resolved, existing working directory root.
type Workspace struct {
	Root string

	mu      sync.Mutex
	created map[string]bool // directories already ensured
}

// New creates a Workspace rooted at the given path. It resolves ~ to the
// user's home directory, makes the path absolute and creates the root
// directory if it does not exist.
func New(root string) (*Workspace, error) {
	resolved, err := resolvePath(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}

	w := &Workspace{
		Root:    resolved,
		created: make(map[string]bool),
	}

	if err := w.ensureDir(resolved, 0750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}

	return w, nil
}

// DataDir returns <root>/.kazi/, the home of local runtime state such as
// the default SQLite session database.
func (w *Workspace) DataDir() string {
	return w.dir(".kazi")
}

// ResolveScript resolves a scheduled job's script path against the root.
// Absolute paths pass through unchanged.
func (w *Workspace) ResolveScript(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(w.Root, path)
}

// dir returns an absolute path under the root and ensures it exists.
func (w *Workspace) dir(name string) string {
	p := filepath.Join(w.Root, name)
	_ = w.ensureDir(p, 0750)
	return p
}

// ensureDir creates a directory if it doesn't already exist.
// Uses a cache to avoid redundant stat/mkdir calls.
func (w *Workspace) ensureDir(path string, perm os.FileMode) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.created[path] {
		return nil
	}

	if err := os.MkdirAll(path, perm); err != nil {
		return fmt.Errorf("creating directory %s: %w", path, err)
	}
	w.created[path] = true
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
