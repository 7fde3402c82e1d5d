// Package workspace manages isolated per-execution staging directories.
// Each accepted request gets a uniquely named directory holding its staged
// script; the directory is removed on every exit path before the response
// is returned. No two in-flight executions ever share a directory.
package workspace

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Workspace is an isolated filesystem area for one execution.
type Workspace struct {
	ID         string // Unique per request (UUIDv4).
	Dir        string // Absolute directory path, 0700.
	ScriptPath string // The staged script file inside Dir.
}

// StageFile writes an auxiliary file (e.g. a launch harness) into the
// workspace. The name must be a bare filename — path separators are rejected
// so a workspace can never write outside itself.
func (ws *Workspace) StageFile(name string, content []byte) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid workspace file name %q", name)
	}
	path := filepath.Join(ws.Dir, name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		return "", fmt.Errorf("staging %s: %w", name, err)
	}
	return path, nil
}

// Manager stages and releases per-execution workspaces under a common root.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager creates a Manager rooted at the given directory, creating it
// if needed. Empty root defaults to <os.TempDir>/ngao.
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	if root == "" {
		root = filepath.Join(os.TempDir(), "ngao")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace root %q: %w", root, err)
	}
	if err := os.MkdirAll(abs, 0700); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Root returns the absolute workspace root directory.
func (m *Manager) Root() string { return m.root }

// Stage creates a fresh workspace containing the script as its single staged
// file. The directory name is a UUIDv4, so concurrent executions can neither
// collide with nor predict each other's paths.
func (m *Manager) Stage(scriptContent, ext string) (*Workspace, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", id, err)
	}

	if ext == "" {
		ext = "ps1"
	}
	scriptPath := filepath.Join(dir, "script."+ext)
	if err := os.WriteFile(scriptPath, []byte(scriptContent), 0600); err != nil {
		// Don't leak the directory when staging fails halfway.
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("staging script in workspace %s: %w", id, err)
	}

	return &Workspace{ID: id, Dir: dir, ScriptPath: scriptPath}, nil
}

// Release removes the workspace directory and everything the script left in
// it. Best-effort: failures are logged, never returned — cleanup must not
// mask the execution outcome. Safe to call with nil.
func (m *Manager) Release(ws *Workspace) {
	if ws == nil {
		return
	}
	if err := os.RemoveAll(ws.Dir); err != nil {
		m.logger.Warn("failed to remove workspace",
			slog.String("workspace_id", ws.ID),
			slog.String("dir", ws.Dir),
			slog.String("error", err.Error()),
		)
	}
}
