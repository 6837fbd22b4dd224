// Package tempdir hands out uniquely named scratch directories for bundle
// extraction and cleans them up again.
package tempdir

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Manager allocates extraction directories under a single scratch root.
// Allocate and Release are safe for concurrent use; they only touch disjoint
// subdirectories.
type Manager struct {
	root string
}

// Setup wipes any leftover contents of root and returns a Manager for it.
// Called once at daemon startup, before any app is launched.
func Setup(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("tempdir: scratch root is required")
	}
	if err := os.RemoveAll(root); err != nil {
		return nil, fmt.Errorf("tempdir: failed to clear scratch root %s: %w", root, err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("tempdir: failed to create scratch root %s: %w", root, err)
	}
	return &Manager{root: root}, nil
}

// Root returns the scratch root directory.
func (m *Manager) Root() string {
	return m.root
}

// Allocate creates a fresh, uniquely named directory for one extraction of the
// named app and returns its path.
func (m *Manager) Allocate(appName string) (string, error) {
	dir := filepath.Join(m.root, fmt.Sprintf("%s-%s", appName, uuid.New().String()))
	if err := os.Mkdir(dir, 0755); err != nil {
		return "", fmt.Errorf("tempdir: failed to allocate directory for %s: %w", appName, err)
	}
	return dir, nil
}

// Release recursively deletes a previously allocated directory. Callers treat
// a failure as non-fatal and log it.
func (m *Manager) Release(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("tempdir: failed to remove %s: %w", dir, err)
	}
	return nil
}
