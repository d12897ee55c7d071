// Package localfs exposes the host file system to the load-file tool.
package localfs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ctford/lein-mcp/internal/usecase"
)

// FS reads files from the local disk. Relative paths resolve against Root
// when it is set, otherwise against the working directory.
type FS struct {
	Root string
}

// New creates an FS rooted at root.
func New(root string) *FS {
	return &FS{Root: root}
}

func (f *FS) resolve(path string) string {
	if f.Root == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(f.Root, path)
}

// Exists reports whether path names a regular file.
func (f *FS) Exists(path string) bool {
	info, err := os.Stat(f.resolve(path))
	return err == nil && info.Mode().IsRegular()
}

// ReadFile returns the contents of path.
func (f *FS) ReadFile(path string) (string, error) {
	b, err := os.ReadFile(f.resolve(path))
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return string(b), nil
}

var _ usecase.FileSystem = (*FS)(nil)
