package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Compile-time interface satisfaction check.
var _ ObjectStore = (*FSStore)(nil)

// FSStore is an ObjectStore backed by a local directory tree laid out as
// <root>/<owner>/<run>/<artifact>.
type FSStore struct {
	root string
}

// NewFSStore creates a filesystem object store rooted at dir.
func NewFSStore(dir string) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &FSStore{root: dir}, nil
}

// Put writes the artifact bytes and returns the file's path.
func (s *FSStore) Put(_ context.Context, ownerID, runID, name string, data []byte) (string, error) {
	// Artifact names come from the compute backend; keep only the base name
	// so they cannot escape the run directory.
	name = filepath.Base(name)

	dir := filepath.Join(s.root, ownerID, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact dir: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write artifact: %w", err)
	}
	return path, nil
}
