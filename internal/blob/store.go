// Package blob stores raw uploaded file bytes on local disk, keyed by document
// id. The surrounding platform may substitute an object store; the engine only
// needs Save/Load/Delete.
package blob

import (
	"fmt"
	"os"
	"path/filepath"
)

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if dir == "" {
		dir = "data/blobs"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir failed: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(documentID uint) string {
	return filepath.Join(s.dir, fmt.Sprintf("%d.bin", documentID))
}

func (s *Store) Save(documentID uint, data []byte) error {
	if err := os.WriteFile(s.path(documentID), data, 0o644); err != nil {
		return fmt.Errorf("save blob for document %d failed: %w", documentID, err)
	}
	return nil
}

func (s *Store) Load(documentID uint) ([]byte, error) {
	data, err := os.ReadFile(s.path(documentID))
	if err != nil {
		return nil, fmt.Errorf("load blob for document %d failed: %w", documentID, err)
	}
	return data, nil
}

// Delete removes the blob; a missing file is not an error.
func (s *Store) Delete(documentID uint) error {
	if err := os.Remove(s.path(documentID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob for document %d failed: %w", documentID, err)
	}
	return nil
}
