// Package filestore persists the rule set as a single JSON document on disk.
//
// Writes go to a temp file in the same directory which is then renamed over
// the target, so readers see the previous document or the new one and never
// a partial write. A missing file reads as an empty rule set.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/roach88/autoreply/internal/rule"
)

const (
	dirPerm  os.FileMode = 0o700
	filePerm os.FileMode = 0o600
)

// Store reads and writes a rule document at a fixed path.
//
// Implements rule.Store.
//
// Thread-safety: Safe for concurrent use within one process. Coordination
// across processes relies on atomic rename only.
type Store struct {
	path string
	mu   sync.RWMutex
}

var _ rule.Store = (*Store)(nil)

// New creates a store for the document at path. The file is not touched
// until the first List or Save.
func New(path string) *Store {
	return &Store{path: filepath.Clean(path)}
}

// Path returns the document location.
func (s *Store) Path() string {
	return s.path
}

// List reads and decodes the document. Legacy array documents are upgraded
// in memory; the file is rewritten in the current format on the next Save.
func (s *Store) List(ctx context.Context) ([]rule.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []rule.Rule{}, nil
		}
		return nil, fmt.Errorf("read rules %s: %w", s.path, err)
	}

	rules, err := rule.DecodeDocument(data)
	if err != nil {
		return nil, fmt.Errorf("read rules %s: %w", s.path, err)
	}
	return rules, nil
}

// Save encodes rules and atomically replaces the document.
func (s *Store) Save(ctx context.Context, rules []rule.Rule) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := rule.EncodeDocument(rules)
	if err != nil {
		return fmt.Errorf("write rules %s: %w", s.path, err)
	}
	data = append(data, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeAtomic(s.path, data); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename temp for %s: %w", path, err)
	}
	return nil
}
