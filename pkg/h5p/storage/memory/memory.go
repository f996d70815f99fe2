// Package memory keeps export archives in memory.
package memory

import (
	"bytes"
	"context"
	"io"
	"os"
	"sync"

	"github.com/tendant/simple-h5p/pkg/h5p"
)

// ExportStore is an in-memory implementation of h5p.ExportStore
type ExportStore struct {
	mu      sync.RWMutex
	exports map[string][]byte
}

// New creates an empty export store
func New() *ExportStore {
	return &ExportStore{exports: make(map[string][]byte)}
}

// SaveExport reads srcFile into memory under name
func (s *ExportStore) SaveExport(ctx context.Context, srcFile, name string) error {
	data, err := os.ReadFile(srcFile)
	if err != nil {
		return &h5p.StorageError{Op: "save_export", Path: srcFile, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.exports[name] = data
	return nil
}

func (s *ExportStore) DeleteExport(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.exports, name)
	return nil
}

func (s *ExportStore) HasExport(ctx context.Context, name string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.exports[name]
	return ok, nil
}

func (s *ExportStore) OpenExport(ctx context.Context, name string) (io.ReadCloser, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.exports[name]
	if !ok {
		return nil, h5p.ErrExportNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Names lists the stored archives.
func (s *ExportStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.exports))
	for name := range s.exports {
		names = append(names, name)
	}
	return names
}
