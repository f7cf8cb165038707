// Package object abstracts raw blob storage. The pipeline only needs
// download/upload/delete by opaque locator; the real bucket lives behind the
// excluded API layer.
package object

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Store is the blob storage port.
type Store interface {
	Download(ctx context.Context, locator string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) (locator string, err error)
	Delete(ctx context.Context, locator string) error
}

// FS is a filesystem-backed Store for dev runs and tests.
type FS struct {
	Root string
}

func NewFS(root string) (*FS, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create object root: %w", err)
	}
	return &FS{Root: root}, nil
}

func (s *FS) path(locator string) (string, error) {
	clean := filepath.Clean("/" + locator)
	if strings.Contains(clean, "..") {
		return "", fmt.Errorf("invalid locator %q", locator)
	}
	return filepath.Join(s.Root, clean), nil
}

func (s *FS) Download(_ context.Context, locator string) ([]byte, error) {
	p, err := s.path(locator)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", locator, err)
	}
	return data, nil
}

func (s *FS) Upload(_ context.Context, path string, data []byte, _ string) (string, error) {
	p, err := s.path(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(p, data, 0o644); err != nil {
		return "", fmt.Errorf("upload %s: %w", path, err)
	}
	return path, nil
}

func (s *FS) Delete(_ context.Context, locator string) error {
	p, err := s.path(locator)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", locator, err)
	}
	return nil
}
