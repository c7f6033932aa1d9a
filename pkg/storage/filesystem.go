package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStorage persists certificate and template blobs on disk. Reads
// consult the primary directory first and fall back to a read-only
// legacy directory for files uploaded before the storage consolidation.
type LocalStorage struct {
	primaryDir string
	legacyDir  string
}

// NewLocalStorage ensures the primary directory exists and returns a handle.
// The legacy directory is optional and never created.
func NewLocalStorage(primaryDir, legacyDir string) (*LocalStorage, error) {
	if primaryDir == "" {
		primaryDir = "./storage/certificates"
	}
	if err := os.MkdirAll(primaryDir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage directory: %w", err)
	}
	return &LocalStorage{primaryDir: primaryDir, legacyDir: legacyDir}, nil
}

// Save writes the given bytes to the provided relative path under the primary dir.
func (s *LocalStorage) Save(filename string, data []byte) (string, error) {
	path := s.resolve(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return filename, nil
}

// SaveStream copies from reader into the target file path.
func (s *LocalStorage) SaveStream(filename string, r io.Reader) (string, error) {
	path := s.resolve(filename)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("prepare storage directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create blob file: %w", err)
	}
	defer file.Close() //nolint:errcheck
	if _, err := io.Copy(file, r); err != nil {
		return "", fmt.Errorf("write blob stream: %w", err)
	}
	return filename, nil
}

// Download returns the full content of a stored blob, trying the primary
// location first and the legacy location second.
func (s *LocalStorage) Download(filename string) ([]byte, error) {
	data, err := os.ReadFile(s.resolve(filename))
	if err == nil {
		return data, nil
	}
	if s.legacyDir != "" {
		legacy, legacyErr := os.ReadFile(filepath.Join(s.legacyDir, filename))
		if legacyErr == nil {
			return legacy, nil
		}
	}
	return nil, fmt.Errorf("download blob %s: %w", filename, err)
}

// Open returns a read-only handle for the stored file.
func (s *LocalStorage) Open(filename string) (*os.File, error) {
	file, err := os.Open(s.resolve(filename))
	if err == nil {
		return file, nil
	}
	if s.legacyDir != "" {
		legacy, legacyErr := os.Open(filepath.Join(s.legacyDir, filename))
		if legacyErr == nil {
			return legacy, nil
		}
	}
	return nil, fmt.Errorf("open blob: %w", err)
}

// Delete removes a stored file if present. Legacy files are left alone.
func (s *LocalStorage) Delete(filename string) error {
	if err := os.Remove(s.resolve(filename)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// Path exposes the underlying absolute path (useful for debugging).
func (s *LocalStorage) Path(filename string) string {
	return s.resolve(filename)
}

func (s *LocalStorage) resolve(filename string) string {
	if filepath.IsAbs(filename) {
		return filename
	}
	return filepath.Join(s.primaryDir, filename)
}
