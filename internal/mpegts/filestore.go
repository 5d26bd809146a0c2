package mpegts

import (
	"fmt"
	"os"
	"path/filepath"
)

// FileStore is the blob storage the DVR archive writes segment payloads to.
type FileStore interface {
	WriteFile(path string, data []byte) error
	ReadFile(path string) ([]byte, error)
	DeleteFile(path string) error
}

// OSFileStore stores blobs on the local file system.
type OSFileStore struct{}

// WriteFile writes data to a temporary sibling and renames it into place, so
// a concurrent ReadFile never observes a partially written segment.
func (OSFileStore) WriteFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	f, err := os.CreateTemp(filepath.Dir(path), ".seg-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}

// ReadFile returns the content of path.
func (OSFileStore) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// DeleteFile removes path. A missing file is not an error.
func (OSFileStore) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
