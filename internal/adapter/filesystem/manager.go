package filesystem

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/modelkeep/model-artifact-cache/internal/port"
)

const partialSuffix = ".partial"

// Manager handles local cache filesystem operations
type Manager struct {
	rootDir string
}

// Ensure Manager implements port.CacheFS
var _ port.CacheFS = (*Manager)(nil)

// NewManager creates a new filesystem manager rooted at rootDir
func NewManager(rootDir string) (*Manager, error) {
	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache root dir: %w", err)
	}

	return &Manager{rootDir: rootDir}, nil
}

// RootDir returns the cache root directory
func (m *Manager) RootDir() string {
	return m.rootDir
}

// PartialPath returns the partial-file location for a destination path
func (m *Manager) PartialPath(destPath string) string {
	return m.resolve(destPath) + partialSuffix
}

// resolve turns a destination path into an absolute path under the cache root.
// Absolute destination paths are used as-is.
func (m *Manager) resolve(destPath string) string {
	if filepath.IsAbs(destPath) {
		return destPath
	}
	return filepath.Join(m.rootDir, destPath)
}

// OpenPartial opens the partial file for appending at the given offset.
// The file is truncated to offset first so a resumed transfer never leaves
// stray bytes past the resume point.
func (m *Manager) OpenPartial(destPath string, offset int64) (io.WriteCloser, error) {
	partial := m.PartialPath(destPath)

	if err := os.MkdirAll(filepath.Dir(partial), 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent dir: %w", err)
	}

	f, err := os.OpenFile(partial, os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open partial file: %w", err)
	}

	if err := f.Truncate(offset); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to truncate partial file: %w", err)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to seek partial file: %w", err)
	}

	return f, nil
}

// PartialSize returns the current size of the partial file, or 0 when absent
func (m *Manager) PartialSize(destPath string) (int64, error) {
	info, err := os.Stat(m.PartialPath(destPath))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// PartialDigest returns the hex sha256 digest of the partial file
func (m *Manager) PartialDigest(destPath string) (string, error) {
	f, err := os.Open(m.PartialPath(destPath))
	if err != nil {
		return "", fmt.Errorf("failed to open partial file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash partial file: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// Promote renames the partial file to its final destination path
func (m *Manager) Promote(destPath string) error {
	final := m.resolve(destPath)
	if err := os.Rename(m.PartialPath(destPath), final); err != nil {
		return fmt.Errorf("failed to promote partial file: %w", err)
	}
	return nil
}

// DeletePartial removes the partial file
func (m *Manager) DeletePartial(destPath string) error {
	if err := os.Remove(m.PartialPath(destPath)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete partial file: %w", err)
	}
	return nil
}

// DeleteFile removes a completed cache file
func (m *Manager) DeleteFile(path string) error {
	if err := os.Remove(m.resolve(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// CacheSize returns total size of files under the cache root
func (m *Manager) CacheSize() (int64, error) {
	var size int64
	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// CleanOldPartials removes partial files older than the specified duration
func (m *Manager) CleanOldPartials(olderThan time.Duration) (int, error) {
	count := 0
	threshold := time.Now().Add(-olderThan)

	err := filepath.Walk(m.rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == partialSuffix {
			if info.ModTime().Before(threshold) {
				if removeErr := os.Remove(path); removeErr == nil {
					count++
				}
			}
		}
		return nil
	})
	return count, err
}
