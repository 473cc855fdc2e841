package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

// DefaultDirPermissions defines the permissions for directories created on demand.
const DefaultDirPermissions = 0755

// Local stores files under a root directory on the local filesystem.
type Local struct {
	root string
}

// NewLocal creates a Local storage rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage root not set")
	}
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create storage root", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	slog.Debug("Local storage ready", "root", dir)
	return &Local{root: dir}, nil
}

// Root returns the base directory.
func (l *Local) Root() string {
	return l.root
}

// Write stores data at p via a temp file and rename, so readers never see a
// partially written file.
func (l *Local) Write(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	full := filepath.Join(l.root, filepath.FromSlash(p))
	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Local storage mkdir failed", "error", err, "dir", dir)
		return fmt.Errorf("failed to create directory for %s: %w", p, err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", p, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		slog.Error("Local storage write failed", "error", err, "path", p)
		return fmt.Errorf("failed to write %s: %w", p, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close %s: %w", p, err)
	}
	if err := os.Rename(tmpName, full); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to move %s into place: %w", p, err)
	}

	slog.Debug("Local storage write succeeded", "path", p, "bytes", len(data), "content_type", contentType)
	return nil
}

// Read returns the contents stored at p.
func (l *Local) Read(ctx context.Context, p string) ([]byte, error) {
	if err := ValidatePath(p); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(l.root, filepath.FromSlash(p)))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", p, err)
	}
	return data, nil
}
