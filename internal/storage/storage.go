// Package storage provides file storage for attachments and generated documents.
//
// Paths are slash-separated and relative; each backend maps them onto its own
// namespace (a directory tree on disk, or blob keys in a container).
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

var (
	// ErrNotFound indicates the requested file does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrEmptyPath indicates an empty storage path was provided.
	ErrEmptyPath = errors.New("storage path must not be empty")
	// ErrInvalidPath indicates the storage path is absolute or escapes the root.
	ErrInvalidPath = errors.New("storage path contains invalid segment")
)

// Storage writes and reads whole files. Directories are created on demand.
type Storage interface {
	// Write stores data at p. A failed write leaves no partial file behind.
	Write(ctx context.Context, p string, data []byte, contentType string) error
	// Read returns the contents stored at p, or ErrNotFound.
	Read(ctx context.Context, p string) ([]byte, error)
}

// ValidatePath rejects empty, absolute, and root-escaping paths.
func ValidatePath(p string) error {
	if p == "" {
		return ErrEmptyPath
	}
	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return ErrInvalidPath
		}
	}
	if path.Clean(p) != p {
		return ErrInvalidPath
	}
	return nil
}
