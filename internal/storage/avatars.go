// Package storage abstracts file persistence for user avatars.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// AvatarStore persists avatar files and returns opaque references stored on
// the user record.
type AvatarStore interface {
	Store(file io.Reader, ext string) (string, error)
	Delete(ref string) error
}

// DiskStore keeps avatars on the local filesystem under a base directory.
type DiskStore struct {
	baseDir string
}

// NewDiskStore creates the base directory if needed.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: create avatar dir: %w", err)
	}
	return &DiskStore{baseDir: baseDir}, nil
}

// Store writes the file under a random name and returns its reference.
func (s *DiskStore) Store(file io.Reader, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	name := uuid.NewString() + "." + ext
	path := filepath.Join(s.baseDir, name)

	out, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("storage: create avatar: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("storage: write avatar: %w", err)
	}
	return name, nil
}

// Delete removes a stored avatar. A missing file is not an error; the
// reference may point at an already-cleaned file.
func (s *DiskStore) Delete(ref string) error {
	if ref == "" {
		return nil
	}
	// Refuse path traversal in stored references.
	if ref != filepath.Base(ref) {
		return fmt.Errorf("storage: invalid avatar reference %q", ref)
	}
	err := os.Remove(filepath.Join(s.baseDir, ref))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("storage: delete avatar: %w", err)
	}
	return nil
}

var _ AvatarStore = (*DiskStore)(nil)
