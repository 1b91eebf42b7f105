// Package media stores uploaded images on disk under content-addressed
// names, so identical uploads never produce a second file.
package media

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidName is returned for filenames that could escape the store's
// directory.
var ErrInvalidName = errors.New("invalid media filename")

// ErrNotFound is returned by Resolve when no file exists under the name.
var ErrNotFound = errors.New("media file not found")

type Store struct {
	dir string
}

func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Put writes data under "<md5 hex>.<ext>" and returns the filename. If a file
// with the same content hash already exists the write is skipped; two
// concurrent identical uploads may both write, which is harmless because the
// content is identical.
func (s *Store) Put(data []byte, ext string) (string, error) {
	if ext == "" {
		ext = "jpg"
	}
	sum := md5.Sum(data)
	name := hex.EncodeToString(sum[:]) + "." + ext

	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err == nil {
		return name, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("failed to stat media file: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write media file: %w", err)
	}
	return name, nil
}

// Resolve maps a stored filename back to its on-disk path. Names carrying
// path separators or parent references are rejected before touching the
// filesystem.
func (s *Store) Resolve(name string) (string, error) {
	if !ValidName(name) {
		return "", ErrInvalidName
	}
	path := filepath.Join(s.dir, name)
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat media file: %w", err)
	}
	return path, nil
}

// Remove deletes a stored file. A file that is already gone is not an error.
func (s *Store) Remove(name string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}
	err := os.Remove(filepath.Join(s.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove media file: %w", err)
	}
	return nil
}

// ValidName reports whether a filename is safe to use inside the store
// directory: no separators, no parent-directory sequences, not empty.
func ValidName(name string) bool {
	if name == "" {
		return false
	}
	if strings.ContainsAny(name, `/\`) {
		return false
	}
	if strings.Contains(name, "..") {
		return false
	}
	return true
}
