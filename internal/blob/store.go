// Package blob stores object bytes on a date-sharded directory tree.
//
// Layout:
//
//	root/
//	  2026/10/19/<digest><ext>
//
// The store knows nothing about reference counts or timestamps beyond the
// creation date used to place a file; keeping it consistent with the
// metadata is the caller's job.
package blob

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	dateLayout = "2006/01/02"
	tempPrefix = ".blob-"
)

var (
	ErrInvalidPath = errors.New("blob: invalid path")
	ErrNotFound    = errors.New("blob: not found")
)

type Store struct {
	root string
}

// New opens the store rooted at root, creating the directory if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: empty root", ErrInvalidPath)
	}
	root, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Store{root: root}, nil
}

func (s *Store) Root() string { return s.root }

// Path returns the relative location for digest created at the given time.
func (s *Store) Path(digest, ext string, created time.Time) (string, error) {
	if err := validateName(digest, ext); err != nil {
		return "", err
	}
	return created.UTC().Format(dateLayout) + "/" + digest + ext, nil
}

// Write stores r at the deterministic path for digest and returns that
// relative path. An existing file is replaced, so retries are safe.
func (s *Store) Write(digest, ext string, created time.Time, r io.Reader) (string, error) {
	rel, err := s.Path(digest, ext, created)
	if err != nil {
		return "", err
	}
	target, err := s.resolve(rel)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, tempPrefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("sync blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("chmod blob: %w", err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("rename blob: %w", err)
	}
	return rel, nil
}

// Read opens the blob at rel.
func (s *Store) Read(rel string) (io.ReadCloser, error) {
	target, err := s.resolve(rel)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(target)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return nil, fmt.Errorf("open blob: %w", err)
	}
	return f, nil
}

func (s *Store) Exists(rel string) (bool, error) {
	_, err := s.Stat(rel)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Stat returns the size of the blob at rel.
func (s *Store) Stat(rel string) (int64, error) {
	target, err := s.resolve(rel)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(target)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, rel)
	}
	if err != nil {
		return 0, fmt.Errorf("stat blob: %w", err)
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%w: %s is not a regular file", ErrInvalidPath, rel)
	}
	return info.Size(), nil
}

// Delete removes the blob at rel, then prunes empty parent directories up to
// (not including) the root. A missing file is not an error.
func (s *Store) Delete(rel string) error {
	target, err := s.resolve(rel)
	if err != nil {
		return err
	}
	if err := os.Remove(target); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	s.pruneEmptyDirs(filepath.Dir(target))
	return nil
}

// Walk calls fn for every committed blob with its relative path and size.
// In-flight temp files are skipped.
func (s *Store) Walk(fn func(rel string, size int64) error) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		return fn(filepath.ToSlash(rel), info.Size())
	})
}

// pruneEmptyDirs walks upward from dir removing empty directories until it
// reaches the root or a non-empty directory.
func (s *Store) pruneEmptyDirs(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root+string(filepath.Separator)) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
