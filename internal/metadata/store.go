// Package metadata persists object records in a single write-through file.
//
// Every mutation rewrites the whole record set through a temporary file and an
// atomic rename, so a record is on disk before Put returns. Paths ending in
// ".zst" are stored zstd-compressed.
package metadata

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/aweris/imgcas/internal/compression"
	"github.com/aweris/imgcas/internal/hasher"
)

const fileVersion = 1

var ErrCorrupt = errors.New("metadata: corrupt record file")

type fileFormat struct {
	Version int               `json:"version"`
	Records map[string]Record `json:"records"`
}

// Store is the authoritative digest → Record mapping.
type Store struct {
	path       string
	compressor *compression.Compressor

	mu      sync.RWMutex
	records map[string]Record
}

// Open loads the record file at path. A missing file yields an empty store;
// an unreadable or unparseable one is an error.
func Open(path string) (*Store, error) {
	compressor, err := compression.NewCompressor(compression.LevelDefault, strings.HasSuffix(path, ".zst"))
	if err != nil {
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	s := &Store{
		path:       path,
		compressor: compressor,
		records:    make(map[string]Record),
	}
	if err := s.load(); err != nil {
		_ = compressor.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string { return s.path }

func (s *Store) Get(digest string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[digest]
	return rec, ok
}

// Put inserts or replaces rec and persists the full set before returning.
// On persistence failure the previous state is restored.
func (s *Store) Put(rec Record) error {
	if rec.Digest == "" {
		return errors.New("metadata: record without digest")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[rec.Digest]
	s.records[rec.Digest] = rec
	if err := s.persistLocked(); err != nil {
		if existed {
			s.records[rec.Digest] = prev
		} else {
			delete(s.records, rec.Digest)
		}
		return err
	}
	return nil
}

// Delete removes digest and persists the remaining set. Unknown digests are a no-op.
func (s *Store) Delete(digest string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, existed := s.records[digest]
	if !existed {
		return nil
	}
	delete(s.records, digest)
	if err := s.persistLocked(); err != nil {
		s.records[digest] = prev
		return err
	}
	return nil
}

// Snapshot returns a point-in-time copy safe to iterate without locks.
func (s *Store) Snapshot() map[string]Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Record, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) Close() error {
	return s.compressor.Close()
}

// Encode serializes records in the on-disk format (uncompressed).
func Encode(records map[string]Record) ([]byte, error) {
	if records == nil {
		records = map[string]Record{}
	}
	return json.Marshal(fileFormat{Version: fileVersion, Records: records})
}

// Decode parses data produced by Encode.
func Decode(data []byte) (map[string]Record, error) {
	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if f.Version != fileVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, f.Version)
	}
	if f.Records == nil {
		f.Records = map[string]Record{}
	}
	for digest, rec := range f.Records {
		if err := checkRecord(digest, rec); err != nil {
			return nil, err
		}
	}
	return f.Records, nil
}

func checkRecord(key string, rec Record) error {
	switch {
	case !hasher.Valid(key):
		return fmt.Errorf("%w: malformed digest %q", ErrCorrupt, key)
	case rec.Digest != key:
		return fmt.Errorf("%w: key %q holds record for %q", ErrCorrupt, key, rec.Digest)
	case rec.ReferenceCount == 0:
		return fmt.Errorf("%w: record %s has zero references", ErrCorrupt, key)
	case rec.LastAccessedAt.Before(rec.CreatedAt):
		return fmt.Errorf("%w: record %s accessed before it was created", ErrCorrupt, key)
	}
	return nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	raw, err := s.compressor.Decompress(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	records, err := Decode(raw)
	if err != nil {
		return err
	}
	s.records = records
	return nil
}

func (s *Store) persistLocked() error {
	data, err := Encode(s.records)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	data = s.compressor.Compress(data)

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp metadata: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("sync metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close metadata: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename metadata: %w", err)
	}
	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry after a rename. Not all platforms
// support fsync on directories, so failures are ignored.
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
