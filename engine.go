package imgcas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aweris/imgcas/internal/blob"
	"github.com/aweris/imgcas/internal/metadata"
	"github.com/aweris/imgcas/internal/metrics"
	"github.com/aweris/imgcas/internal/validate"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Engine keeps the blob store and the metadata store consistent. It is the
// only writer of either.
type Engine struct {
	meta  MetadataStore
	blobs BlobStore
	locks *digestLocks
	opts  *Options
	log   zerolog.Logger
}

// Open creates or opens a store with blobs under storeRoot and records in metadataPath.
func Open(storeRoot, metadataPath string, opts ...Option) (*Engine, error) {
	blobs, err := blob.New(expandPath(storeRoot))
	if err != nil {
		return nil, err
	}
	meta, err := metadata.Open(expandPath(metadataPath))
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	e := New(meta, blobs, opts...)
	e.log.Info().
		Str("root", blobs.Root()).
		Str("metadata", meta.Path()).
		Int("records", meta.Len()).
		Str("hash", e.opts.Hasher.Name()).
		Msg("store opened")
	return e, nil
}

// New builds an engine over explicitly provided stores.
func New(meta MetadataStore, blobs BlobStore, opts ...Option) *Engine {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if l, ok := options.Validator.(interface{ MaxSize() uint64 }); ok {
		if limit := l.MaxSize(); limit > 0 && (options.MaxObjectSize == 0 || limit < options.MaxObjectSize) {
			options.MaxObjectSize = limit
		}
	}

	return &Engine{
		meta:  meta,
		blobs: blobs,
		locks: newDigestLocks(),
		opts:  options,
		log:   options.Logger,
	}
}

// Store validates, hashes and deduplicates the content read from r.
//
// Novel content is written to the blob store before its record is committed;
// a dedup hit only bumps the reference count and access time. Rejected
// uploads return a *ValidationError and leave both stores untouched.
func (e *Engine) Store(ctx context.Context, r io.Reader, filename, declaredType string) (Result, error) {
	data, err := e.readUpload(r)
	if err != nil {
		e.opts.Metrics.RecordUpload(metrics.ResultError, 0)
		return Result{}, fmt.Errorf("%w: read upload: %w", ErrIO, err)
	}
	if limit := e.opts.MaxObjectSize; limit > 0 && uint64(len(data)) > limit {
		e.opts.Metrics.RecordUpload(metrics.ResultRejected, len(data))
		reason := fmt.Sprintf("file size exceeds %s limit", humanize.IBytes(limit))
		e.log.Debug().Str("filename", filename).Str("reason", reason).Msg("upload rejected")
		return Result{}, &ValidationError{Reason: reason}
	}

	sniffed := validate.Sniff(data)
	ext := validate.Extension(filename)
	if err := e.opts.Validator.Validate(int64(len(data)), sniffed, ext); err != nil {
		e.opts.Metrics.RecordUpload(metrics.ResultRejected, len(data))
		e.log.Debug().Str("filename", filename).Str("mime", sniffed).Str("reason", err.Error()).Msg("upload rejected")
		return Result{}, &ValidationError{Reason: err.Error()}
	}
	if declared := mediaType(declaredType); declared != "" && declared != sniffed {
		e.log.Debug().Str("declared", declared).Str("sniffed", sniffed).Msg("declared type differs from content")
	}

	digest, err := e.opts.Hasher.Hash(bytes.NewReader(data))
	if err != nil {
		e.opts.Metrics.RecordUpload(metrics.ResultError, len(data))
		return Result{}, fmt.Errorf("%w: %w", ErrIO, err)
	}

	unlock := e.locks.lock(digest)
	defer unlock()

	if rec, ok := e.meta.Get(digest); ok {
		rec.Touch(e.opts.Clock())
		if err := e.meta.Put(rec); err != nil {
			e.opts.Metrics.RecordUpload(metrics.ResultError, len(data))
			return Result{}, fmt.Errorf("%w: update record %s: %w", ErrIO, short(digest), err)
		}
		e.opts.Metrics.RecordUpload(metrics.ResultDuplicate, len(data))
		e.log.Info().
			Str("filename", filename).
			Str("digest", short(digest)).
			Uint32("refs", rec.ReferenceCount).
			Msg("duplicate upload")
		return Result{Status: StatusDuplicate, LogicalID: rec.LogicalID, Digest: digest, Record: rec}, nil
	}

	// Abandoned uploads stop here, before anything is written.
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	now := e.opts.Clock()
	rel, err := e.blobs.Write(digest, ext, now, bytes.NewReader(data))
	if err != nil {
		e.opts.Metrics.RecordUpload(metrics.ResultError, len(data))
		return Result{}, fmt.Errorf("%w: write blob %s: %w", ErrIO, short(digest), err)
	}

	rec := ObjectRecord{
		Digest:         digest,
		LogicalID:      logicalID(now, digest),
		OriginalName:   baseName(filename),
		MimeType:       sniffed,
		SizeBytes:      uint64(len(data)),
		StoredPath:     rel,
		CreatedAt:      now,
		LastAccessedAt: now,
		ReferenceCount: 1,
	}
	if err := e.meta.Put(rec); err != nil {
		if derr := e.blobs.Delete(rel); derr != nil {
			e.log.Error().Err(derr).Str("path", rel).Msg("failed to remove blob after metadata failure")
		}
		e.opts.Metrics.RecordUpload(metrics.ResultError, len(data))
		return Result{}, fmt.Errorf("%w: commit record %s: %w", ErrIO, short(digest), err)
	}

	e.opts.Metrics.RecordUpload(metrics.ResultStored, len(data))
	e.log.Info().
		Str("filename", filename).
		Str("id", rec.LogicalID).
		Str("digest", short(digest)).
		Uint64("size", rec.SizeBytes).
		Msg("object stored")
	return Result{Status: StatusStored, LogicalID: rec.LogicalID, Digest: digest, Record: rec}, nil
}

// Delete removes the object with digest: blob first, then its record.
// Unknown digests are a no-op and return false.
func (e *Engine) Delete(ctx context.Context, digest string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	unlock := e.locks.lock(digest)
	defer unlock()

	rec, ok := e.meta.Get(digest)
	if !ok {
		return false, nil
	}

	if err := e.blobs.Delete(rec.StoredPath); err != nil {
		if !errors.Is(err, blob.ErrInvalidPath) {
			return false, fmt.Errorf("%w: delete blob %s: %w", ErrIO, short(digest), err)
		}
		// Nothing on disk can be addressed by this record; drop it.
		e.log.Warn().Err(err).Str("digest", short(digest)).Msg("record has unusable blob path")
	}
	if err := e.meta.Delete(digest); err != nil {
		return false, fmt.Errorf("%w: delete record %s: %w", ErrIO, short(digest), err)
	}

	e.opts.Metrics.RecordDelete()
	e.log.Info().Str("id", rec.LogicalID).Str("digest", short(digest)).Msg("object deleted")
	return true, nil
}

// Get returns the record for digest.
func (e *Engine) Get(digest string) (ObjectRecord, bool) {
	return e.meta.Get(digest)
}

// Open returns the content and record for digest. The caller closes the reader.
func (e *Engine) Open(digest string) (io.ReadCloser, ObjectRecord, error) {
	rec, ok := e.meta.Get(digest)
	if !ok {
		return nil, ObjectRecord{}, fmt.Errorf("%w: %s", ErrNotFound, digest)
	}
	rc, err := e.blobs.Read(rec.StoredPath)
	if errors.Is(err, blob.ErrNotFound) {
		return nil, ObjectRecord{}, fmt.Errorf("%w: blob for %s is missing", ErrNotFound, short(digest))
	}
	if err != nil {
		return nil, ObjectRecord{}, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return rc, rec, nil
}

// Snapshot returns a point-in-time copy of every record.
func (e *Engine) Snapshot() map[string]ObjectRecord {
	return e.meta.Snapshot()
}

// Stats aggregates the current record set.
func (e *Engine) Stats() Stats {
	var s Stats
	for _, rec := range e.meta.Snapshot() {
		s.UniqueObjects++
		s.TotalBytes += rec.SizeBytes
		s.TotalUploads += uint64(rec.ReferenceCount)
	}
	e.opts.Metrics.SetInventory(s.UniqueObjects, s.TotalBytes)
	return s
}

// Close releases the metadata store if it holds resources.
func (e *Engine) Close() error {
	if c, ok := e.meta.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (e *Engine) now() time.Time { return e.opts.Clock() }

// readUpload buffers at most MaxObjectSize+1 bytes so oversize uploads are
// detected without reading them in full.
func (e *Engine) readUpload(r io.Reader) ([]byte, error) {
	if e.opts.MaxObjectSize > 0 {
		r = io.LimitReader(r, int64(e.opts.MaxObjectSize)+1)
	}
	return io.ReadAll(r)
}

func logicalID(created time.Time, digest string) string {
	return "img_" + created.UTC().Format("20060102_150405") + "_" + digest[:8]
}

func baseName(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		return filename[i+1:]
	}
	return filename
}

func mediaType(v string) string {
	if v == "" {
		return ""
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return ""
	}
	return mt
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
