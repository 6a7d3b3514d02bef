package imgcas

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"

	"github.com/aweris/imgcas/internal/blob"
	"github.com/aweris/imgcas/internal/metadata"
	"github.com/aweris/imgcas/internal/remote"
)

// Backup uploads every object and the metadata to rem. Records whose blob
// is missing are left out. It returns the number of objects pushed.
func (e *Engine) Backup(ctx context.Context, rem Remote) (int, error) {
	snap := e.meta.Snapshot()
	out := remote.Snapshot{Blobs: make(map[string][]byte, len(snap))}
	kept := make(map[string]ObjectRecord, len(snap))

	for digest, rec := range snap {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		data, err := e.readBlob(rec.StoredPath)
		if errors.Is(err, blob.ErrNotFound) || errors.Is(err, blob.ErrInvalidPath) {
			e.log.Warn().Str("digest", short(digest)).Str("path", rec.StoredPath).Msg("skipping record without blob")
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("%w: read blob %s: %w", ErrIO, short(digest), err)
		}
		out.Blobs[rec.StoredPath] = data
		kept[digest] = rec
	}

	encoded, err := metadata.Encode(kept)
	if err != nil {
		return 0, err
	}
	out.Metadata = encoded

	if err := rem.Push(ctx, out); err != nil {
		return 0, fmt.Errorf("push: %w", err)
	}
	e.log.Info().Int("objects", len(kept)).Msg("backup pushed")
	return len(kept), nil
}

// Restore downloads a backup from rem and adds every object not already
// present. Local records win over remote ones for the same digest. It
// returns the number of objects restored.
func (e *Engine) Restore(ctx context.Context, rem Remote) (int, error) {
	snap := e.meta.Snapshot()
	sizes := make(map[string]int64, len(snap))
	for _, rec := range snap {
		sizes[rec.StoredPath] = int64(rec.SizeBytes)
	}

	pulled, err := rem.Pull(ctx, remote.ShardHashes(sizes))
	if err != nil {
		return 0, fmt.Errorf("pull: %w", err)
	}
	records, err := metadata.Decode(pulled.Metadata)
	if err != nil {
		return 0, fmt.Errorf("decode remote metadata: %w", err)
	}

	digests := make([]string, 0, len(records))
	for d := range records {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	restored := 0
	for _, digest := range digests {
		if err := ctx.Err(); err != nil {
			return restored, err
		}
		ok, err := e.restoreObject(records[digest], pulled.Blobs[records[digest].StoredPath])
		if err != nil {
			return restored, err
		}
		if ok {
			restored++
		}
	}

	e.log.Info().Int("restored", restored).Int("remote", len(records)).Msg("backup restored")
	return restored, nil
}

// Push backs the store up to the OCI image ref.
func (e *Engine) Push(ctx context.Context, ref string) (int, error) {
	rem, err := e.ociRemote(ref)
	if err != nil {
		return 0, err
	}
	return e.Backup(ctx, rem)
}

// Pull restores the store from the OCI image ref.
func (e *Engine) Pull(ctx context.Context, ref string) (int, error) {
	rem, err := e.ociRemote(ref)
	if err != nil {
		return 0, err
	}
	return e.Restore(ctx, rem)
}

func (e *Engine) ociRemote(ref string) (*remote.OCIRemote, error) {
	rem, err := remote.NewOCIRemote(ref, e.opts.Auth)
	if err != nil {
		return nil, err
	}
	rem.SetConcurrency(e.opts.Concurrency)
	rem.SetLogger(e.log.With().Str("component", "remote").Logger())
	return rem, nil
}

func (e *Engine) restoreObject(rec ObjectRecord, data []byte) (bool, error) {
	digest := rec.Digest

	unlock := e.locks.lock(digest)
	defer unlock()

	if _, ok := e.meta.Get(digest); ok {
		return false, nil
	}
	if data == nil {
		e.log.Warn().Str("digest", short(digest)).Msg("remote record has no blob")
		return false, nil
	}

	sum, err := e.opts.Hasher.Hash(bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if sum != digest {
		e.log.Warn().Str("digest", short(digest)).Str("hash", e.opts.Hasher.Name()).Msg("remote blob does not match its digest")
		return false, nil
	}

	_, ext, ok := blob.ParseName(path.Base(rec.StoredPath))
	if !ok {
		e.log.Warn().Str("digest", short(digest)).Str("path", rec.StoredPath).Msg("remote record has invalid path")
		return false, nil
	}

	rel, err := e.blobs.Write(digest, ext, rec.CreatedAt, bytes.NewReader(data))
	if err != nil {
		return false, fmt.Errorf("%w: write blob %s: %w", ErrIO, short(digest), err)
	}
	rec.StoredPath = rel
	rec.SizeBytes = uint64(len(data))
	if err := e.meta.Put(rec); err != nil {
		if derr := e.blobs.Delete(rel); derr != nil {
			e.log.Error().Err(derr).Str("path", rel).Msg("failed to remove blob after metadata failure")
		}
		return false, fmt.Errorf("%w: commit record %s: %w", ErrIO, short(digest), err)
	}
	return true, nil
}

func (e *Engine) readBlob(rel string) ([]byte, error) {
	rc, err := e.blobs.Read(rel)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}
