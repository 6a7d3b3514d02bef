package imgcas

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"sync"

	"github.com/aweris/imgcas/internal/blob"
	"github.com/sourcegraph/conc/pool"
)

// VerifyReport lists inconsistencies between records and blob files.
type VerifyReport struct {
	Records      int      `json:"records"`
	Files        int      `json:"files"`
	MissingBlobs []string `json:"missing_blobs,omitempty"` // digests whose blob is gone
	OrphanFiles  []string `json:"orphan_files,omitempty"`  // blob paths no record references
	Repaired     int      `json:"repaired"`
}

// Consistent reports whether every record has its blob and every blob a record.
func (r VerifyReport) Consistent() bool {
	return len(r.MissingBlobs) == 0 && len(r.OrphanFiles) == 0
}

// Verify checks that records and blob files match one to one. With repair,
// records without blobs and blobs without records are removed; each fix
// re-checks under the digest lock so concurrent uploads are left alone.
func (e *Engine) Verify(ctx context.Context, repair bool) (VerifyReport, error) {
	snap := e.meta.Snapshot()
	report := VerifyReport{Records: len(snap)}

	referenced := make(map[string]struct{}, len(snap))
	for _, rec := range snap {
		referenced[rec.StoredPath] = struct{}{}
	}

	var mu sync.Mutex
	p := pool.New().WithMaxGoroutines(e.opts.Concurrency).WithContext(ctx).WithCancelOnError()
	for digest, rec := range snap {
		p.Go(func(ctx context.Context) error {
			exists, err := e.blobs.Exists(rec.StoredPath)
			if err != nil && !errors.Is(err, blob.ErrInvalidPath) {
				return fmt.Errorf("%w: check %s: %w", ErrIO, short(digest), err)
			}
			if !exists {
				mu.Lock()
				report.MissingBlobs = append(report.MissingBlobs, digest)
				mu.Unlock()
			}
			return nil
		})
	}
	if err := p.Wait(); err != nil {
		return report, err
	}

	err := e.blobs.Walk(func(rel string, _ int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		report.Files++
		if _, ok := referenced[rel]; !ok {
			report.OrphanFiles = append(report.OrphanFiles, rel)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("%w: walk blobs: %w", ErrIO, err)
	}

	sort.Strings(report.MissingBlobs)
	sort.Strings(report.OrphanFiles)

	if !repair {
		return report, nil
	}

	for _, digest := range report.MissingBlobs {
		ok, err := e.dropOrphanRecord(digest)
		if err != nil {
			e.log.Error().Err(err).Str("digest", short(digest)).Msg("failed to drop record")
			continue
		}
		if ok {
			report.Repaired++
			e.log.Warn().Str("digest", short(digest)).Msg("removed record with missing blob")
		}
	}
	for _, rel := range report.OrphanFiles {
		ok, err := e.removeOrphanFile(rel)
		if err != nil {
			e.log.Error().Err(err).Str("path", rel).Msg("failed to remove orphan file")
			continue
		}
		if ok {
			report.Repaired++
			e.log.Warn().Str("path", rel).Msg("removed unreferenced blob")
		}
	}
	return report, nil
}

// removeOrphanFile deletes rel unless a record now points at it. Files that
// do not look like blobs are left in place.
func (e *Engine) removeOrphanFile(rel string) (bool, error) {
	digest, _, ok := blob.ParseName(path.Base(rel))
	if !ok {
		e.log.Warn().Str("path", rel).Msg("skipping unrecognized file in blob store")
		return false, nil
	}

	unlock := e.locks.lock(digest)
	defer unlock()

	if rec, ok := e.meta.Get(digest); ok && rec.StoredPath == rel {
		return false, nil
	}
	if err := e.blobs.Delete(rel); err != nil {
		return false, fmt.Errorf("%w: %w", ErrIO, err)
	}
	return true, nil
}
