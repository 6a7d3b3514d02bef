package imgcas

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aweris/imgcas/internal/blob"
	"github.com/rs/zerolog"
)

// Sweeper removes objects older than the retention window. It keeps no timer
// state of its own: RunSweep is a plain synchronous call, and Run is a thin
// ticker around it for hosting processes.
type Sweeper struct {
	engine *Engine
	log    zerolog.Logger
}

func NewSweeper(engine *Engine) *Sweeper {
	return &Sweeper{
		engine: engine,
		log:    engine.log.With().Str("component", "sweeper").Logger(),
	}
}

// RunSweep deletes every object created before now-window, sequentially and
// continuing past individual failures. Records whose blob has gone missing
// are dropped in the same pass. It returns the number of objects deleted.
//
// Expiry is keyed on creation time: re-uploading content refreshes its last
// access time but not its lifetime.
func (s *Sweeper) RunSweep(ctx context.Context, now time.Time, window time.Duration) int {
	start := time.Now()
	cutoff := now.Add(-window)

	snap := s.engine.Snapshot()
	digests := make([]string, 0, len(snap))
	for d := range snap {
		digests = append(digests, d)
	}
	sort.Strings(digests)

	var expired, repaired, failed int
	for _, digest := range digests {
		if ctx.Err() != nil {
			s.log.Warn().Err(ctx.Err()).Msg("sweep interrupted")
			break
		}

		rec := snap[digest]
		if rec.CreatedAt.Before(cutoff) {
			ok, err := s.engine.Delete(ctx, digest)
			if err != nil {
				failed++
				s.log.Error().Err(err).Str("digest", short(digest)).Msg("failed to delete expired object")
				continue
			}
			if ok {
				expired++
			}
			continue
		}

		ok, err := s.engine.dropOrphanRecord(digest)
		if err != nil {
			failed++
			s.log.Error().Err(err).Str("digest", short(digest)).Msg("failed to check blob")
			continue
		}
		if ok {
			repaired++
			s.log.Warn().Str("digest", short(digest)).Str("path", rec.StoredPath).Msg("removed record with missing blob")
		}
	}

	deleted := expired + repaired
	s.engine.opts.Metrics.RecordSweep(deleted, time.Since(start))
	remaining := s.engine.Stats()

	s.log.Info().
		Int("expired", expired).
		Int("repaired", repaired).
		Int("failed", failed).
		Int("remaining", remaining.UniqueObjects).
		Dur("window", window).
		Msg("sweep completed")
	return deleted
}

// Run sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval, window time.Duration) {
	if interval <= 0 {
		s.log.Warn().Dur("interval", interval).Msg("sweeper disabled")
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		s.RunSweep(ctx, s.engine.now(), window)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// dropOrphanRecord removes the record for digest if its blob is missing.
func (e *Engine) dropOrphanRecord(digest string) (bool, error) {
	unlock := e.locks.lock(digest)
	defer unlock()

	rec, ok := e.meta.Get(digest)
	if !ok {
		return false, nil
	}
	exists, err := e.blobs.Exists(rec.StoredPath)
	if err != nil && !errors.Is(err, blob.ErrInvalidPath) {
		return false, fmt.Errorf("%w: %w", ErrIO, err)
	}
	if exists {
		return false, nil
	}
	if err := e.meta.Delete(digest); err != nil {
		return false, fmt.Errorf("%w: delete record %s: %w", ErrIO, short(digest), err)
	}
	e.opts.Metrics.RecordDelete()
	return true, nil
}
