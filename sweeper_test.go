package imgcas

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aweris/imgcas/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSweep_RemovesExpired(t *testing.T) {
	reg := prometheus.NewRegistry()
	te := newTestEngine(t, WithMetrics(metrics.New(reg)))
	now := te.clock.Now()

	te.clock.Set(now.Add(-48 * time.Hour))
	old := te.store(t, pngBytes(1), "old.png")
	te.clock.Set(now.Add(-time.Hour))
	recent := te.store(t, pngBytes(2), "recent.png")
	te.clock.Set(now)

	deleted := NewSweeper(te.Engine).RunSweep(t.Context(), now, 24*time.Hour)
	assert.Equal(t, 1, deleted)

	_, ok := te.Get(old.Digest)
	assert.False(t, ok)
	_, ok = te.Get(recent.Digest)
	assert.True(t, ok)
	te.assertConsistent(t)

	// The old object's date directory is gone.
	_, err := os.Stat(filepath.Join(te.root, filepath.Dir(filepath.FromSlash(old.Record.StoredPath))))
	assert.True(t, os.IsNotExist(err))

	assert.InDelta(t, 1, testutil.ToFloat64(te.opts.Metrics.SweepDeletedTotal), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(te.opts.Metrics.Objects), 0)
}

func TestRunSweep_DuplicateDoesNotExtendLifetime(t *testing.T) {
	te := newTestEngine(t)
	now := te.clock.Now()

	te.clock.Set(now.Add(-30 * time.Hour))
	res := te.store(t, pngBytes(1), "a.png")
	te.clock.Set(now.Add(-time.Minute))
	te.store(t, pngBytes(1), "a.png")

	assert.Equal(t, 1, NewSweeper(te.Engine).RunSweep(t.Context(), now, 24*time.Hour))
	_, ok := te.Get(res.Digest)
	assert.False(t, ok)
}

func TestRunSweep_CutoffIsExclusive(t *testing.T) {
	te := newTestEngine(t)
	now := te.clock.Now()

	te.clock.Set(now.Add(-24 * time.Hour))
	te.store(t, pngBytes(1), "edge.png")

	assert.Zero(t, NewSweeper(te.Engine).RunSweep(t.Context(), now, 24*time.Hour))
	assert.Len(t, te.Snapshot(), 1)
}

func TestRunSweep_Empty(t *testing.T) {
	te := newTestEngine(t)
	assert.Zero(t, NewSweeper(te.Engine).RunSweep(t.Context(), te.clock.Now(), time.Hour))
}

func TestRunSweep_DropsRecordsWithMissingBlobs(t *testing.T) {
	te := newTestEngine(t)
	res := te.store(t, pngBytes(1), "a.png")
	keep := te.store(t, pngBytes(2), "b.png")
	require.NoError(t, os.Remove(filepath.Join(te.root, filepath.FromSlash(res.Record.StoredPath))))

	deleted := NewSweeper(te.Engine).RunSweep(t.Context(), te.clock.Now(), 24*time.Hour)
	assert.Equal(t, 1, deleted)

	_, ok := te.Get(res.Digest)
	assert.False(t, ok)
	_, ok = te.Get(keep.Digest)
	assert.True(t, ok)
}

func TestRunSweep_ContinuesPastFailures(t *testing.T) {
	te := newTestEngine(t)
	now := te.clock.Now()

	te.clock.Set(now.Add(-48 * time.Hour))
	for i := range 3 {
		te.store(t, pngBytes(i), "old.png")
	}
	te.clock.Set(now)

	// A directory where a blob should be makes that delete fail.
	var stuck ObjectRecord
	for _, rec := range te.Snapshot() {
		stuck = rec
		break
	}
	full := filepath.Join(te.root, filepath.FromSlash(stuck.StoredPath))
	require.NoError(t, os.Remove(full))
	require.NoError(t, os.MkdirAll(filepath.Join(full, "child"), 0o755))

	deleted := NewSweeper(te.Engine).RunSweep(t.Context(), now, 24*time.Hour)
	assert.Equal(t, 2, deleted)

	snap := te.Snapshot()
	require.Len(t, snap, 1)
	assert.Contains(t, snap, stuck.Digest)
}

func TestSweeperRun_StopsOnCancel(t *testing.T) {
	te := newTestEngine(t)
	now := te.clock.Now()
	te.clock.Set(now.Add(-48 * time.Hour))
	te.store(t, pngBytes(1), "old.png")
	te.clock.Set(now)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan struct{})
	go func() {
		defer close(done)
		NewSweeper(te.Engine).Run(ctx, 10*time.Millisecond, 24*time.Hour)
	}()

	assert.Eventually(t, func() bool { return len(te.Snapshot()) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSweeperRun_DisabledInterval(t *testing.T) {
	te := newTestEngine(t)
	NewSweeper(te.Engine).Run(t.Context(), 0, time.Hour)
}
