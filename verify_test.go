package imgcas

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerify_Consistent(t *testing.T) {
	te := newTestEngine(t)
	for i := range 5 {
		te.store(t, pngBytes(i), "a.png")
	}

	report, err := te.Verify(t.Context(), false)
	require.NoError(t, err)
	assert.True(t, report.Consistent())
	assert.Equal(t, 5, report.Records)
	assert.Equal(t, 5, report.Files)
	assert.Zero(t, report.Repaired)
}

func TestVerify_ReportsDrift(t *testing.T) {
	te := newTestEngine(t)
	missing := te.store(t, pngBytes(1), "a.png")
	te.store(t, pngBytes(2), "b.png")
	require.NoError(t, os.Remove(filepath.Join(te.root, filepath.FromSlash(missing.Record.StoredPath))))

	orphan := "2026/01/01/" + strings.Repeat("e", 64) + ".gif"
	writeFile(t, te.root, orphan, []byte("GIF89a"))

	report, err := te.Verify(t.Context(), false)
	require.NoError(t, err)
	assert.False(t, report.Consistent())
	assert.Equal(t, []string{missing.Digest}, report.MissingBlobs)
	assert.Equal(t, []string{orphan}, report.OrphanFiles)
	assert.Zero(t, report.Repaired)

	// Nothing changes without repair.
	assert.Len(t, te.Snapshot(), 2)
	assert.FileExists(t, filepath.Join(te.root, filepath.FromSlash(orphan)))
}

func TestVerify_Repair(t *testing.T) {
	te := newTestEngine(t)
	missing := te.store(t, pngBytes(1), "a.png")
	keep := te.store(t, pngBytes(2), "b.png")
	require.NoError(t, os.Remove(filepath.Join(te.root, filepath.FromSlash(missing.Record.StoredPath))))

	orphan := "2026/01/01/" + strings.Repeat("e", 64) + ".gif"
	writeFile(t, te.root, orphan, []byte("GIF89a"))
	stray := "notes/readme.txt"
	writeFile(t, te.root, stray, []byte("hello"))

	report, err := te.Verify(t.Context(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Repaired)
	assert.ElementsMatch(t, []string{orphan, stray}, report.OrphanFiles)

	_, ok := te.Get(missing.Digest)
	assert.False(t, ok)
	_, ok = te.Get(keep.Digest)
	assert.True(t, ok)
	assert.NoFileExists(t, filepath.Join(te.root, filepath.FromSlash(orphan)))
	// Files that are not blobs are reported but kept.
	assert.FileExists(t, filepath.Join(te.root, filepath.FromSlash(stray)))

	again, err := te.Verify(t.Context(), false)
	require.NoError(t, err)
	assert.Empty(t, again.MissingBlobs)
	assert.Equal(t, []string{stray}, again.OrphanFiles)
}

func TestVerify_RepairKeepsReferencedFile(t *testing.T) {
	te := newTestEngine(t)
	res := te.store(t, pngBytes(1), "a.png")

	ok, err := te.removeOrphanFile(res.Record.StoredPath)
	require.NoError(t, err)
	assert.False(t, ok)
	te.assertConsistent(t)
}

func writeFile(t *testing.T, root, rel string, data []byte) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
}
