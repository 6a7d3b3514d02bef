package blob

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2026, 10, 19, 23, 30, 0, 0, time.UTC)

func digestN(n int) string {
	return fmt.Sprintf("%064x", n)
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPath_DateSharded(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.Path(digestN(1), ".png", testDay)
	require.NoError(t, err)
	assert.Equal(t, "2026/10/19/"+digestN(1)+".png", rel)

	// Date is taken in UTC regardless of the caller's zone.
	east := time.FixedZone("east", 5*3600)
	rel, err = s.Path(digestN(1), "", time.Date(2026, 10, 20, 2, 0, 0, 0, east))
	require.NoError(t, err)
	assert.Equal(t, "2026/10/19/"+digestN(1), rel)
}

func TestWrite_ReadBack(t *testing.T) {
	s := newTestStore(t)

	rel, err := s.Write(digestN(1), ".jpg", testDay, strings.NewReader("jpeg bytes"))
	require.NoError(t, err)

	rc, err := s.Read(rel)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "jpeg bytes", string(data))

	size, err := s.Stat(rel)
	require.NoError(t, err)
	assert.Equal(t, int64(10), size)
}

func TestWrite_OverwriteIsIdempotent(t *testing.T) {
	s := newTestStore(t)

	rel1, err := s.Write(digestN(1), ".png", testDay, strings.NewReader("partial"))
	require.NoError(t, err)
	rel2, err := s.Write(digestN(1), ".png", testDay, strings.NewReader("complete"))
	require.NoError(t, err)
	assert.Equal(t, rel1, rel2)

	data, err := os.ReadFile(filepath.Join(s.Root(), filepath.FromSlash(rel2)))
	require.NoError(t, err)
	assert.Equal(t, "complete", string(data))
}

func TestWrite_ConcurrentSamePath(t *testing.T) {
	s := newTestStore(t)

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Write(digestN(7), ".gif", testDay, strings.NewReader("GIF89a"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var files []string
	require.NoError(t, s.Walk(func(rel string, _ int64) error {
		files = append(files, rel)
		return nil
	}))
	assert.Equal(t, []string{"2026/10/19/" + digestN(7) + ".gif"}, files)
}

func TestWrite_FailedReaderLeavesNothing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write(digestN(1), ".png", testDay, io.MultiReader(strings.NewReader("abc"), failingReader{}))
	require.Error(t, err)

	var files []string
	require.NoError(t, filepath.WalkDir(s.Root(), func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			files = append(files, path)
		}
		return nil
	}))
	assert.Empty(t, files)
}

func TestDelete_PrunesEmptyDirs(t *testing.T) {
	s := newTestStore(t)

	relA, err := s.Write(digestN(1), ".png", testDay, strings.NewReader("a"))
	require.NoError(t, err)
	relB, err := s.Write(digestN(2), ".png", testDay.AddDate(0, 0, -1), strings.NewReader("b"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(relA))
	_, err = os.Stat(filepath.Join(s.Root(), "2026", "10", "19"))
	assert.True(t, os.IsNotExist(err), "empty day directory should be removed")
	_, err = os.Stat(filepath.Join(s.Root(), "2026", "10", "18"))
	assert.NoError(t, err, "sibling day must survive")

	require.NoError(t, s.Delete(relB))
	_, err = os.Stat(filepath.Join(s.Root(), "2026"))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(s.Root())
	assert.NoError(t, err, "root is never removed")
}

func TestDelete_MissingIsNotError(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Delete("2026/10/19/"+digestN(1)+".png"))
}

func TestRead_Missing(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Read("2026/10/19/" + digestN(1) + ".png")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.Exists("2026/10/19/" + digestN(1) + ".png")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolve_RejectsTraversal(t *testing.T) {
	s := newTestStore(t)

	for _, rel := range []string{
		"",
		"../outside",
		"2026/../../etc/passwd",
		"/etc/passwd",
		"./2026/x",
		"2026//x",
		"2026/x/",
		"a\x00b",
		`2026\..\x`,
	} {
		t.Run(rel, func(t *testing.T) {
			_, err := s.resolve(rel)
			assert.ErrorIs(t, err, ErrInvalidPath)
			assert.ErrorIs(t, s.Delete(rel), ErrInvalidPath)
		})
	}
}

func TestWrite_RejectsBadNames(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Write("../../evil", ".png", testDay, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.Write(digestN(1), "/../x", testDay, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)

	_, err = s.Write(digestN(1), ".PNG", testDay, strings.NewReader("x"))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestParseName(t *testing.T) {
	d, ext, ok := ParseName(digestN(5) + ".webp")
	require.True(t, ok)
	assert.Equal(t, digestN(5), d)
	assert.Equal(t, ".webp", ext)

	_, _, ok = ParseName("README")
	assert.False(t, ok)
}

func TestWalk_SkipsTempFiles(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Write(digestN(1), ".png", testDay, strings.NewReader("a"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "2026", "10", "19", tempPrefix+"123.tmp"), []byte("x"), 0644))

	count := 0
	require.NoError(t, s.Walk(func(string, int64) error {
		count++
		return nil
	}))
	assert.Equal(t, 1, count)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, io.ErrUnexpectedEOF }
