package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCLI(t *testing.T) (configPath, dir string) {
	t.Helper()
	dir = t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_DATA_HOME", filepath.Join(dir, "data"))

	configPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf("storage:\n  root: %s\n  metadata_file: %s\nlogging:\n  level: error\n  format: json\n",
		filepath.ToSlash(filepath.Join(dir, "blobs")),
		filepath.ToSlash(filepath.Join(dir, "metadata.json")))
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))
	return configPath, dir
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runContext(t, t.Context(), args...)
}

// runContext executes the shared command tree under ctx. Cobra keeps a
// subcommand's context across executions, so every command gets ctx anew.
func runContext(t *testing.T, ctx context.Context, args ...string) (string, error) {
	t.Helper()
	setContext(rootCmd, ctx)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(ctx)
	return out.String(), err
}

func setContext(c *cobra.Command, ctx context.Context) {
	c.SetContext(ctx)
	for _, sub := range c.Commands() {
		setContext(sub, ctx)
	}
}

func writeImage(t *testing.T, dir, name string, n int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	data := append([]byte("\x89PNG\r\n\x1a\n"), []byte(fmt.Sprintf("\x00\x00\x00\x0dIHDR-%d", n))...)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestCLI_PutListStatsRemove(t *testing.T) {
	configPath, dir := setupCLI(t)
	a := writeImage(t, dir, "a.png", 1)
	b := writeImage(t, dir, "b.png", 2)
	dup := writeImage(t, dir, "dup.png", 1)

	out, err := run(t, "put", "--config", configPath, a, b, dup)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "stored\t"))
	assert.True(t, strings.HasPrefix(lines[2], "duplicate\t"))
	digest := strings.Split(lines[0], "\t")[2]

	out, err = run(t, "ls", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "a.png")
	assert.Contains(t, out, "b.png")
	assert.Contains(t, out, digest[:12])

	out, err = run(t, "stats", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "objects:  2")
	assert.Contains(t, out, "uploads:  3")

	out, err = run(t, "rm", "--config", configPath, digest)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted\t"+digest)

	out, err = run(t, "verify", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "1 records, 1 files, 0 missing, 0 orphaned")
}

func TestCLI_PutRejected(t *testing.T) {
	configPath, dir := setupCLI(t)
	txt := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(txt, []byte("hello"), 0o644))

	out, err := run(t, "put", "--config", configPath, txt)
	assert.Error(t, err)
	assert.Contains(t, out, "rejected\t"+txt)
}

func TestCLI_Sweep(t *testing.T) {
	configPath, dir := setupCLI(t)
	_, err := run(t, "put", "--config", configPath, writeImage(t, dir, "a.png", 1))
	require.NoError(t, err)

	out, err := run(t, "sweep", "--config", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 0 objects, 1 remaining")
}

func TestCLI_PushWithoutRef(t *testing.T) {
	configPath, _ := setupCLI(t)
	_, err := run(t, "push", "--config", configPath)
	assert.ErrorContains(t, err, "remote.ref")
}

func TestCLI_RunsAfterEarlierContextEnds(t *testing.T) {
	configPath, dir := setupCLI(t)

	ctx, cancel := context.WithCancel(t.Context())
	_, err := runContext(t, ctx, "put", "--config", configPath, writeImage(t, dir, "a.png", 1))
	require.NoError(t, err)
	cancel()

	out, err := run(t, "put", "--config", configPath, writeImage(t, dir, "b.png", 2))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "stored\t"))
}
