package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	data := t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)

	cfg, err := Load(New(""))
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(data, "imgcas", "blobs"), cfg.Storage.Root)
	assert.Equal(t, filepath.Join(data, "imgcas", "metadata.json"), cfg.Storage.MetadataFile)
	assert.Equal(t, "sha256", cfg.Storage.Hash)
	assert.Equal(t, ByteSize(5<<20), cfg.Upload.MaxObjectSize)
	assert.Equal(t, []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}, cfg.Upload.AllowedExtensions)
	assert.Len(t, cfg.Upload.AllowedMimeTypes, 4)
	assert.Equal(t, 24*time.Hour, cfg.Retention.Window)
	assert.Equal(t, time.Hour, cfg.Retention.Interval)
	assert.Equal(t, ":8080", cfg.Server.Listen)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, 4, cfg.Remote.Concurrency)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
storage:
  root: `+filepath.ToSlash(dir)+`/blobs
  hash: blake3
upload:
  max_object_size: 10MB
  allowed_extensions: [.png]
  allowed_mime_types: [image/png]
retention:
  window: 72h
  interval: 0s
logging:
  level: debug
  format: json
remote:
  ref: ghcr.io/acme/images:backup
`)

	cfg, err := Load(New(path))
	require.NoError(t, err)

	assert.Equal(t, filepath.ToSlash(dir)+"/blobs", filepath.ToSlash(cfg.Storage.Root))
	assert.Equal(t, "blake3", cfg.Storage.Hash)
	assert.Equal(t, ByteSize(10_000_000), cfg.Upload.MaxObjectSize)
	assert.Equal(t, []string{".png"}, cfg.Upload.AllowedExtensions)
	assert.Equal(t, 72*time.Hour, cfg.Retention.Window)
	assert.Zero(t, cfg.Retention.Interval)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "ghcr.io/acme/images:backup", cfg.Remote.Ref)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "retention:\n  window: 72h\n")
	t.Setenv("IMGCAS_RETENTION_WINDOW", "2h")
	t.Setenv("IMGCAS_UPLOAD_MAX_OBJECT_SIZE", "1MiB")
	t.Setenv("IMGCAS_UPLOAD_ALLOWED_EXTENSIONS", ".png,.gif")

	cfg, err := Load(New(path))
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, cfg.Retention.Window)
	assert.Equal(t, ByteSize(1<<20), cfg.Upload.MaxObjectSize)
	assert.Equal(t, []string{".png", ".gif"}, cfg.Upload.AllowedExtensions)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	_, err := Load(New(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]string{
		"hash":        "storage:\n  hash: md5\n",
		"window":      "retention:\n  window: 0s\n",
		"size":        "upload:\n  max_object_size: lots\n",
		"level":       "logging:\n  level: loud\n",
		"format":      "logging:\n  format: xml\n",
		"concurrency": "remote:\n  concurrency: 0\n",
	}
	for name, content := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(New(writeConfig(t, content)))
			assert.Error(t, err)
		})
	}
}

func TestByteSize_String(t *testing.T) {
	assert.Equal(t, "5.0 MiB", ByteSize(5<<20).String())
}
