// Package validate decides which uploads are acceptable images.
package validate

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
)

// Defaults mirror the original upload service.
var (
	DefaultMaxSize           uint64 = 5 * humanize.MiByte
	DefaultAllowedExtensions        = []string{".jpg", ".jpeg", ".png", ".gif", ".webp"}
	DefaultAllowedMimeTypes         = []string{"image/jpeg", "image/png", "image/gif", "image/webp"}
)

// extensionsByType lists the extensions accepted for well known image types.
// Types not listed fall back to the extension mimetype knows for them.
var extensionsByType = map[string][]string{
	"image/jpeg": {".jpg", ".jpeg"},
	"image/png":  {".png"},
	"image/gif":  {".gif"},
	"image/webp": {".webp"},
}

// Rules validates size, extension, sniffed type and their consistency.
type Rules struct {
	maxSize    uint64
	extensions map[string]struct{}
	mimeTypes  map[string]struct{}
}

// New builds a rule set. Extensions are matched case-insensitively and may
// be given with or without the leading dot.
func New(maxSize uint64, extensions, mimeTypes []string) (*Rules, error) {
	if maxSize == 0 {
		return nil, errors.New("validate: max size must be positive")
	}
	if len(extensions) == 0 || len(mimeTypes) == 0 {
		return nil, errors.New("validate: allowed extensions and mime types must not be empty")
	}

	r := &Rules{
		maxSize:    maxSize,
		extensions: make(map[string]struct{}, len(extensions)),
		mimeTypes:  make(map[string]struct{}, len(mimeTypes)),
	}
	for _, ext := range extensions {
		r.extensions[NormalizeExt(ext)] = struct{}{}
	}
	for _, m := range mimeTypes {
		r.mimeTypes[strings.ToLower(strings.TrimSpace(m))] = struct{}{}
	}
	return r, nil
}

// Default returns the rules used when nothing is configured.
func Default() *Rules {
	r, _ := New(DefaultMaxSize, DefaultAllowedExtensions, DefaultAllowedMimeTypes)
	return r
}

func (r *Rules) MaxSize() uint64 { return r.maxSize }

// Validate returns an error with a human-readable reason when the upload is unacceptable.
func (r *Rules) Validate(size int64, mimeType, ext string) error {
	if size <= 0 {
		return errors.New("file is empty")
	}
	if uint64(size) > r.maxSize {
		return fmt.Errorf("file size exceeds %s limit", humanize.IBytes(r.maxSize))
	}

	ext = NormalizeExt(ext)
	if _, ok := r.extensions[ext]; !ok {
		return fmt.Errorf("file extension %q not allowed, allowed: %s", ext, strings.Join(sortedKeys(r.extensions), ", "))
	}
	if _, ok := r.mimeTypes[mimeType]; !ok {
		return fmt.Errorf("file type %q not allowed, only images are accepted", mimeType)
	}
	if !extensionMatches(mimeType, ext) {
		return fmt.Errorf("file extension %q does not match actual file type %q", ext, mimeType)
	}
	return nil
}

// Sniff detects the media type of content, without parameters.
func Sniff(data []byte) string {
	m := mimetype.Detect(data).String()
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.TrimSpace(m)
}

// Extension returns the lowercased extension of filename including the dot,
// or "" when the name has none. A leading dot alone (".png") is not an extension.
func Extension(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	dot := strings.LastIndexByte(filename, '.')
	if dot <= 0 {
		return ""
	}
	return strings.ToLower(filename[dot:])
}

func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func extensionMatches(mimeType, ext string) bool {
	if exts, ok := extensionsByType[mimeType]; ok {
		for _, e := range exts {
			if e == ext {
				return true
			}
		}
		return false
	}
	if m := mimetype.Lookup(mimeType); m != nil {
		return m.Extension() == ext
	}
	return false
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
