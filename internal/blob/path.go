package blob

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/aweris/imgcas/internal/hasher"
)

const maxExtLen = 10

// ParseName splits a blob file name into digest and extension.
func ParseName(name string) (digest, ext string, ok bool) {
	if len(name) < hasher.DigestLen {
		return "", "", false
	}
	digest, ext = name[:hasher.DigestLen], name[hasher.DigestLen:]
	if validateName(digest, ext) != nil {
		return "", "", false
	}
	return digest, ext, true
}

func validateName(digest, ext string) error {
	if !hasher.Valid(digest) {
		return fmt.Errorf("%w: malformed digest %q", ErrInvalidPath, digest)
	}
	if ext == "" {
		return nil
	}
	if ext[0] != '.' || len(ext) < 2 || len(ext) > maxExtLen+1 {
		return fmt.Errorf("%w: malformed extension %q", ErrInvalidPath, ext)
	}
	for _, r := range ext[1:] {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("%w: malformed extension %q", ErrInvalidPath, ext)
		}
	}
	return nil
}

// resolve maps a slash-separated relative path to an absolute path inside
// the root, rejecting anything that could escape it.
func (s *Store) resolve(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: null byte", ErrInvalidPath)
	}
	if strings.Contains(rel, `\`) {
		return "", fmt.Errorf("%w: backslash in %q", ErrInvalidPath, rel)
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, rel)
	}
	if path.Clean(rel) != rel {
		return "", fmt.Errorf("%w: unclean path %q", ErrInvalidPath, rel)
	}
	for _, seg := range strings.Split(rel, "/") {
		if seg == ".." || seg == "." {
			return "", fmt.Errorf("%w: traversal in %q", ErrInvalidPath, rel)
		}
	}

	abs := filepath.Join(s.root, filepath.FromSlash(rel))
	if !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q escapes root", ErrInvalidPath, rel)
	}
	return abs, nil
}
