// Package hasher computes content digests used as object identity.
package hasher

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"github.com/zeebo/blake3"
)

// Supported algorithms.
const (
	SHA256 = "sha256"
	BLAKE3 = "blake3"
)

// DigestLen is the hex length of every digest produced by this package.
const DigestLen = 64

var ErrUnknownAlgorithm = errors.New("hasher: unknown algorithm")

// Hasher produces a fixed-length lowercase hex digest from a byte stream.
type Hasher interface {
	Name() string
	Hash(r io.Reader) (string, error)
}

type streamHasher struct {
	name string
	new  func() hash.Hash
}

// New returns the hasher for the named algorithm. An empty name selects SHA-256.
func New(name string) (Hasher, error) {
	switch name {
	case SHA256, "":
		return &streamHasher{name: SHA256, new: sha256.New}, nil
	case BLAKE3:
		return &streamHasher{name: BLAKE3, new: func() hash.Hash { return blake3.New() }}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
}

// Default returns the SHA-256 hasher.
func Default() Hasher {
	h, _ := New(SHA256)
	return h
}

func (h *streamHasher) Name() string { return h.name }

func (h *streamHasher) Hash(r io.Reader) (string, error) {
	sum := h.new()
	if _, err := io.Copy(sum, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(sum.Sum(nil)), nil
}

// Valid reports whether s looks like a digest: DigestLen lowercase hex characters.
func Valid(s string) bool {
	if len(s) != DigestLen {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
