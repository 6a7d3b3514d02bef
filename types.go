package imgcas

import (
	"io"
	"time"

	"github.com/aweris/imgcas/internal/metadata"
	"github.com/aweris/imgcas/internal/remote"
)

// ObjectRecord is the metadata kept for each unique piece of content.
// Re-exported from internal/metadata for convenience.
type ObjectRecord = metadata.Record

// Remote is a backup target. Re-exported from internal/remote for convenience.
type Remote = remote.Remote

// Authenticator provides registry credentials for Push and Pull.
type Authenticator = remote.Authenticator

// MetadataStore is the durable digest → record mapping the engine commits to.
type MetadataStore interface {
	Get(digest string) (ObjectRecord, bool)
	Put(rec ObjectRecord) error
	Delete(digest string) error
	Snapshot() map[string]ObjectRecord
}

// BlobStore holds object bytes at paths relative to its root.
type BlobStore interface {
	Write(digest, ext string, created time.Time, r io.Reader) (string, error)
	Read(rel string) (io.ReadCloser, error)
	Exists(rel string) (bool, error)
	Delete(rel string) error
	Walk(fn func(rel string, size int64) error) error
}

// Validator decides whether an upload is acceptable. The returned error's
// message is surfaced to the uploader as the rejection reason.
type Validator interface {
	Validate(size int64, mimeType, ext string) error
}

// Status tells a successful Store apart from a dedup hit.
type Status int

const (
	StatusStored Status = iota + 1
	StatusDuplicate
)

func (s Status) String() string {
	switch s {
	case StatusStored:
		return "stored"
	case StatusDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Result describes a successful Store.
type Result struct {
	Status    Status
	LogicalID string
	Digest    string
	Record    ObjectRecord
}

func (r Result) Duplicate() bool { return r.Status == StatusDuplicate }

// Stats aggregates the current record set.
type Stats struct {
	UniqueObjects int    `json:"unique_objects"`
	TotalBytes    uint64 `json:"total_bytes"`
	TotalUploads  uint64 `json:"total_uploads"` // sum of reference counts
}
