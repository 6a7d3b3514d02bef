package metadata

import "time"

// Record describes one unique piece of stored content.
type Record struct {
	Digest         string    `json:"digest"`
	LogicalID      string    `json:"logical_id"`
	OriginalName   string    `json:"original_name"`
	MimeType       string    `json:"mime_type"`
	SizeBytes      uint64    `json:"size_bytes"`
	StoredPath     string    `json:"stored_path"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
	ReferenceCount uint32    `json:"reference_count"`
}

// Touch records another upload of the same content at now.
func (r *Record) Touch(now time.Time) {
	r.ReferenceCount++
	if now.Before(r.CreatedAt) {
		now = r.CreatedAt
	}
	r.LastAccessedAt = now
}
