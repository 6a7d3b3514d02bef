// Package remote backs up and restores a store through an OCI registry.
//
// Based on go-containerregistry patterns:
// - Authentication via keychain
// - Upload ordering: layers → config → manifest
// - Standard OCI distribution spec
//
// Image layout: one layer holding the encoded metadata, then blob layers
// packed by date shard. The config labels map every shard to its content
// hash and layer so pulls can skip shards that already match locally.
package remote

import "context"

// Snapshot is the portable form of a store.
type Snapshot struct {
	Metadata []byte
	Blobs    map[string][]byte // relative blob path → content
}

// Remote handles OCI registry operations.
type Remote interface {
	// Push uploads a snapshot to the registry.
	Push(ctx context.Context, snap Snapshot) error

	// Pull downloads a snapshot, skipping shards whose hash matches local.
	Pull(ctx context.Context, local map[string]string) (Snapshot, error)
}
