package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

const DefaultConcurrency = 4

const (
	labelMetadata = "dev.imgcas.metadata"
	labelShards   = "dev.imgcas.shards"
)

var ErrInvalidImage = errors.New("remote: image is not an imgcas backup")

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	concurrency int
	logger      zerolog.Logger
}

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "ghcr.io/acme/images-backup:nightly").
func NewOCIRemote(imageRef string, auth Authenticator) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	return &OCIRemote{ref: ref, auth: auth, concurrency: DefaultConcurrency, logger: zerolog.Nop()}, nil
}

// SetConcurrency sets the number of parallel operations for push/pull
func (r *OCIRemote) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIRemote) SetLogger(l zerolog.Logger) { r.logger = l }

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

// blobLayer implements v1.Layer with zstd compression for remote transfer
type blobLayer struct {
	compressed   []byte
	uncompressed []byte
}

var zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))

func newBlobLayer(data []byte) *blobLayer {
	return &blobLayer{
		compressed:   zstdEncoder.EncodeAll(data, nil),
		uncompressed: data,
	}
}

func (l *blobLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *blobLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *blobLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *blobLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *blobLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *blobLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push uploads the full snapshot as a new image at the remote's tag.
func (r *OCIRemote) Push(ctx context.Context, snap Snapshot) error {
	byShard := GroupByShard(snap.Blobs)
	sizes := make(map[string]int64, len(byShard))
	for shard, blobs := range byShard {
		sizes[shard] = shardSize(blobs)
	}
	plan := BuildLayerPlan(sizes)

	r.logger.Info().
		Int("blobs", len(snap.Blobs)).
		Int("shards", len(byShard)).
		Int("layers", len(plan)).
		Str("ref", r.String()).
		Msg("pushing backup")

	metaLayer := newBlobLayer(snap.Metadata)
	metaDigest, err := metaLayer.Digest()
	if err != nil {
		return fmt.Errorf("digest metadata layer: %w", err)
	}

	layers := []v1.Layer{metaLayer}
	shards := make(map[string]ShardInfo, len(byShard))
	for _, group := range plan {
		data, err := PackLayer(collectShards(group, byShard))
		if err != nil {
			return fmt.Errorf("pack layer: %w", err)
		}
		layer := newBlobLayer(data)
		digest, err := layer.Digest()
		if err != nil {
			return fmt.Errorf("digest layer: %w", err)
		}
		layers = append(layers, layer)
		for _, shard := range group {
			shards[shard] = ShardInfo{
				Hash:  ShardHash(blobSizes(byShard[shard])),
				Layer: digest.String(),
			}
		}
	}

	img, err := r.buildImage(layers, metaDigest.String(), shards)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}
	if err := r.pushImage(ctx, img); err != nil {
		return fmt.Errorf("push image: %w", err)
	}

	r.logger.Info().Str("ref", r.String()).Msg("backup pushed")
	return nil
}

func (r *OCIRemote) buildImage(layers []v1.Layer, metadataLayer string, shards map[string]ShardInfo) (v1.Image, error) {
	img, err := mutate.AppendLayers(empty.Image, layers...)
	if err != nil {
		return nil, err
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}

	shardJSON, err := json.Marshal(shards)
	if err != nil {
		return nil, err
	}

	cfg = cfg.DeepCopy()
	cfg.Config.Labels = map[string]string{
		labelMetadata: metadataLayer,
		labelShards:   string(shardJSON),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options := r.remoteOptions(ctx)
	options = append(options, remote.WithJobs(r.concurrency))
	_, err := retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull downloads the metadata layer plus every shard whose hash differs from
// local (shard → ShardHash). Shards that match are omitted from the result.
func (r *OCIRemote) Pull(ctx context.Context, local map[string]string) (Snapshot, error) {
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, r.remoteOptions(ctx)...)
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return Snapshot{}, fmt.Errorf("get config: %w", err)
	}

	metaLayer := cfg.Config.Labels[labelMetadata]
	if metaLayer == "" {
		return Snapshot{}, fmt.Errorf("%w: missing %s label", ErrInvalidImage, labelMetadata)
	}

	var shards map[string]ShardInfo
	if shardJSON := cfg.Config.Labels[labelShards]; shardJSON != "" {
		if err := json.Unmarshal([]byte(shardJSON), &shards); err != nil {
			return Snapshot{}, fmt.Errorf("parse shards: %w", err)
		}
	}

	needed := map[string]bool{metaLayer: true}
	for shard, info := range shards {
		if local[shard] != info.Hash {
			needed[info.Layer] = true
		}
	}

	layers, err := img.Layers()
	if err != nil {
		return Snapshot{}, fmt.Errorf("get layers: %w", err)
	}

	var neededLayers []v1.Layer
	for _, layer := range layers {
		digest, err := layer.Digest()
		if err != nil {
			continue
		}
		if needed[digest.String()] {
			neededLayers = append(neededLayers, layer)
		}
	}

	r.logger.Info().
		Int("layers", len(neededLayers)).
		Int("shards", len(shards)).
		Str("ref", r.String()).
		Msg("pulling backup")

	var mu sync.Mutex
	snap := Snapshot{Blobs: make(map[string][]byte)}

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range neededLayers {
		p.Go(func(ctx context.Context) error {
			digest, err := layer.Digest()
			if err != nil {
				return fmt.Errorf("layer digest: %w", err)
			}
			data, err := readLayer(layer)
			if err != nil {
				return err
			}

			if digest.String() == metaLayer {
				mu.Lock()
				snap.Metadata = data
				mu.Unlock()
				return nil
			}

			blobs, err := UnpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer %s: %w", digest, err)
			}

			mu.Lock()
			for rel, b := range blobs {
				if local[ShardOf(rel)] == shards[ShardOf(rel)].Hash {
					continue
				}
				snap.Blobs[rel] = b
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return Snapshot{}, err
	}
	if snap.Metadata == nil {
		return Snapshot{}, fmt.Errorf("%w: metadata layer %s not found", ErrInvalidImage, metaLayer)
	}

	r.logger.Info().Int("blobs", len(snap.Blobs)).Msg("backup pulled")
	return snap, nil
}

func readLayer(layer v1.Layer) ([]byte, error) {
	rc, err := layer.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}
	data, err := io.ReadAll(rc)
	if cerr := rc.Close(); cerr != nil && err == nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("read layer: %w", err)
	}
	return data, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) []remote.Option {
	options := []remote.Option{remote.WithContext(ctx)}
	if r.auth != nil {
		username, password, err := r.auth.Authenticate(r.Registry())
		if err == nil && username != "" {
			return append(options, remote.WithAuth(&authn.Basic{
				Username: username,
				Password: password,
			}))
		}
	}
	return append(options, remote.WithAuthFromKeychain(authn.DefaultKeychain))
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
