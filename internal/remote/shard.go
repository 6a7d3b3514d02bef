package remote

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"path"
	"sort"
)

const (
	LayerMinSize = 2 * 1024 * 1024  // 2MB minimum before combining
	LayerSoftMax = 10 * 1024 * 1024 // 10MB soft maximum

	maxPathLen = 1<<16 - 1
)

// ShardInfo records where a shard's blobs live in the pushed image.
type ShardInfo struct {
	Hash  string `json:"hash"`
	Layer string `json:"layer"`
}

// ShardOf returns the date shard ("2026/10/19") a blob path belongs to.
func ShardOf(rel string) string {
	return path.Dir(rel)
}

// GroupByShard splits blobs by their date shard.
func GroupByShard(blobs map[string][]byte) map[string]map[string][]byte {
	result := make(map[string]map[string][]byte)
	for rel, data := range blobs {
		shard := ShardOf(rel)
		if result[shard] == nil {
			result[shard] = make(map[string][]byte)
		}
		result[shard][rel] = data
	}
	return result
}

// ShardHash identifies a shard's content by its sorted blob paths and sizes.
// Blob names embed the content digest, so names and sizes are enough.
func ShardHash(sizes map[string]int64) string {
	if len(sizes) == 0 {
		return ""
	}

	paths := make([]string, 0, len(sizes))
	for p := range sizes {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		h.Write([]byte(p))
		_ = binary.Write(h, binary.BigEndian, sizes[p])
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil))
}

func blobSizes(blobs map[string][]byte) map[string]int64 {
	sizes := make(map[string]int64, len(blobs))
	for p, data := range blobs {
		sizes[p] = int64(len(data))
	}
	return sizes
}

func shardSize(blobs map[string][]byte) int64 {
	var total int64
	for _, data := range blobs {
		total += int64(len(data))
	}
	return total
}

// PackLayer packs blobs into binary format: [pathLen 2B][path][length 8B][data]...
func PackLayer(blobs map[string][]byte) ([]byte, error) {
	paths := make([]string, 0, len(blobs))
	for p := range blobs {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var buf bytes.Buffer
	var lenBuf [8]byte

	for _, p := range paths {
		if len(p) > maxPathLen {
			return nil, fmt.Errorf("path too long: %d bytes", len(p))
		}
		binary.BigEndian.PutUint16(lenBuf[:2], uint16(len(p)))
		buf.Write(lenBuf[:2])
		buf.WriteString(p)

		data := blobs[p]
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		buf.Write(lenBuf[:])
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

func UnpackLayer(data []byte) (map[string][]byte, error) {
	result := make(map[string][]byte)
	r := bytes.NewReader(data)

	for r.Len() > 0 {
		var pathLen uint16
		if err := binary.Read(r, binary.BigEndian, &pathLen); err != nil {
			return nil, fmt.Errorf("read path length: %w", err)
		}
		pathBuf := make([]byte, pathLen)
		if _, err := io.ReadFull(r, pathBuf); err != nil {
			return nil, fmt.Errorf("read path: %w", err)
		}

		var length uint64
		if err := binary.Read(r, binary.BigEndian, &length); err != nil {
			return nil, fmt.Errorf("read length: %w", err)
		}
		if length > uint64(r.Len()) {
			return nil, fmt.Errorf("blob %s: length %d exceeds layer", pathBuf, length)
		}
		blobData := make([]byte, length)
		if _, err := io.ReadFull(r, blobData); err != nil {
			return nil, fmt.Errorf("read data: %w", err)
		}

		result[string(pathBuf)] = blobData
	}

	return result, nil
}

// BuildLayerPlan groups shards into layers of roughly LayerSoftMax bytes.
func BuildLayerPlan(shardSizes map[string]int64) [][]string {
	shards := make([]string, 0, len(shardSizes))
	for s := range shardSizes {
		shards = append(shards, s)
	}
	sort.Strings(shards)

	var layers [][]string
	var current []string
	var size int64

	for _, shard := range shards {
		ss := shardSizes[shard]

		if len(current) == 0 {
			current = append(current, shard)
			size = ss
			continue
		}

		newSize := size + ss
		if newSize <= LayerSoftMax {
			current = append(current, shard)
			size = newSize
		} else if size < LayerMinSize && newSize <= 2*LayerSoftMax {
			current = append(current, shard)
			size = newSize
		} else {
			layers = append(layers, current)
			current = []string{shard}
			size = ss
		}
	}

	if len(current) > 0 {
		layers = append(layers, current)
	}

	return layers
}

func collectShards(shards []string, byShard map[string]map[string][]byte) map[string][]byte {
	result := make(map[string][]byte)
	for _, shard := range shards {
		for rel, data := range byShard[shard] {
			result[rel] = data
		}
	}
	return result
}

// ShardHashes computes ShardHash for every shard present in sizes (path → size).
func ShardHashes(sizes map[string]int64) map[string]string {
	byShard := make(map[string]map[string]int64)
	for rel, size := range sizes {
		shard := ShardOf(rel)
		if byShard[shard] == nil {
			byShard[shard] = make(map[string]int64)
		}
		byShard[shard][rel] = size
	}
	result := make(map[string]string, len(byShard))
	for shard, s := range byShard {
		result[shard] = ShardHash(s)
	}
	return result
}
