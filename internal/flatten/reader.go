package flatten

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
)

// Reader loads the index and individual chunks back from a BlobStore.
type Reader struct {
	store  crawler.BlobStore
	hasher crawler.Hasher
	name   string
}

// NewReader returns a Reader for the flattened set called name. When hasher
// is non-nil, chunk digests are checked against the index.
func NewReader(store crawler.BlobStore, hasher crawler.Hasher, name string) *Reader {
	return &Reader{store: store, hasher: hasher, name: name}
}

// ReadIndex loads the metadata object.
func (r *Reader) ReadIndex(ctx context.Context) (Index, error) {
	data, err := r.fetch(ctx, IndexObject(r.name))
	if err != nil {
		return Index{}, fmt.Errorf("read index: %w", err)
	}
	var idx Index
	if err := decompressJSON(data, &idx); err != nil {
		return Index{}, fmt.Errorf("decode index: %w", err)
	}
	return idx, nil
}

// ReadChunk loads and decodes one chunk.
func (r *Reader) ReadChunk(ctx context.Context, info ChunkInfo) (Chunk, error) {
	data, err := r.fetch(ctx, info.Object)
	if err != nil {
		return Chunk{}, fmt.Errorf("read chunk %d: %w", info.Sequence, err)
	}
	if r.hasher != nil && info.SHA256 != "" {
		sum, err := r.hasher.Hash(data)
		if err != nil {
			return Chunk{}, fmt.Errorf("hash chunk %d: %w", info.Sequence, err)
		}
		if sum != info.SHA256 {
			return Chunk{}, fmt.Errorf("chunk %d digest mismatch: index %s, object %s", info.Sequence, info.SHA256, sum)
		}
	}
	var chunk Chunk
	if err := decompressJSON(data, &chunk); err != nil {
		return Chunk{}, fmt.Errorf("decode chunk %d: %w", info.Sequence, err)
	}
	return chunk, nil
}

// Record returns the record at a logical offset, decompressing only the
// chunk that holds it.
func (r *Reader) Record(ctx context.Context, idx Index, offset int) (Record, error) {
	info, pos, err := idx.Locate(offset)
	if err != nil {
		return Record{}, err
	}
	chunk, err := r.ReadChunk(ctx, info)
	if err != nil {
		return Record{}, err
	}
	if pos >= len(chunk.Items) {
		return Record{}, fmt.Errorf("chunk %d holds %d records, want position %d", info.Sequence, len(chunk.Items), pos)
	}
	return chunk.Items[pos], nil
}

func (r *Reader) fetch(ctx context.Context, object string) ([]byte, error) {
	rc, err := r.store.GetObject(ctx, object)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", object, err)
	}
	return data, nil
}

func decompressJSON(data []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return err
	}
	defer func() { _ = zr.Close() }()
	return json.NewDecoder(zr).Decode(v)
}
