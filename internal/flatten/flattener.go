package flatten

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/hood-archiver/internal/crawler"
	"github.com/JakeFAU/hood-archiver/internal/metrics"
)

const gzipContentType = "application/gzip"

// Config controls chunk size and object naming.
type Config struct {
	Name      string
	ChunkSize int
	// Topic receives a completion event when a publisher is attached.
	Topic string
}

// Event is published after a successful flatten pass.
type Event struct {
	Name         string `json:"name"`
	IndexObject  string `json:"index_object"`
	IndexURI     string `json:"index_uri"`
	TotalRecords int    `json:"total_records"`
	ChunkCount   int    `json:"chunk_count"`
	GeneratedAt  string `json:"generated_at"`
}

// Flattener writes chunk objects and the index through a BlobStore.
type Flattener struct {
	cfg       Config
	store     crawler.BlobStore
	hasher    crawler.Hasher
	clock     crawler.Clock
	publisher crawler.Publisher
	logger    *zap.Logger
}

// New builds a Flattener. publisher may be nil.
func New(
	cfg Config,
	store crawler.BlobStore,
	hasher crawler.Hasher,
	clock crawler.Clock,
	publisher crawler.Publisher,
	logger *zap.Logger,
) (*Flattener, error) {
	if cfg.ChunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be > 0, got %d", cfg.ChunkSize)
	}
	if cfg.Name == "" {
		return nil, fmt.Errorf("name is required")
	}
	if store == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Flattener{
		cfg:       cfg,
		store:     store,
		hasher:    hasher,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
	}, nil
}

// Flatten concatenates docs, writes every chunk and then the index. The
// index is written last, so it only ever references chunks that exist.
func (f *Flattener) Flatten(ctx context.Context, docs []crawler.Collection) (Index, error) {
	records := Records(docs)
	bounds := Bounds(len(records), f.cfg.ChunkSize)

	idx := Index{
		Name:         f.cfg.Name,
		TotalRecords: len(records),
		ChunkCount:   len(bounds),
		ChunkSize:    f.cfg.ChunkSize,
		TotalHoods:   len(docs),
		Hoods:        hoodNames(docs),
		GeneratedAt:  f.clock.Now().UTC().Format(time.RFC3339),
		Chunks:       make([]ChunkInfo, 0, len(bounds)),
	}

	for seq, b := range bounds {
		if err := ctx.Err(); err != nil {
			return Index{}, err
		}
		chunk := Chunk{
			Sequence:    seq,
			StartOffset: b[0],
			RecordCount: b[1] - b[0],
			Items:       records[b[0]:b[1]],
		}
		info, err := f.writeChunk(ctx, chunk)
		if err != nil {
			return Index{}, err
		}
		idx.Chunks = append(idx.Chunks, info)
		f.logger.Debug("chunk written",
			zap.Int("sequence", seq),
			zap.Int("records", info.RecordCount),
			zap.String("object", info.Object),
		)
	}

	data, err := compressJSON(idx)
	if err != nil {
		return Index{}, fmt.Errorf("encode index: %w", err)
	}
	indexObject := IndexObject(f.cfg.Name)
	uri, err := f.store.PutObject(ctx, indexObject, gzipContentType, bytes.NewReader(data))
	if err != nil {
		return Index{}, fmt.Errorf("write index: %w", err)
	}
	metrics.ObserveFlatten(idx.TotalRecords, idx.ChunkCount)
	f.logger.Info("flatten complete",
		zap.Int("records", idx.TotalRecords),
		zap.Int("chunks", idx.ChunkCount),
		zap.Int("hoods", idx.TotalHoods),
		zap.String("index", uri),
	)

	f.notify(ctx, Event{
		Name:         idx.Name,
		IndexObject:  indexObject,
		IndexURI:     uri,
		TotalRecords: idx.TotalRecords,
		ChunkCount:   idx.ChunkCount,
		GeneratedAt:  idx.GeneratedAt,
	})
	return idx, nil
}

func (f *Flattener) writeChunk(ctx context.Context, chunk Chunk) (ChunkInfo, error) {
	data, err := compressJSON(chunk)
	if err != nil {
		return ChunkInfo{}, fmt.Errorf("encode chunk %d: %w", chunk.Sequence, err)
	}
	info := ChunkInfo{
		Sequence:    chunk.Sequence,
		StartOffset: chunk.StartOffset,
		RecordCount: chunk.RecordCount,
		Object:      ChunkObject(f.cfg.Name, chunk.Sequence),
	}
	if f.hasher != nil {
		sum, err := f.hasher.Hash(data)
		if err != nil {
			return ChunkInfo{}, fmt.Errorf("hash chunk %d: %w", chunk.Sequence, err)
		}
		info.SHA256 = sum
	}
	if _, err := f.store.PutObject(ctx, info.Object, gzipContentType, bytes.NewReader(data)); err != nil {
		return ChunkInfo{}, fmt.Errorf("write chunk %d: %w", chunk.Sequence, err)
	}
	return info, nil
}

// notify publishes the completion event. Failures are logged only; the
// chunks and index are already durable.
func (f *Flattener) notify(ctx context.Context, event Event) {
	if f.publisher == nil {
		return
	}
	id, err := f.publisher.Publish(ctx, f.cfg.Topic, event)
	if err != nil {
		f.logger.Warn("failed to publish flatten event", zap.Error(err))
		return
	}
	f.logger.Info("flatten event published", zap.String("message_id", id))
}

// compressJSON gzips the JSON encoding of v with a zeroed header, so equal
// input always yields equal bytes.
func compressJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		_ = zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func hoodNames(docs []crawler.Collection) []string {
	names := make([]string, 0, len(docs))
	for _, doc := range docs {
		names = append(names, doc.Name)
	}
	sort.Strings(names)
	return names
}
