package flatten

import (
	"errors"
	"fmt"
	"sort"
)

// ErrOffsetOutOfRange is returned by Locate for offsets outside the index.
var ErrOffsetOutOfRange = errors.New("offset out of range")

// Chunk is the JSON body of one chunk object.
type Chunk struct {
	Sequence    int      `json:"sequence"`
	StartOffset int      `json:"start_offset"`
	RecordCount int      `json:"record_count"`
	Items       []Record `json:"items"`
}

// ChunkInfo describes one chunk in the index.
type ChunkInfo struct {
	Sequence    int    `json:"sequence"`
	StartOffset int    `json:"start_offset"`
	RecordCount int    `json:"record_count"`
	Object      string `json:"object"`
	SHA256      string `json:"sha256"`
}

// Index is the metadata object written after all chunks.
type Index struct {
	Name         string      `json:"name"`
	TotalRecords int         `json:"total_records"`
	ChunkCount   int         `json:"chunk_count"`
	ChunkSize    int         `json:"chunk_size"`
	TotalHoods   int         `json:"total_hoods"`
	Hoods        []string    `json:"hoods"`
	GeneratedAt  string      `json:"generated_at"`
	Chunks       []ChunkInfo `json:"chunks"`
}

// Locate returns the chunk holding the record at offset and the record's
// position within that chunk.
func (idx Index) Locate(offset int) (ChunkInfo, int, error) {
	if offset < 0 || offset >= idx.TotalRecords {
		return ChunkInfo{}, 0, fmt.Errorf("%w: %d not in [0, %d)", ErrOffsetOutOfRange, offset, idx.TotalRecords)
	}
	i := sort.Search(len(idx.Chunks), func(i int) bool {
		c := idx.Chunks[i]
		return c.StartOffset+c.RecordCount > offset
	})
	if i == len(idx.Chunks) || idx.Chunks[i].StartOffset > offset {
		return ChunkInfo{}, 0, fmt.Errorf("%w: no chunk covers %d", ErrOffsetOutOfRange, offset)
	}
	return idx.Chunks[i], offset - idx.Chunks[i].StartOffset, nil
}

// ChunkObject names the object for chunk seq.
func ChunkObject(name string, seq int) string {
	return fmt.Sprintf("%s_chunk_%d.json.gz", name, seq)
}

// IndexObject names the metadata object.
func IndexObject(name string) string {
	return name + "_metadata.json.gz"
}
