// Package flatten concatenates crawled collection documents into a single
// record sequence, splits it into gzip chunks and writes an index that maps
// any logical offset to its chunk.
package flatten

import "github.com/JakeFAU/hood-archiver/internal/crawler"

// Source kinds.
const (
	SourceHood = "h"
	SourceBurb = "b"
)

// Source identifies where a record was listed.
type Source struct {
	T string `json:"t"`
	H string `json:"h"`
	B string `json:"b,omitempty"`
}

// Record is one flattened item.
type Record struct {
	Title        string  `json:"title"`
	URL          string  `json:"url"`
	LastModified *string `json:"last_modified,omitempty"`
	HasSound     bool    `json:"has_sound"`
	Source       Source  `json:"source"`
}

// Records concatenates items in a stable order: documents in the order
// given, and within each document the collection's own items followed by
// each sub-collection's items in document order.
func Records(docs []crawler.Collection) []Record {
	total := 0
	for _, doc := range docs {
		total += len(doc.Items)
		for _, sub := range doc.SubCollections {
			total += len(sub.Items)
		}
	}

	records := make([]Record, 0, total)
	for _, doc := range docs {
		for _, item := range doc.Items {
			records = append(records, newRecord(item, Source{T: SourceHood, H: doc.Name}))
		}
		for _, sub := range doc.SubCollections {
			for _, item := range sub.Items {
				records = append(records, newRecord(item, Source{T: SourceBurb, H: doc.Name, B: sub.Name}))
			}
		}
	}
	return records
}

func newRecord(item crawler.Item, src Source) Record {
	return Record{
		Title:        item.Title,
		URL:          item.URL,
		LastModified: item.LastModified,
		HasSound:     item.HasSound,
		Source:       src,
	}
}

// Bounds returns [start, end) offsets of each chunk for total records.
func Bounds(total, chunkSize int) [][2]int {
	if total <= 0 || chunkSize <= 0 {
		return nil
	}
	bounds := make([][2]int, 0, (total+chunkSize-1)/chunkSize)
	for start := 0; start < total; start += chunkSize {
		end := start + chunkSize
		if end > total {
			end = total
		}
		bounds = append(bounds, [2]int{start, end})
	}
	return bounds
}
