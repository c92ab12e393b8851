package crawler

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// PageParser extracts item records and the pagination signal from raw page content.
type PageParser interface {
	Parse(content []byte, pageURL string) (ParsedPage, error)
}

// RateLimiter gates consecutive fetches.
type RateLimiter interface {
	Wait(ctx context.Context) error
}

// CheckpointStore durably tracks which units are complete.
type CheckpointStore interface {
	Load(ctx context.Context) error
	IsComplete(ctx context.Context, unit Unit) (bool, error)
	MarkComplete(ctx context.Context, unit Unit) error
}

// DocumentStore persists finished collection and staged sub-collection documents.
type DocumentStore interface {
	WriteCollection(ctx context.Context, doc Collection) error
	ReadCollection(ctx context.Context, name string) (Collection, error)
	WriteSubCollection(ctx context.Context, collection string, sub SubCollection) error
	ReadSubCollection(ctx context.Context, collection, sub string) (SubCollection, error)
}

// BlobStore writes and reads flattened artifacts.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
	GetObject(ctx context.Context, path string) (io.ReadCloser, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
