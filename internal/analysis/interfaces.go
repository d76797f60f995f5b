package analysis

import (
	"context"
	"time"
)

// Fetcher retrieves a URL and returns captured content plus timing.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// ResultStore persists a completed batch.
type ResultStore interface {
	SaveBatch(ctx context.Context, batch BatchResult) error
}

// BlobStore writes raw artifacts (screenshots) and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes batch completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces batch job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests for blob naming and integrity.
type Hasher interface {
	Hash(data []byte) (string, error)
}
