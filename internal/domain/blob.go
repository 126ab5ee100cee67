package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// SettledMarket is a terminal market together with all of its positions.
type SettledMarket struct {
	Market    Market     `json:"market"`
	Positions []Position `json:"positions"`
}

// Archiver exports settled markets to cold storage and returns the number of
// markets written.
type Archiver interface {
	ArchiveSettled(ctx context.Context, batch []SettledMarket) (int64, error)
}
