package domain

import (
	"context"
	"io"
	"time"
)

// ObjectWriter stores receipt archives. PutMultipart streams bodies too big
// for a single request in parts of partSize bytes.
type ObjectWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// ObjectReader fetches a stored archive. A missing path is ErrNotFound.
type ObjectReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Archiver moves settled receipts older than before into cold storage and
// returns how many rows left the database.
type Archiver interface {
	ArchiveReceipts(ctx context.Context, before time.Time) (int64, error)
}
