// Package object defines the blob storage abstraction for wallpaper
// originals. Implementations live in subpackages (s3, memory).
package object

import (
	"context"
	"errors"
	"time"
)

// ErrObjectNotFound indicates the requested key does not exist.
var ErrObjectNotFound = errors.New("object not found")

// Info describes a stored object.
type Info struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ListPage is one page of a bucket listing.
type ListPage struct {
	Objects []Info

	// NextToken continues the listing; empty when the listing is complete.
	NextToken string
}

// Store is the blob adapter for wallpaper originals. Keys follow the
// "{id}/original.{ext}" scheme from the wallpaper package.
type Store interface {
	// Put writes an object. contentType is stored as object metadata.
	// The payload is fully buffered by the caller already (uploads are
	// hashed and sniffed before storage), so retries can re-send it.
	Put(ctx context.Context, key, contentType string, data []byte) error

	// Head returns object metadata. Returns ErrObjectNotFound when absent.
	Head(ctx context.Context, key string) (Info, error)

	// Get reads an object's bytes and stored content type. Returns
	// ErrObjectNotFound when absent. Wallpaper originals are bounded by the
	// upload size limit, so buffering the full body is fine.
	Get(ctx context.Context, key string) ([]byte, string, error)

	// Delete removes an object. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns one page of keys under prefix, resuming from token.
	List(ctx context.Context, prefix, token string, max int32) (ListPage, error)

	// Healthcheck verifies bucket access.
	Healthcheck(ctx context.Context) error
}
