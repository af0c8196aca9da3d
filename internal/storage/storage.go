// Package storage defines the object store that audit archives are written to.
//
// Backends register themselves with the factory from an init() function in their own
// package and are pulled in with a blank import in cmd/server:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (storage.Storage, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Storage is implemented by every archive backend.
type Storage interface {
	// Upload stores an object and returns its path, size and SHA-256.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download opens an object for reading.
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error

	// GetURL returns a time-limited download URL. Cloud backends sign it for ttl.
	GetURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Exists reports whether an object is present.
	Exists(ctx context.Context, path string) (bool, error)
}

// UploadResult describes a stored object.
type UploadResult struct {
	Path     string
	Size     int64
	Checksum string
}
