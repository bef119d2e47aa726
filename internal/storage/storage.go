package storage

import (
	"context"
	"io"
	"time"
)

// FileInfo describes a staged file
type FileInfo struct {
	Key        string    `json:"key"`
	Path       string    `json:"path"`
	Size       int64     `json:"size"`
	Checksum   string    `json:"checksum"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// Staging holds uploaded files until their task no longer needs them.
// Implementations expose a local path because decoders read from disk.
type Staging interface {
	// Put streams r into key, replacing any existing file
	Put(ctx context.Context, key string, r io.Reader) (*FileInfo, error)
	// Path returns the local path of key
	Path(key string) string
	// Stat returns information about key
	Stat(ctx context.Context, key string) (*FileInfo, error)
	// Delete removes key; deleting a missing key is not an error
	Delete(ctx context.Context, key string) error
	// List returns every staged key
	List(ctx context.Context) ([]string, error)
}
