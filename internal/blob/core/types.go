// Package core defines the blob storage abstraction the commit log archive
// writes through. Backends live under internal/infra/blob.
package core

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/zeebo/errs"
)

// Driver identifies a concrete blob storage backend implementation.
type Driver string

const (
	DriverFilesystem Driver = "fs"     // local filesystem (default, dev)
	DriverS3         Driver = "s3"     // S3 / MinIO compatible
	DriverMemory     Driver = "memory" // in-memory (tests)
)

// PutOptions specifies optional parameters for Put.
type PutOptions struct {
	ContentType string            // MIME type, optional
	Metadata    map[string]string // User metadata (small, flat key-value)
}

// Info describes a stored blob.
type Info struct {
	Key          string            `json:"key"`
	Size         int64             `json:"size_bytes"`
	ContentType  string            `json:"content_type,omitempty"`
	ETag         string            `json:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	LastModified time.Time         `json:"last_modified"`
}

// Store is a create-only key/value blob store.
type Store interface {
	// Put writes a new blob. Writing an existing key fails with ErrExists.
	Put(ctx context.Context, key string, r io.Reader, opts PutOptions) (Info, error)
	Get(ctx context.Context, key string) (Info, io.ReadCloser, error)
	Head(ctx context.Context, key string) (Info, error)
	// Delete reports whether the blob existed.
	Delete(ctx context.Context, key string) (bool, error)
	// List returns the blobs whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]Info, error)
	Driver() Driver
}

// Error is the error class of blob backends.
var Error = errs.Class("blob")

var (
	// ErrNotFound is returned for a missing key.
	ErrNotFound = errors.New("blob not found")
	// ErrExists is returned by Put when the key is taken.
	ErrExists = errors.New("blob already exists")
)

// NotFound wraps ErrNotFound with the key.
func NotFound(key string) error { return Error.Wrap(&keyError{key: key, err: ErrNotFound}) }

// Exists wraps ErrExists with the key.
func Exists(key string) error { return Error.Wrap(&keyError{key: key, err: ErrExists}) }

type keyError struct {
	key string
	err error
}

func (e *keyError) Error() string { return e.err.Error() + ": " + e.key }
func (e *keyError) Unwrap() error { return e.err }
