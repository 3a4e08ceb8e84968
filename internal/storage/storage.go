// Package storage provides the key/value hash store used by the registry,
// rate limiter, and session core. The capability is a small set of per-bucket
// hash operations; callers never depend on a concrete backend.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key does not exist in a bucket.
var ErrNotFound = errors.New("storage: key not found")

// ErrBackendTransient signals that the remote backend rejected a write but
// the in-process fallback accepted it. Callers treat this as success for
// availability while knowing durability is degraded.
var ErrBackendTransient = errors.New("storage: backend transient failure, fallback accepted write")

// Backend is the capability set every storage implementation provides.
// Buckets are opaque namespaces; values are opaque bytes.
type Backend interface {
	HSet(ctx context.Context, bucket, key string, value []byte) error
	HGet(ctx context.Context, bucket, key string) ([]byte, error)
	HKeys(ctx context.Context, bucket string) ([]string, error)
	HDel(ctx context.Context, bucket string, keys ...string) error
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Ping probes backend availability.
	Ping(ctx context.Context) error
	Close() error
}
