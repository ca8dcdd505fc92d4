// Package provider implements the §6 storage provider interface: the
// pluggable key-value abstraction the chunk engine and cache read and
// write through. Keys are POSIX-style paths; values are opaque bytes.
// Only the in-process (memory) and local filesystem implementations are
// built here - S3/GCS/OCI are named in spec.md's Non-goals.
package provider

import (
	"context"
	"errors"
	"fmt"
)

// NotFoundError is returned by Get when key does not exist
// (spec §6 "get(key) -> bytes | KeyError").
type NotFoundError struct {
	Key string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("provider: key %q not found", e.Key)
}

// IsNotFoundError reports whether err is (or wraps) a NotFoundError.
func IsNotFoundError(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// ReadonlyError is returned by every mutating call once a provider has
// been put into read-only mode.
type ReadonlyError struct{}

func (e *ReadonlyError) Error() string {
	return "provider: storage is read-only"
}

// Provider is the storage abstraction consumed by the chunk engine and
// cache (spec §6 "Storage provider interface").
type Provider interface {
	// Get returns the bytes stored at key, or a *NotFoundError if key
	// does not exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores data at key, replacing any existing value.
	Set(ctx context.Context, key string, data []byte) error

	// Delete removes key. It is not an error to delete a missing key.
	Delete(ctx context.Context, key string) error

	// Contains reports whether key exists.
	Contains(ctx context.Context, key string) (bool, error)

	// IterKeys calls fn once for every key with the given prefix, in
	// unspecified order. Iteration stops at the first error fn returns.
	IterKeys(ctx context.Context, prefix string, fn func(key string) error) error

	// Clear removes every key with the given prefix.
	Clear(ctx context.Context, prefix string) error

	// CheckReadonly returns a *ReadonlyError if this provider is
	// currently read-only, nil otherwise.
	CheckReadonly() error
}
