// Package backend defines the uniform storage-backend capability set of
// spec.md §4.1: a key/blob interface implementable over a local
// filesystem, an S3-compatible object store, or a remote HTTP peer.
package backend

import "context"

// Location names a logical resource class (names, documents, contracts,
// messages, statics). Each backend implementation maps a Location to its
// own notion of a root: a subdirectory, a bucket, or a path prefix.
type Location string

const (
	Names     Location = "names"
	Documents Location = "documents"
	Contracts Location = "contracts"
	Messages  Location = "messages"
	Statics   Location = "statics"
)

// Backend is the capability set every storage implementation provides.
// Not-found is never an error (see Read); transport/filesystem failures
// surface as repoerr.Backend-kind errors.
type Backend interface {
	// Exists reports whether key is present under location.
	Exists(ctx context.Context, location Location, key string) (bool, error)

	// Read returns the bytes stored at key, or (nil, false, nil) if absent.
	Read(ctx context.Context, location Location, key string) (data []byte, present bool, err error)

	// Write stores data at key. If immutable is true and key already
	// exists, the write fails with a repoerr.AlreadyExists error and the
	// existing value is left untouched.
	Write(ctx context.Context, location Location, key string, data []byte, immutable bool) error

	// Delete removes key, reporting whether it existed beforehand.
	Delete(ctx context.Context, location Location, key string) (existed bool, err error)

	// List returns the keys under prefix. Ordering is not guaranteed, and
	// for object-store-backed implementations the result may lag recent
	// writes (eventual consistency).
	List(ctx context.Context, location Location, prefix string) ([]string, error)

	// Move attempts to relocate the value at srcKey to dstKey. At most one
	// concurrent caller observes moved=true for a given srcKey; this is
	// the primitive the bag engine's receive/reject state machine relies
	// on instead of a cross-key transaction.
	Move(ctx context.Context, location Location, srcKey, dstKey string) (moved bool, err error)
}
