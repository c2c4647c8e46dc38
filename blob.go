package objectstore

import "context"

// Key is the opaque, path-like logical address of a Blob. The only operation the core
// requires is equality; ordering is not required.
type Key = string

// Blob is an opaque string payload plus an encrypted flag. The encrypted flag is carried
// verbatim to and from the backend; no layer in this module inspects it except to pass it
// back on retrieval.
type Blob struct {
	Value     string
	Encrypted bool
}

// ListOptions constrain a List call.
type ListOptions struct {
	// Prefix filters returned keys by key-starts-with. Empty matches everything.
	Prefix string
	// EarlyStop, when non-nil, is evaluated over the filtered list in order; iteration
	// stops the first time it returns false. This is early-terminate, not filter: the
	// returned sequence contains only names visited before (and not including) the
	// first name for which EarlyStop returned false.
	EarlyStop func(name string) bool
}

// BlobStore is the uniform contract every layer in this module implements and wraps.
// Absent blobs are not errors: Get and Url return ok=false rather than an error.
type BlobStore interface {
	// Get fetches the blob at key. ok is false when the key is absent.
	Get(ctx context.Context, key Key, encrypted bool) (blob Blob, ok bool, err error)
	// Put creates or overwrites the blob at key.
	Put(ctx context.Context, key Key, value string, encrypted bool) error
	// Delete removes the blob at key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key Key) error
	// List returns keys matching opts, in backend iteration order.
	List(ctx context.Context, opts ListOptions) ([]Key, error)
	// Url returns a direct-access URL for key, when the layer can produce one.
	Url(ctx context.Context, key Key) (url string, ok bool, err error)
}
