// Package objectstore defines the core contract, types, and shared helpers for a
// layered, composable blob store: a uniform get/put/delete/list/url interface that
// small decorators can wrap in any order to add one property at a time — in-memory
// caching with deferred write-back (subpackage cachestore), per-key transactional
// isolation (subpackage txstore, built on subpackage lock), and packed-storage
// layouts that multiplex many small blobs into a bounded number of physical blobs
// (subpackage packedstore).
//
// The terminal storage backends themselves, entry-point wiring, and encryption are
// out of scope here: this package treats the backend as an abstract BlobStore and
// treats the "encrypted" flag on a Blob as an opaque per-blob tag that round-trips
// faithfully without the core ever acting on it.
package objectstore

// Timeout model
//
// None of the decorators in this module block on their own: lock negotiation fails
// fast (LockError.Denied) rather than waiting. The only queued variant, the
// stand-alone ReadWriteLockBlobStore, bounds its retry loop three ways at once: the
// caller-supplied context.Context, a maxRetries count, and a maxWait wall-clock budget
// checked via TimedOut on every attempt — the same min(ctx-deadline, configured-max)
// pattern sop.TimedOut applies in the teacher's transaction commit loop. Denied
// attempts jitter with RandomSleep before retrying. Every other layer's callers that
// need bounded overall latency should set a context deadline before calling in.
