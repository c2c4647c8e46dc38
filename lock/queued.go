package lock

import (
	"context"
	"time"

	store "github.com/sharedcode/objectstore"
)

// ReadWriteLockBlobStore is the queued locking variant noted in spec.md §9: unlike the
// transaction layer, which is fail-fast, this stand-alone decorator retries a denied
// negotiation with jittered backoff until it succeeds, ctx is done, or maxWait has
// elapsed, so a caller that just wants "wait your turn" semantics over a single call
// doesn't need a transaction.
//
// It is expressed, as the design notes suggest, as a thin layer retrying on
// store.LockDenied with a shared Manager underneath — the same Manager and Lockable
// used by the fail-fast transaction layer, just driven with a retry loop instead of a
// single attempt.
type ReadWriteLockBlobStore struct {
	backend    store.BlobStore
	manager    *Manager
	maxRetries uint64
	maxWait    time.Duration
}

// NewReadWriteLockBlobStore wraps backend with queued per-key locking. maxRetries <= 0
// defaults to 20 attempts. maxWait bounds the overall retry loop by wall-clock time in
// addition to maxRetries and ctx (0 disables the extra bound), the same
// min(ctx-deadline, configured-max) pattern as sop.TimedOut.
func NewReadWriteLockBlobStore(backend store.BlobStore, maxRetries uint64, maxWait time.Duration) *ReadWriteLockBlobStore {
	if maxRetries == 0 {
		maxRetries = 20
	}
	return &ReadWriteLockBlobStore{backend: backend, manager: NewManager(), maxRetries: maxRetries, maxWait: maxWait}
}

func (r *ReadWriteLockBlobStore) withLock(ctx context.Context, key store.Key, level store.LockLevel, op func(ctx context.Context) error) error {
	return store.RetryOnLockDenied(ctx, r.maxRetries, r.maxWait, func(ctx context.Context) error {
		tx := NewTxLocks()
		var err error
		if level == store.Write {
			_, err = r.manager.NegotiateWrite(tx, key)
		} else {
			_, err = r.manager.NegotiateRead(tx, key)
		}
		if err != nil {
			return err
		}
		defer r.manager.ReleaseAll(tx)
		return op(ctx)
	})
}

// Get acquires a queued Read lock on key, reads through to the backend, and releases.
func (r *ReadWriteLockBlobStore) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	var blob store.Blob
	var ok bool
	err := r.withLock(ctx, key, store.Read, func(ctx context.Context) error {
		var err error
		blob, ok, err = r.backend.Get(ctx, key, encrypted)
		return err
	})
	return blob, ok, err
}

// Put acquires a queued Write lock on key, writes through to the backend, and releases.
// A concurrent Put on the same key from another caller queues behind this one (S6):
// it does not fail fast, it waits.
func (r *ReadWriteLockBlobStore) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	return r.withLock(ctx, key, store.Write, func(ctx context.Context) error {
		return r.backend.Put(ctx, key, value, encrypted)
	})
}

// Delete acquires a queued Write lock on key, deletes through to the backend, and releases.
func (r *ReadWriteLockBlobStore) Delete(ctx context.Context, key store.Key) error {
	return r.withLock(ctx, key, store.Write, func(ctx context.Context) error {
		return r.backend.Delete(ctx, key)
	})
}

// List delegates to the backend unlocked: per spec.md §9, the backend is assumed to
// sync its own listing, so this decorator does not serialize List against Put/Delete.
func (r *ReadWriteLockBlobStore) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	return r.backend.List(ctx, opts)
}

// Url acquires a queued Read lock on key and delegates to the backend.
func (r *ReadWriteLockBlobStore) Url(ctx context.Context, key store.Key) (string, bool, error) {
	var url string
	var ok bool
	err := r.withLock(ctx, key, store.Read, func(ctx context.Context) error {
		var err error
		url, ok, err = r.backend.Url(ctx, key)
		return err
	})
	return url, ok, err
}
