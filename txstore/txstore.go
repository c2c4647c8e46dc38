package txstore

import (
	"context"

	store "github.com/sharedcode/objectstore"
	"github.com/sharedcode/objectstore/cachestore"
	"github.com/sharedcode/objectstore/lock"
)

// Options configures a TxStore.
type Options struct {
	// CommitConcurrency bounds how many keys a single transaction flushes to the
	// backend concurrently on Commit. <= 0 means unbounded.
	CommitConcurrency int
	// CacheFileURLs is forwarded to the owned CachedStore's Url caching.
	CacheFileURLs bool
}

// TxStore wraps a backend BlobStore with per-key transactional isolation: an owned
// CachedStore in deferred mode (spec.md §4.4) and a lock.Manager that every
// Transaction negotiates against. It implements store.BlobStore directly by wrapping
// each call in a single-shot transaction (begin, one operation, commit-or-abort), and
// additionally exposes Begin and Transact for explicit multi-operation transactions.
type TxStore struct {
	manager *lock.Manager
	cache   *cachestore.CachedStore
	opts    Options
}

// New wraps backend with transactional isolation.
func New(backend store.BlobStore, opts Options) *TxStore {
	cache := cachestore.New(backend, cachestore.Options{
		AutoFlushing:  false,
		CacheFileURLs: opts.CacheFileURLs,
	})
	return &TxStore{
		manager: lock.NewManager(),
		cache:   cache,
		opts:    opts,
	}
}

// Begin allocates a fresh, ACTIVE Transaction with no locks held.
func (s *TxStore) Begin() *Transaction {
	return newTransaction(s.manager, s.cache, s.opts.CommitConcurrency)
}

// Transact runs body against a fresh transaction: begins, invokes body, commits on
// success, and aborts (re-raising body's error) if body fails.
func (s *TxStore) Transact(ctx context.Context, body func(ctx context.Context, tx *Transaction) error) error {
	tx := s.Begin()
	if err := body(ctx, tx); err != nil {
		if abortErr := tx.Abort(ctx); abortErr != nil {
			return abortErr
		}
		return err
	}
	return tx.Commit(ctx)
}

// oneShot runs op against a fresh single-operation transaction: begin, op, commit on
// success or abort on failure. This is what makes TxStore itself a store.BlobStore.
func (s *TxStore) oneShot(ctx context.Context, op func(tx *Transaction) error) error {
	tx := s.Begin()
	if err := op(tx); err != nil {
		tx.Abort(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Get implements store.BlobStore via a single-shot transaction.
func (s *TxStore) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	var blob store.Blob
	var ok bool
	err := s.oneShot(ctx, func(tx *Transaction) error {
		var err error
		blob, ok, err = tx.Get(ctx, key, encrypted)
		return err
	})
	return blob, ok, err
}

// Put implements store.BlobStore via a single-shot transaction.
func (s *TxStore) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	return s.oneShot(ctx, func(tx *Transaction) error {
		return tx.Put(ctx, key, value, encrypted)
	})
}

// Delete implements store.BlobStore via a single-shot transaction.
func (s *TxStore) Delete(ctx context.Context, key store.Key) error {
	return s.oneShot(ctx, func(tx *Transaction) error {
		return tx.Delete(ctx, key)
	})
}

// List implements store.BlobStore via a single-shot transaction. Since List never
// takes a Write lock, its "commit" is a no-op flush plus lock release.
func (s *TxStore) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	var keys []store.Key
	err := s.oneShot(ctx, func(tx *Transaction) error {
		var err error
		keys, err = tx.List(ctx, opts)
		return err
	})
	return keys, err
}

// Url implements store.BlobStore via a single-shot transaction.
func (s *TxStore) Url(ctx context.Context, key store.Key) (string, bool, error) {
	var url string
	var ok bool
	err := s.oneShot(ctx, func(tx *Transaction) error {
		var err error
		url, ok, err = tx.Url(ctx, key)
		return err
	})
	return url, ok, err
}
