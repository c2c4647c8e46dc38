// Package txstore implements TxStore, the per-key transactional isolation layer
// described in spec.md §4.4, grounded on the teacher's transaction.go
// (SinglePhaseTransaction: Begin/Commit/Rollback plus an OnCommit callback list) but
// collapsed from two-phase to single-phase commit, since this module's Non-goals rule
// out cross-backend atomic commit — there is exactly one owned CachedStore to flush.
package txstore

import (
	"context"
	"sync"

	store "github.com/sharedcode/objectstore"
	"github.com/sharedcode/objectstore/cachestore"
	"github.com/sharedcode/objectstore/lock"
)

// Transaction is a single unit of isolated work against a TxStore. Its zero value is
// not usable; obtain one from TxStore.Begin.
//
// State diagram: ACTIVE -> COMMITTING -> EXPIRED, ACTIVE -> ABORTING -> EXPIRED.
// EXPIRED is terminal: any further call fails with store.ErrTransactionExpired.
type Transaction struct {
	mu        sync.Mutex
	manager   *lock.Manager
	cache     *cachestore.CachedStore
	txLocks   *lock.TxLocks
	expired   bool
	onCommit  []func(ctx context.Context) error
	commitCnc int // concurrency for the flush fan-out; 0 means unbounded
}

func newTransaction(manager *lock.Manager, cache *cachestore.CachedStore, commitConcurrency int) *Transaction {
	return &Transaction{
		manager:   manager,
		cache:     cache,
		txLocks:   lock.NewTxLocks(),
		commitCnc: commitConcurrency,
	}
}

func (t *Transaction) checkActive() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.expired {
		return store.ErrTransactionExpired()
	}
	return nil
}

// OnCommit registers a callback run after a successful Commit, in registration order.
// A callback error fails Commit but does not undo the already-flushed backend writes;
// per spec.md this module has no write-ahead log, so commit-time durability of the
// flush itself is unconditional once begun.
func (t *Transaction) OnCommit(callback func(ctx context.Context) error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onCommit = append(t.onCommit, callback)
}

// Get implements store.BlobStore: negotiate_read(key), then delegate to the cache.
func (t *Transaction) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	if err := t.checkActive(); err != nil {
		return store.Blob{}, false, err
	}
	if _, err := t.manager.NegotiateRead(t.txLocks, key); err != nil {
		return store.Blob{}, false, err
	}
	return t.cache.Get(ctx, key, encrypted)
}

// Put implements store.BlobStore: negotiate_write(key) and negotiate_list_write
// (conservative, since a put may create a new key), then delegate to the cache.
func (t *Transaction) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if _, err := t.manager.NegotiateWrite(t.txLocks, key); err != nil {
		return err
	}
	if _, err := t.manager.NegotiateListWrite(t.txLocks); err != nil {
		return err
	}
	return t.cache.Put(ctx, key, value, encrypted)
}

// Delete implements store.BlobStore: negotiate_write(key), negotiate_list_write, then
// delegate to the cache.
func (t *Transaction) Delete(ctx context.Context, key store.Key) error {
	if err := t.checkActive(); err != nil {
		return err
	}
	if _, err := t.manager.NegotiateWrite(t.txLocks, key); err != nil {
		return err
	}
	if _, err := t.manager.NegotiateListWrite(t.txLocks); err != nil {
		return err
	}
	return t.cache.Delete(ctx, key)
}

// List implements store.BlobStore: negotiate_list_read, then delegate to the cache.
func (t *Transaction) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	if err := t.checkActive(); err != nil {
		return nil, err
	}
	if _, err := t.manager.NegotiateListRead(t.txLocks); err != nil {
		return nil, err
	}
	return t.cache.List(ctx, opts)
}

// Url implements store.BlobStore: negotiate_read(key), then delegate to the cache.
func (t *Transaction) Url(ctx context.Context, key store.Key) (string, bool, error) {
	if err := t.checkActive(); err != nil {
		return "", false, err
	}
	if _, err := t.manager.NegotiateRead(t.txLocks, key); err != nil {
		return "", false, err
	}
	return t.cache.Url(ctx, key)
}

// Commit flushes every key this transaction holds a Write lock for, releases every
// lock the transaction holds, runs any OnCommit callbacks, and marks the transaction
// EXPIRED. Per-key flushes run concurrently, bounded by commitConcurrency.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	writeKeys := make([]store.Key, 0, len(t.txLocks.PerKey))
	for k, l := range t.txLocks.PerKey {
		if l.Level == store.Write {
			writeKeys = append(writeKeys, k)
		}
	}

	runner := store.NewTaskRunner(ctx, t.commitCnc)
	for _, k := range writeKeys {
		k := k
		runner.Go(func() error {
			return t.cache.Flush(runner.Context(), &k)
		})
	}
	flushErr := runner.Wait()

	t.manager.ReleaseAll(t.txLocks)

	t.mu.Lock()
	t.expired = true
	callbacks := t.onCommit
	t.mu.Unlock()

	if flushErr != nil {
		return flushErr
	}
	for _, cb := range callbacks {
		if err := cb(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Abort restores every key this transaction holds a Write lock for to its
// pre-transaction cache state (no backend mutation ever happened), releases every
// lock, and marks the transaction EXPIRED.
func (t *Transaction) Abort(ctx context.Context) error {
	if err := t.checkActive(); err != nil {
		return err
	}

	for k, l := range t.txLocks.PerKey {
		if l.Level == store.Write {
			k := k
			t.cache.Abort(&k)
		}
	}

	t.manager.ReleaseAll(t.txLocks)

	t.mu.Lock()
	t.expired = true
	t.mu.Unlock()
	return nil
}
