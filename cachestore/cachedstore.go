// Package cachestore implements CachedStore, the write-through or write-deferred
// caching decorator described in spec.md §4.3, grounded on the teacher's cache
// package (github.com/SharedCode/sop/cache): a hand-rolled in-process cache rather
// than a generic TTL library, because the state this cache must track — positive,
// negative, and listed-but-unread presence, plus an original-value snapshot for
// abort — isn't something a generic cache interface models.
package cachestore

import (
	"context"
	"strings"
	"sync"

	store "github.com/sharedcode/objectstore"
)

type modification int

const (
	modNone modification = iota
	modUpdated
	modDeleted
)

// entry is the per-key cache state described in spec.md §3.
type entry struct {
	hasCurrent      bool
	current         string
	lastEncrypt     bool
	hasOriginal     bool
	original        string
	originalEncrypt bool
	modification    modification
	negativePresence bool
	// listedStub is true when this entry exists only because a full listing surfaced
	// the key; its value has not been fetched yet.
	listedStub bool
}

// Options configures a CachedStore.
type Options struct {
	// CacheFileURLs enables caching of Url() lookups.
	CacheFileURLs bool
	// AutoFlushing selects write-through (true) vs write-deferred (false) mode.
	AutoFlushing bool
}

// CachedStore decorates a backend BlobStore with an in-process cache. In deferred mode
// (AutoFlushing=false) mutations are held in memory until Flush; in write-through mode
// every mutation flushes its key immediately.
type CachedStore struct {
	mu       sync.Mutex
	backend  store.BlobStore
	opts     Options
	entries  map[store.Key]*entry
	order    []store.Key
	listed   bool
	urlCache map[store.Key]string
}

// New wraps backend with a CachedStore configured by opts.
func New(backend store.BlobStore, opts Options) *CachedStore {
	return &CachedStore{
		backend: backend,
		opts:    opts,
		entries: make(map[store.Key]*entry),
	}
}

// entryLocked returns the entry for key, creating and ordering it if absent.
// Caller must hold c.mu.
func (c *CachedStore) entryLocked(key store.Key) *entry {
	e, ok := c.entries[key]
	if !ok {
		e = &entry{}
		c.entries[key] = e
		c.order = append(c.order, key)
	}
	return e
}

func (c *CachedStore) removeFromOrderLocked(key store.Key) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

// Get implements store.BlobStore.
func (c *CachedStore) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	c.mu.Lock()
	e := c.entryLocked(key)
	if e.modification == modDeleted || e.negativePresence {
		c.mu.Unlock()
		return store.Blob{}, false, nil
	}
	if e.hasCurrent {
		blob := store.Blob{Value: e.current, Encrypted: e.lastEncrypt}
		c.mu.Unlock()
		return blob, true, nil
	}
	c.mu.Unlock()

	// Cache miss, or a listed-but-unread stub: fetch from the backend.
	blob, found, err := c.backend.Get(ctx, key, encrypted)
	if err != nil {
		return store.Blob{}, false, store.ErrBackend(key, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	e = c.entryLocked(key)
	e.listedStub = false
	if !found {
		e.negativePresence = true
		e.hasCurrent = false
		return store.Blob{}, false, nil
	}
	e.hasCurrent = true
	e.current = blob.Value
	e.lastEncrypt = encrypted
	e.negativePresence = false
	return store.Blob{Value: blob.Value, Encrypted: encrypted}, true, nil
}

// snapshotOriginalLocked implements the "snapshot before first mutation" step shared
// by Put and Delete (C2: original present iff a modification is outstanding and the
// prior state was observable in the cache). Caller must hold c.mu.
func (c *CachedStore) snapshotOriginalLocked(e *entry) {
	if e.modification != modNone {
		// A modification is already outstanding; the original was captured then.
		return
	}
	if e.hasCurrent {
		e.hasOriginal = true
		e.original = e.current
		e.originalEncrypt = e.lastEncrypt
	} else {
		e.hasOriginal = false
	}
}

// Put implements store.BlobStore.
func (c *CachedStore) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.snapshotOriginalLocked(e)
	e.hasCurrent = true
	e.current = value
	e.lastEncrypt = encrypted
	e.modification = modUpdated
	e.negativePresence = false
	e.listedStub = false
	auto := c.opts.AutoFlushing
	c.mu.Unlock()

	if auto {
		return c.Flush(ctx, &key)
	}
	return nil
}

// Delete implements store.BlobStore.
func (c *CachedStore) Delete(ctx context.Context, key store.Key) error {
	c.mu.Lock()
	e := c.entryLocked(key)
	c.snapshotOriginalLocked(e)
	e.hasCurrent = false
	e.current = ""
	e.negativePresence = true
	e.modification = modDeleted
	e.listedStub = false
	auto := c.opts.AutoFlushing
	c.mu.Unlock()

	if auto {
		return c.Flush(ctx, &key)
	}
	return nil
}

// List implements store.BlobStore. The first call ingests a full backend listing into
// the cache as listed-but-unread stubs; later calls are served entirely from the cache.
func (c *CachedStore) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	c.mu.Lock()
	needsLoad := !c.listed
	c.mu.Unlock()

	if needsLoad {
		keys, err := c.backend.List(ctx, store.ListOptions{})
		if err != nil {
			return nil, store.ErrBackend("", err)
		}
		c.mu.Lock()
		for _, k := range keys {
			if _, ok := c.entries[k]; ok {
				continue
			}
			c.entries[k] = &entry{listedStub: true}
			c.order = append(c.order, k)
		}
		c.listed = true
		c.mu.Unlock()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	var result []store.Key
	for _, k := range c.order {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		e := c.entries[k]
		if e == nil || e.modification == modDeleted || e.negativePresence {
			continue
		}
		if opts.EarlyStop != nil && !opts.EarlyStop(k) {
			break
		}
		result = append(result, k)
	}
	return result, nil
}

// Url implements store.BlobStore, optionally caching the lookup per Options.CacheFileURLs.
func (c *CachedStore) Url(ctx context.Context, key store.Key) (string, bool, error) {
	if c.opts.CacheFileURLs {
		c.mu.Lock()
		if u, ok := c.urlCache[key]; ok {
			c.mu.Unlock()
			return u, true, nil
		}
		c.mu.Unlock()
	}
	url, ok, err := c.backend.Url(ctx, key)
	if err != nil {
		return "", false, store.ErrBackend(key, err)
	}
	if ok && c.opts.CacheFileURLs {
		c.mu.Lock()
		if c.urlCache == nil {
			c.urlCache = make(map[store.Key]string)
		}
		c.urlCache[key] = url
		c.mu.Unlock()
	}
	return url, ok, nil
}

// Flush applies outstanding modifications to the backend: Updated becomes a backend
// Put, Deleted becomes a backend Delete. When key is nil every outstanding
// modification is flushed. On success the modification and its original snapshot are
// cleared for each flushed key.
func (c *CachedStore) Flush(ctx context.Context, key *store.Key) error {
	keys := c.modifiedKeys(key)
	for _, k := range keys {
		c.mu.Lock()
		e, ok := c.entries[k]
		if !ok || e.modification == modNone {
			c.mu.Unlock()
			continue
		}
		mod, val, enc := e.modification, e.current, e.lastEncrypt
		c.mu.Unlock()

		var err error
		switch mod {
		case modUpdated:
			err = c.backend.Put(ctx, k, val, enc)
		case modDeleted:
			err = c.backend.Delete(ctx, k)
		}
		if err != nil {
			return store.ErrBackend(k, err)
		}

		c.mu.Lock()
		if e, ok := c.entries[k]; ok {
			e.modification = modNone
			e.hasOriginal = false
		}
		c.mu.Unlock()
	}
	return nil
}

// Abort restores current from original (or removes the key from the cache when no
// original was captured) for every outstanding modification, without touching the
// backend, then clears the modification.
func (c *CachedStore) Abort(key *store.Key) {
	keys := c.modifiedKeys(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		e, ok := c.entries[k]
		if !ok || e.modification == modNone {
			continue
		}
		if e.hasOriginal {
			e.hasCurrent = true
			e.current = e.original
			e.lastEncrypt = e.originalEncrypt
			e.negativePresence = false
		} else {
			delete(c.entries, k)
			c.removeFromOrderLocked(k)
			continue
		}
		e.modification = modNone
		e.hasOriginal = false
	}
}

// Clear forgets cache, original, negative-presence and modification state for key (or
// every key when nil), and unconditionally invalidates the full-listing flag.
func (c *CachedStore) Clear(key *store.Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key == nil {
		c.entries = make(map[store.Key]*entry)
		c.order = nil
	} else {
		delete(c.entries, *key)
		c.removeFromOrderLocked(*key)
	}
	c.listed = false
}

func (c *CachedStore) modifiedKeys(key *store.Key) []store.Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	if key != nil {
		return []store.Key{*key}
	}
	out := make([]store.Key, len(c.order))
	copy(out, c.order)
	return out
}
