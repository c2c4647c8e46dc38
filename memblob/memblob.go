// Package memblob provides a minimal in-process BlobStore, grounded on the teacher's
// in_memory package (in_memory/store_repository.go: a mutex-free lookup map standing in
// for a real repository "to demonstrate or mockup the structure composition"). This
// module keeps terminal backends out of scope, but the decorator stack has nothing to
// wrap without one, so memblob plays the same demonstration role here, guarded by a
// mutex since, unlike the teacher's single-goroutine sample, these decorators are
// exercised concurrently.
package memblob

import (
	"context"
	"sort"
	"strings"
	"sync"

	store "github.com/sharedcode/objectstore"
)

// Store is a map-backed store.BlobStore. Its zero value is not usable; construct with New.
type Store struct {
	mu   sync.Mutex
	data map[store.Key]store.Blob
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[store.Key]store.Blob)}
}

// Get implements store.BlobStore.
func (s *Store) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.data[key]
	return b, ok, nil
}

// Put implements store.BlobStore.
func (s *Store) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = store.Blob{Value: value, Encrypted: encrypted}
	return nil
}

// Delete implements store.BlobStore. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key store.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// List implements store.BlobStore, returning keys in sorted order so callers exercising
// EarlyStop over memblob see a stable iteration order across runs.
func (s *Store) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	s.mu.Lock()
	keys := make([]store.Key, 0, len(s.data))
	for k := range s.data {
		if opts.Prefix != "" && !strings.HasPrefix(k, opts.Prefix) {
			continue
		}
		keys = append(keys, k)
	}
	s.mu.Unlock()

	sort.Strings(keys)
	if opts.EarlyStop == nil {
		return keys, nil
	}
	out := keys[:0:0]
	for _, k := range keys {
		if !opts.EarlyStop(k) {
			break
		}
		out = append(out, k)
	}
	return out, nil
}

// Url implements store.BlobStore with a synthetic, non-dereferenceable URL.
func (s *Store) Url(ctx context.Context, key store.Key) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return "", false, nil
	}
	return "memblob://" + key, true, nil
}
