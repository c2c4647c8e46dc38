package txstore_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/sharedcode/objectstore/txstore"

	store "github.com/sharedcode/objectstore"
)

type fakeBackend struct {
	mu   sync.Mutex
	data map[store.Key]store.Blob
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{data: make(map[store.Key]store.Blob)}
}

func (f *fakeBackend) Get(ctx context.Context, key store.Key, encrypted bool) (store.Blob, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.data[key]
	return b, ok, nil
}

func (f *fakeBackend) Put(ctx context.Context, key store.Key, value string, encrypted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = store.Blob{Value: value, Encrypted: encrypted}
	return nil
}

func (f *fakeBackend) Delete(ctx context.Context, key store.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeBackend) List(ctx context.Context, opts store.ListOptions) ([]store.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]store.Key, 0, len(f.data))
	for k := range f.data {
		keys = append(keys, k)
	}
	return keys, nil
}

func (f *fakeBackend) Url(ctx context.Context, key store.Key) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	if !ok {
		return "", false, nil
	}
	return "fake://" + key, true, nil
}

func TestTxStore_SingleShotPutThenGet(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	tx := txstore.New(backend, txstore.Options{})

	if err := tx.Put(ctx, "k", "v1", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	blob, ok, err := tx.Get(ctx, "k", false)
	if err != nil || !ok || blob.Value != "v1" {
		t.Fatalf("Get: blob=%+v ok=%v err=%v", blob, ok, err)
	}
	if backend.data["k"].Value != "v1" {
		t.Fatalf("single-shot Put must have flushed to the backend, got %+v", backend.data["k"])
	}
}

func TestTxStore_ExplicitTransactionDefersFlushUntilCommit(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	ts := txstore.New(backend, txstore.Options{})

	txn := ts.Begin()
	if err := txn.Put(ctx, "k", "v1", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, ok := backend.data["k"]; ok {
		t.Fatalf("backend should be untouched before Commit")
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if backend.data["k"].Value != "v1" {
		t.Fatalf("backend should hold v1 after Commit, got %+v", backend.data["k"])
	}
}

func TestTxStore_AbortLeavesBackendUntouched(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	backend.data["k"] = store.Blob{Value: "seed"}
	ts := txstore.New(backend, txstore.Options{})

	txn := ts.Begin()
	if err := txn.Put(ctx, "k", "changed", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := txn.Abort(ctx); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if backend.data["k"].Value != "seed" {
		t.Fatalf("backend must be untouched by Abort, got %+v", backend.data["k"])
	}
}

func TestTxStore_ExpiredTransactionRejectsFurtherCalls(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	ts := txstore.New(backend, txstore.Options{})

	txn := ts.Begin()
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	_, _, err := txn.Get(ctx, "k", false)
	if !store.Is(err, store.TransactionExpired) {
		t.Fatalf("expected TransactionExpired, got %v", err)
	}
}

func TestTxStore_ConcurrentWriteToSameKeyFailsFast(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	ts := txstore.New(backend, txstore.Options{})

	txA := ts.Begin()
	txB := ts.Begin()

	if err := txA.Put(ctx, "k", "a", false); err != nil {
		t.Fatalf("txA Put: %v", err)
	}
	if err := txB.Put(ctx, "k", "b", false); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied for txB, got %v", err)
	}

	if err := txA.Commit(ctx); err != nil {
		t.Fatalf("txA Commit: %v", err)
	}
	if err := txB.Abort(ctx); err != nil {
		t.Fatalf("txB Abort: %v", err)
	}
}

func TestTxStore_TransactCommitsOnSuccessAndAbortsOnError(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	ts := txstore.New(backend, txstore.Options{})

	err := ts.Transact(ctx, func(ctx context.Context, tx *txstore.Transaction) error {
		return tx.Put(ctx, "ok", "v", false)
	})
	if err != nil {
		t.Fatalf("Transact success path: %v", err)
	}
	if backend.data["ok"].Value != "v" {
		t.Fatalf("Transact should commit on success, got %+v", backend.data["ok"])
	}

	boom := fmt.Errorf("boom")
	err = ts.Transact(ctx, func(ctx context.Context, tx *txstore.Transaction) error {
		if err := tx.Put(ctx, "bad", "v", false); err != nil {
			return err
		}
		return boom
	})
	if err != boom {
		t.Fatalf("Transact should re-raise the body error, got %v", err)
	}
	if _, ok := backend.data["bad"]; ok {
		t.Fatalf("Transact should abort on body error, but backend has %q", "bad")
	}
}

func TestTxStore_OnCommitCallbackRunsAfterFlush(t *testing.T) {
	ctx := context.Background()
	backend := newFakeBackend()
	ts := txstore.New(backend, txstore.Options{})

	txn := ts.Begin()
	var sawFlushed string
	txn.OnCommit(func(ctx context.Context) error {
		sawFlushed = backend.data["k"].Value
		return nil
	})
	if err := txn.Put(ctx, "k", "v1", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := txn.Commit(ctx); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if sawFlushed != "v1" {
		t.Fatalf("OnCommit should observe the flushed value, got %q", sawFlushed)
	}
}
