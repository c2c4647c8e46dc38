package memblob_test

import (
	"context"
	"testing"

	"github.com/sharedcode/objectstore/memblob"

	store "github.com/sharedcode/objectstore"
)

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := memblob.New()

	if _, ok, _ := s.Get(ctx, "k", false); ok {
		t.Fatalf("expected absent before Put")
	}
	if err := s.Put(ctx, "k", "v", false); err != nil {
		t.Fatalf("Put: %v", err)
	}
	blob, ok, err := s.Get(ctx, "k", false)
	if err != nil || !ok || blob.Value != "v" {
		t.Fatalf("Get: blob=%+v ok=%v err=%v", blob, ok, err)
	}
	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := s.Get(ctx, "k", false); ok {
		t.Fatalf("expected absent after Delete")
	}
	if err := s.Delete(ctx, "missing"); err != nil {
		t.Fatalf("Delete of absent key must not error: %v", err)
	}
}

func TestStore_ListPrefixAndEarlyStop(t *testing.T) {
	ctx := context.Background()
	s := memblob.New()
	for _, k := range []string{"a/1", "a/2", "a/3", "b/1"} {
		if err := s.Put(ctx, k, "v", false); err != nil {
			t.Fatal(err)
		}
	}

	got, err := s.List(ctx, store.ListOptions{
		EarlyStop: func(name string) bool {
			return len(name) >= 2 && name[:2] == "a/"
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a/1", "a/2", "a/3"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}

	prefixed, err := s.List(ctx, store.ListOptions{Prefix: "b/"})
	if err != nil {
		t.Fatal(err)
	}
	if len(prefixed) != 1 || prefixed[0] != "b/1" {
		t.Fatalf("prefix filter: got %v", prefixed)
	}
}
