package lock_test

import (
	"testing"

	"github.com/sharedcode/objectstore/lock"

	store "github.com/sharedcode/objectstore"
)

func TestLockable_TwoReadersAdmitted(t *testing.T) {
	lk := lock.NewLockable()
	if _, err := lk.CreateAndAcquire(store.Read); err != nil {
		t.Fatalf("first reader: %v", err)
	}
	if _, err := lk.CreateAndAcquire(store.Read); err != nil {
		t.Fatalf("second reader: %v", err)
	}
	if !lk.IsLocked() {
		t.Fatalf("expected locked with two readers")
	}
}

func TestLockable_WriteDeniedByExistingReader(t *testing.T) {
	lk := lock.NewLockable()
	if _, err := lk.CreateAndAcquire(store.Read); err != nil {
		t.Fatalf("reader: %v", err)
	}
	if _, err := lk.CreateAndAcquire(store.Write); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied, got %v", err)
	}
}

func TestLockable_ReadDeniedByExistingWriter(t *testing.T) {
	lk := lock.NewLockable()
	if _, err := lk.CreateAndAcquire(store.Write); err != nil {
		t.Fatalf("writer: %v", err)
	}
	if _, err := lk.CreateAndAcquire(store.Read); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied, got %v", err)
	}
}

func TestLockable_UpgradeSoleReaderSucceeds(t *testing.T) {
	lk := lock.NewLockable()
	l, err := lk.CreateAndAcquire(store.Read)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	up, err := lk.Upgrade(l)
	if err != nil {
		t.Fatalf("upgrade: %v", err)
	}
	if up.Level != store.Write {
		t.Fatalf("expected Write after upgrade, got %v", up.Level)
	}
	if up.ID != l.ID {
		t.Fatalf("upgrade must preserve identity")
	}
}

func TestLockable_UpgradeDeniedByOtherReader(t *testing.T) {
	lk := lock.NewLockable()
	l1, err := lk.CreateAndAcquire(store.Read)
	if err != nil {
		t.Fatalf("reader1: %v", err)
	}
	if _, err := lk.CreateAndAcquire(store.Read); err != nil {
		t.Fatalf("reader2: %v", err)
	}
	if _, err := lk.Upgrade(l1); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied, got %v", err)
	}
}

func TestLockable_ReleaseThenReacquire(t *testing.T) {
	lk := lock.NewLockable()
	l, err := lk.CreateAndAcquire(store.Write)
	if err != nil {
		t.Fatalf("writer: %v", err)
	}
	lk.Release(l)
	if lk.IsLocked() {
		t.Fatalf("expected idle after release")
	}
	if _, err := lk.CreateAndAcquire(store.Read); err != nil {
		t.Fatalf("reacquire after release: %v", err)
	}
}
