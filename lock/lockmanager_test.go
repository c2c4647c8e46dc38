package lock_test

import (
	"testing"

	"github.com/sharedcode/objectstore/lock"

	store "github.com/sharedcode/objectstore"
)

func TestManager_NegotiateReadIsNoOpForSameTx(t *testing.T) {
	m := lock.NewManager()
	tx := lock.NewTxLocks()
	if _, err := m.NegotiateRead(tx, "k"); err != nil {
		t.Fatalf("first read: %v", err)
	}
	if _, err := m.NegotiateRead(tx, "k"); err != nil {
		t.Fatalf("second read on same tx should be a no-op: %v", err)
	}
}

func TestManager_NegotiateWriteUpgradesExistingRead(t *testing.T) {
	m := lock.NewManager()
	tx := lock.NewTxLocks()
	if _, err := m.NegotiateRead(tx, "k"); err != nil {
		t.Fatalf("read: %v", err)
	}
	l, err := m.NegotiateWrite(tx, "k")
	if err != nil {
		t.Fatalf("write upgrade: %v", err)
	}
	if l.Level != store.Write {
		t.Fatalf("expected Write, got %v", l.Level)
	}
}

func TestManager_TwoTransactionsWriteConflict(t *testing.T) {
	m := lock.NewManager()
	txA := lock.NewTxLocks()
	txB := lock.NewTxLocks()
	if _, err := m.NegotiateWrite(txA, "k"); err != nil {
		t.Fatalf("txA write: %v", err)
	}
	if _, err := m.NegotiateWrite(txB, "k"); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied for txB, got %v", err)
	}
}

func TestManager_ReleaseAllFreesKeyForOtherTx(t *testing.T) {
	m := lock.NewManager()
	txA := lock.NewTxLocks()
	txB := lock.NewTxLocks()
	if _, err := m.NegotiateWrite(txA, "k"); err != nil {
		t.Fatalf("txA write: %v", err)
	}
	m.ReleaseAll(txA)
	if _, err := m.NegotiateWrite(txB, "k"); err != nil {
		t.Fatalf("txB write after release: %v", err)
	}
}

func TestManager_ListWriteDeniedByOutstandingListRead(t *testing.T) {
	m := lock.NewManager()
	txA := lock.NewTxLocks()
	txB := lock.NewTxLocks()
	if _, err := m.NegotiateListRead(txA); err != nil {
		t.Fatalf("txA list-read: %v", err)
	}
	if _, err := m.NegotiateListWrite(txB); !store.Is(err, store.LockDenied) {
		t.Fatalf("expected LockDenied for txB list-write, got %v", err)
	}
}

func TestManager_SameTxCanHoldBothListLocks(t *testing.T) {
	m := lock.NewManager()
	tx := lock.NewTxLocks()
	if _, err := m.NegotiateListRead(tx); err != nil {
		t.Fatalf("list-read: %v", err)
	}
	if _, err := m.NegotiateListWrite(tx); err != nil {
		t.Fatalf("list-write for same tx should be admitted: %v", err)
	}
}

func TestManager_ReleaseAllClearsListLocks(t *testing.T) {
	m := lock.NewManager()
	txA := lock.NewTxLocks()
	txB := lock.NewTxLocks()
	if _, err := m.NegotiateListWrite(txA); err != nil {
		t.Fatalf("txA list-write: %v", err)
	}
	m.ReleaseAll(txA)
	if _, err := m.NegotiateListRead(txB); err != nil {
		t.Fatalf("txB list-read after release: %v", err)
	}
}
