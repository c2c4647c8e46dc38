// Package lock implements the shared-exclusive lock primitive (Lockable) and its
// per-key manager (Manager), grounded on the teacher's redis/locker.go lock-key
// negotiation idiom but reworked to hold state in process instead of round-tripping
// through Redis, since the core treats locking as an in-memory concern layered above
// an arbitrary backend.
package lock

import (
	"sync"

	store "github.com/sharedcode/objectstore"
)

// Lockable mediates shared-exclusive access to a single key. Zero value is not usable;
// construct with NewLockable.
type Lockable struct {
	mu      sync.Mutex
	writer  *store.Lock
	readers map[store.UUID]store.Lock
}

// NewLockable returns an idle Lockable.
func NewLockable() *Lockable {
	return &Lockable{readers: make(map[store.UUID]store.Lock)}
}

// CreateAndAcquire allocates a new Lock at level and attempts to acquire it, per the
// acquisition rules A1-A3.
func (lk *Lockable) CreateAndAcquire(level store.LockLevel) (store.Lock, error) {
	l := store.NewLock(level)
	if err := lk.acquire(l); err != nil {
		return store.Lock{}, err
	}
	return l, nil
}

func (lk *Lockable) acquire(l store.Lock) error {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	// A1: a writer with a different id denies everything.
	if lk.writer != nil && lk.writer.ID != l.ID {
		return store.ErrLockDenied("")
	}
	// A2: a write request is denied by any reader with a different id.
	if l.Level == store.Write {
		for id := range lk.readers {
			if id != l.ID {
				return store.ErrLockDenied("")
			}
		}
	}

	// A3: admit.
	if l.Level == store.Read {
		if lk.writer == nil || lk.writer.ID != l.ID {
			lk.readers[l.ID] = l
		}
		return nil
	}
	delete(lk.readers, l.ID)
	lk.writer = &l
	return nil
}

// Upgrade promotes the caller's Read lock to Write, keeping the same id. If the current
// writer already has this id, its existing Write lock is returned unchanged. Fails if
// any other reader is present (I3: the same id transiently appears in both positions
// only during this call).
func (lk *Lockable) Upgrade(l store.Lock) (store.Lock, error) {
	lk.mu.Lock()
	defer lk.mu.Unlock()

	if lk.writer != nil {
		if lk.writer.ID == l.ID {
			return *lk.writer, nil
		}
		return store.Lock{}, store.ErrLockDenied("")
	}
	for id := range lk.readers {
		if id != l.ID {
			return store.Lock{}, store.ErrLockDenied("")
		}
	}
	delete(lk.readers, l.ID)
	up := l.Upgraded()
	lk.writer = &up
	return up, nil
}

// Release removes l from whichever position it occupies. Idempotent: releasing an
// unknown id is a no-op.
func (lk *Lockable) Release(l store.Lock) {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	if lk.writer != nil && lk.writer.ID == l.ID {
		lk.writer = nil
	}
	delete(lk.readers, l.ID)
}

// IsLocked reports whether any writer or reader is currently held (I4: idle iff false).
func (lk *Lockable) IsLocked() bool {
	lk.mu.Lock()
	defer lk.mu.Unlock()
	return lk.writer != nil || len(lk.readers) > 0
}
