package objectstore

import "time"

// LockLevel is the level of a Lock: Read (shared) or Write (exclusive).
type LockLevel int

const (
	// Read is a shared lock level: any number of Read locks may coexist.
	Read LockLevel = iota
	// Write is an exclusive lock level: at most one Write lock may be outstanding.
	Write
)

func (l LockLevel) String() string {
	if l == Write {
		return "write"
	}
	return "read"
}

// Lock is an immutable value identifying one lock grant. Identity equality is by ID;
// "upgrading" a lock produces a new Lock value with the same ID and Level=Write.
type Lock struct {
	Level   LockLevel
	ID      UUID
	Created time.Time
}

// NewLock allocates a fresh Lock at the given level with a new identity.
func NewLock(level LockLevel) Lock {
	return Lock{Level: level, ID: NewUUID(), Created: time.Now()}
}

// Upgraded returns a copy of l promoted to Write, keeping the same ID.
func (l Lock) Upgraded() Lock {
	l.Level = Write
	return l
}
