package lockmgr

import (
	"context"
	"errors"
	"time"
)

// IRWLock is a handle to the read/write lock of one lock name.
//
// A handle belongs to a single goroutine and is not safe for concurrent use.
// Goroutines that need the same lock obtain their own handle through
// ILockProvider.Lock, all handles of the same name share one lock.
type IRWLock interface {
	// ReadLock acquires the lock in shared mode. It waits at most timeout (or
	// until ctx is done). Returns false and a nil error if the timeout expired.
	// A timeout <= 0 means a single attempt without waiting.
	ReadLock(ctx context.Context, timeout time.Duration) (ok bool, err error)

	// ReadUnlock releases a lock acquired with ReadLock.
	ReadUnlock() (err error)

	// WriteLock acquires the lock in exclusive mode. It waits at most timeout
	// (or until ctx is done). Returns false and a nil error if the timeout expired.
	// A timeout <= 0 means a single attempt without waiting.
	WriteLock(ctx context.Context, timeout time.Duration) (ok bool, err error)

	// WriteUnlock releases a lock acquired with WriteLock.
	WriteUnlock() (err error)

	// Close releases everything the handle still holds and returns the handle to
	// the provider. The handle must not be used afterward. Close is idempotent.
	Close() (err error)
}

// ILockProvider hands out lock handles by name.
type ILockProvider interface {
	// Lock returns a handle to the lock with the given name.
	// The handle does not hold the lock yet.
	Lock(name string) IRWLock

	// Stats returns usage statistics of the provider.
	Stats() Stats
}

// Stats summarizes the lock activity of a provider.
type Stats struct {
	ReadAcquired  int64         `json:"read_acquired"`
	WriteAcquired int64         `json:"write_acquired"`
	Timeouts      int64         `json:"timeouts"`
	ReadWaitMean  time.Duration `json:"read_wait_mean"`
	ReadWaitP99   time.Duration `json:"read_wait_p99"`
	WriteWaitMean time.Duration `json:"write_wait_mean"`
	WriteWaitP99  time.Duration `json:"write_wait_p99"`
	ActiveLocks   int           `json:"active_locks"`
}

// Mode is the mode in which a lock is held.
type Mode int

const (
	ModeNone Mode = iota
	ModeRead
	ModeWrite
)

func (m Mode) String() string {
	switch m {
	case ModeRead:
		return "read"
	case ModeWrite:
		return "write"
	default:
		return "none"
	}
}

// Kind selects a provider implementation.
type Kind string

const (
	KindFile  Kind = "file"  // cross-process file locks
	KindLocal Kind = "local" // in-process locks only
	KindNone  Kind = "none"  // always succeeding locks
)

var (
	// ErrNestedLock is returned when an execution context requests a lock it already holds.
	ErrNestedLock = errors.New("lockmgr: nested lock request refused")
	// ErrNotHeld is returned when a lock is released that the handle does not hold.
	ErrNotHeld = errors.New("lockmgr: lock not held")
	// ErrClosed is returned when a closed handle is used.
	ErrClosed = errors.New("lockmgr: handle closed")
)
