// Package lockmgr implements named read/write locks with bounded-wait
// acquisition. It is the concurrency backbone of the cache: every cache
// identity maps to exactly one lock name, and every operation on that identity
// runs under the corresponding read or write lock.
//
// Core Functionality:
//   - Many concurrent readers or a single writer per lock name
//   - Timeout-bounded acquisition (ReadLock / WriteLock return false on expiry)
//   - Cross-process exclusion through advisory file locks
//   - Nested lock protection for a single execution context
//   - Optional audit logging of every acquisition and release
//
// Implementation Approach:
//
//	Every provider owns a registry (xsync.MapOf) from lock name to lock state.
//	The state is created lazily on the first Lock call and evicted again once
//	no handle references it anymore, i.e. when no goroutine holds or awaits
//	the lock. The registry is private to the provider instance; there is no
//	package level lock table.
//
//	- In-process exclusion: every lock state carries a weighted semaphore
//	  (golang.org/x/sync/semaphore). A reader acquires weight 1, a writer
//	  acquires the full weight. The semaphore queues waiters in order, so a
//	  waiting writer is not starved by a steady stream of readers.
//
//	- Cross-process exclusion (file provider only): on top of the semaphore
//	  the lock state holds a github.com/gofrs/flock file lock. The first
//	  in-process reader takes the shared file lock, the last one releases it.
//	  A writer takes the exclusive file lock. Lock files live in a clustered
//	  directory tree below the lock directory and are never deleted, deleting
//	  a lock file while another process waits on it would split the lock.
//
//	- Degradation: on platforms or filesystems without advisory locking the
//	  file lock is treated as acquired and a warning is logged exactly once
//	  per process. The semaphore still serializes goroutines of the same
//	  process.
//
// Nested Lock Protection:
//
//	Go has no thread identity, so a logical execution context is expressed
//	through context.Context. WithHolding annotates a context with a held lock,
//	and a lock request carrying such a context for the same name is refused
//	with ErrNestedLock instead of deadlocking. A handle also refuses a second
//	acquisition while it already holds its lock.
//
// Usage Example:
//
//	locks, err := lockmgr.NewFileProvider("/var/cache/app/.locks", nil)
//	if err != nil {
//	    // Handle error
//	}
//
//	l := locks.Lock("users/42")
//	defer l.Close()
//
//	ok, err := l.WriteLock(ctx, 30*time.Second)
//	if err != nil || !ok {
//	    // Not acquired, do not touch the resource
//	}
//	defer l.WriteUnlock()
package lockmgr
