// Package cache implements a get-or-create cache for values keyed by a
// (group, key) pair with lazy, time based expiry.
//
// The package contains the storage engine, back-ends live in subpackages:
//   - fstore: entries are files below a base directory, shared by all processes
//     using the same directory
//   - mstore: entries live in process memory
//
// Core Functionality:
//   - GetOrCreate: return the live value or compute and cache it exactly once
//   - Get: return the live value without creating it
//   - Set: replace the value
//   - Destroy: remove the value (idempotent)
//
// Locking Discipline:
//
//	Every identity maps to one lock of the configured lockmgr.ILockProvider.
//	Reads run under the read lock, Set and Destroy under the write lock.
//	GetOrCreate first looks the value up under the read lock. On a miss it
//	releases the read lock, takes the write lock and looks again, because
//	another caller may have created the value in between. Only if the value
//	is still missing the callback runs, while the write lock is held, so
//	concurrent callers of the same identity wait for the first result instead
//	of computing it again.
//
// Expiry:
//
//	An entry stores its creation time, not its ttl. The reader decides with
//	its own ttl whether the entry is still live. Expired entries are never
//	deleted proactively, the next write replaces them.
//
// Errors:
//
//	A miss is not an error. Lock timeouts, nested lock requests and I/O
//	failures are reported as *Error and can be tested with errors.Is against
//	ErrLockTimeout, ErrNestedLock and ErrIOFailure. Unreadable entries are
//	logged and treated as a miss. If a computed value cannot be persisted,
//	GetOrCreate still returns it and only logs the failure.
//
// Usage Example:
//
//	c, err := fstore.New[User](fstore.DefaultOptions[User]("/var/cache/app"))
//	if err != nil {
//	    // Handle error
//	}
//
//	user, ok, err := c.GetOrCreate(ctx, "users", "42", time.Hour,
//	    func(ctx context.Context) (User, bool, error) {
//	        return loadUser(ctx, 42)
//	    })
package cache
