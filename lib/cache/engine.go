package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/fcache/lib/lockmgr"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("cache")

// Backend persists entries. A back-end does no locking of its own, the engine
// calls it only while holding the lock of the identity.
type Backend[T any] interface {
	// Name identifies the back-end in logs and metrics
	Name() string
	// Load returns the entry of id. A missing entry is not an error (found=false).
	// Unreadable entries are reported with an error matching ErrDecodeFailure.
	Load(id Identity) (entry Entry[T], found bool, err error)
	// Store replaces the entry of id as a whole.
	Store(id Identity, entry Entry[T]) (err error)
	// Remove deletes the entry of id. A missing entry is not an error (removed=false).
	Remove(id Identity) (removed bool, err error)
}

// Options configures the cache engine
type Options struct {
	// SyncTimeout bounds every lock acquisition.
	SyncTimeout time.Duration
	// Locks provides the per identity locks. Nil means in-process locks.
	Locks lockmgr.ILockProvider
	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the default engine options
func DefaultOptions() *Options {
	return &Options{
		SyncTimeout: 30 * time.Second,
		Locks:       nil,
		Clock:       time.Now,
	}
}

type engine[T any] struct {
	backend Backend[T]
	locks   lockmgr.ILockProvider
	timeout time.Duration
	now     func() time.Time
	metrics *cacheMetrics
}

// New creates a cache on top of a back-end.
func New[T any](backend Backend[T], opts *Options) ICache[T] {
	if opts == nil {
		opts = DefaultOptions()
	}
	e := &engine[T]{
		backend: backend,
		locks:   opts.Locks,
		timeout: opts.SyncTimeout,
		now:     opts.Clock,
		metrics: newCacheMetrics(backend.Name()),
	}
	if e.locks == nil {
		e.locks = lockmgr.NewLocalProvider(nil)
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e
}

// LockStats returns the statistics of the lock provider behind c. ok is false
// if c was not created by New.
func LockStats[T any](c ICache[T]) (stats lockmgr.Stats, ok bool) {
	e, ok := c.(*engine[T])
	if !ok {
		return lockmgr.Stats{}, false
	}
	return e.locks.Stats(), true
}

// --------------------------------------------------------------------------
// Interface Methods (docu see ICache)
// --------------------------------------------------------------------------

func (e *engine[T]) GetOrCreate(ctx context.Context, group, key string, ttl time.Duration, create CreateFunc[T]) (T, bool, error) {
	var zero T
	if create == nil {
		return zero, false, NewError(RetCInvalidArgument, "create callback must not be nil", nil)
	}

	id := Identity{Group: group, Key: key}
	l := e.locks.Lock(id.LockName())
	defer l.Close()

	value, ok, broken, err := e.get(ctx, l, id, ttl)
	if err != nil || ok {
		return value, ok, err
	}

	// the read lock is released at this point, escalate to the write lock
	if err := e.acquire(ctx, l, id, lockmgr.ModeWrite); err != nil {
		return zero, false, err
	}
	defer e.release(l.WriteUnlock, id)

	// another caller may have created the entry while we waited for the write lock
	value, ok, loadErr := e.lookup(id, ttl)
	if loadErr != nil && !broken {
		e.loadFailed(id, loadErr)
	}
	if ok {
		e.metrics.hits.Inc()
		return value, true, nil
	}
	e.metrics.misses.Inc()

	value, ok, err = create(lockmgr.WithHolding(ctx, id.LockName(), lockmgr.ModeWrite))
	if err != nil {
		return zero, false, fmt.Errorf("create %s: %w", id, err)
	}
	if !ok {
		return value, false, nil
	}

	e.metrics.creates.Inc()
	if err := e.backend.Store(id, NewEntry(value, e.now())); err != nil {
		// the value is valid even if it could not be cached
		e.metrics.persistErrors.Inc()
		log.Warningf("failed to persist %s in %s back-end: %v", id, e.backend.Name(), err)
	}
	return value, true, nil
}

func (e *engine[T]) Get(ctx context.Context, group, key string, ttl time.Duration) (T, bool, error) {
	id := Identity{Group: group, Key: key}
	l := e.locks.Lock(id.LockName())
	defer l.Close()

	value, ok, _, err := e.get(ctx, l, id, ttl)
	if err == nil && !ok {
		e.metrics.misses.Inc()
	}
	return value, ok, err
}

func (e *engine[T]) Set(ctx context.Context, group, key string, value T, _ time.Duration) error {
	id := Identity{Group: group, Key: key}
	l := e.locks.Lock(id.LockName())
	defer l.Close()

	if err := e.acquire(ctx, l, id, lockmgr.ModeWrite); err != nil {
		return err
	}
	defer e.release(l.WriteUnlock, id)

	if err := e.backend.Store(id, NewEntry(value, e.now())); err != nil {
		return ioError(fmt.Sprintf("store %s", id), err)
	}
	return nil
}

func (e *engine[T]) Destroy(ctx context.Context, group, key string) error {
	id := Identity{Group: group, Key: key}
	l := e.locks.Lock(id.LockName())
	defer l.Close()

	if err := e.acquire(ctx, l, id, lockmgr.ModeWrite); err != nil {
		return err
	}
	defer e.release(l.WriteUnlock, id)

	if _, err := e.backend.Remove(id); err != nil {
		return ioError(fmt.Sprintf("remove %s", id), err)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// get looks up a live value under the read lock. The lock is released before
// returning. broken reports an entry that could not be loaded, the failure is
// already logged and counted.
func (e *engine[T]) get(ctx context.Context, l lockmgr.IRWLock, id Identity, ttl time.Duration) (value T, ok, broken bool, err error) {
	if err := e.acquire(ctx, l, id, lockmgr.ModeRead); err != nil {
		return value, false, false, err
	}
	defer e.release(l.ReadUnlock, id)

	value, ok, loadErr := e.lookup(id, ttl)
	if loadErr != nil {
		e.loadFailed(id, loadErr)
	}
	if ok {
		e.metrics.hits.Inc()
	}
	return value, ok, loadErr != nil, nil
}

// lookup loads the entry of id and checks its age. Entries that cannot be
// loaded are missing, the load error is returned for reporting.
func (e *engine[T]) lookup(id Identity, ttl time.Duration) (T, bool, error) {
	var zero T

	entry, found, err := e.backend.Load(id)
	if err != nil {
		return zero, false, err
	}
	if !found || entry.Expired(ttl, e.now()) {
		return zero, false, nil
	}
	return entry.Value, true, nil
}

// loadFailed logs and counts an entry that could not be loaded
func (e *engine[T]) loadFailed(id Identity, err error) {
	if errors.Is(err, ErrDecodeFailure) {
		e.metrics.decodeErrors.Inc()
	} else {
		e.metrics.loadErrors.Inc()
	}
	log.Warningf("failed to load %s from %s back-end, treating as miss: %v", id, e.backend.Name(), err)
}

// acquire takes the lock of id in the given mode and converts the lock
// results into cache errors.
func (e *engine[T]) acquire(ctx context.Context, l lockmgr.IRWLock, id Identity, mode lockmgr.Mode) error {
	var (
		ok  bool
		err error
	)
	if mode == lockmgr.ModeWrite {
		ok, err = l.WriteLock(ctx, e.timeout)
	} else {
		ok, err = l.ReadLock(ctx, e.timeout)
	}

	switch {
	case errors.Is(err, lockmgr.ErrNestedLock):
		return NewError(RetCNestedLock, fmt.Sprintf("%s lock on %s", mode, id), err)
	case err != nil:
		return NewError(RetCInternalError, fmt.Sprintf("%s lock on %s", mode, id), err)
	case !ok:
		e.metrics.lockTimeouts.Inc()
		return NewError(RetCLockTimeout, fmt.Sprintf("%s lock on %s not acquired within %s", mode, id, e.timeout), nil)
	}
	return nil
}

func (e *engine[T]) release(unlock func() error, id Identity) {
	if err := unlock(); err != nil {
		log.Warningf("failed to release lock of %s: %v", id, err)
	}
}

// ioError wraps back-end errors that are not already cache errors as I/O failures.
func ioError(msg string, err error) error {
	var cerr *Error
	if errors.As(err, &cerr) {
		return err
	}
	return NewError(RetCIOFailure, msg, err)
}
