// Package mstore provides an in-memory back-end of the cache. It runs the same
// engine and locking discipline as the file back-end, but entries only live as
// long as the process. Useful for tests and for single process deployments.
//
// Values are stored as they are, values holding pointers, maps or slices share
// their memory with the caller and must not be modified after caching.
package mstore

import (
	"time"

	"github.com/ValentinKolb/fcache/lib/cache"
	"github.com/ValentinKolb/fcache/lib/lockmgr"
	"github.com/puzpuzpuz/xsync/v3"
)

// Options configures a memory cache
type Options struct {
	SyncTimeout          time.Duration
	NestedLockProtection bool
	DebugLocks           bool
	Clock                func() time.Time
}

// DefaultOptions returns the default options
func DefaultOptions() *Options {
	return &Options{
		SyncTimeout:          30 * time.Second,
		NestedLockProtection: true,
		DebugLocks:           false,
		Clock:                time.Now,
	}
}

// New creates a memory backed cache
func New[T any](opts *Options) cache.ICache[T] {
	if opts == nil {
		opts = DefaultOptions()
	}
	locks := lockmgr.NewLocalProvider(&lockmgr.Options{
		NestedLockProtection: opts.NestedLockProtection,
		Debug:                opts.DebugLocks,
	})
	return cache.New[T](newBackend[T](), &cache.Options{
		SyncTimeout: opts.SyncTimeout,
		Locks:       locks,
		Clock:       opts.Clock,
	})
}

type backend[T any] struct {
	entries *xsync.MapOf[cache.Identity, cache.Entry[T]]
}

func newBackend[T any]() *backend[T] {
	return &backend[T]{entries: xsync.NewMapOf[cache.Identity, cache.Entry[T]]()}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see cache.Backend)
// --------------------------------------------------------------------------

func (b *backend[T]) Name() string {
	return "memory"
}

func (b *backend[T]) Load(id cache.Identity) (cache.Entry[T], bool, error) {
	e, ok := b.entries.Load(id)
	return e, ok, nil
}

func (b *backend[T]) Store(id cache.Identity, e cache.Entry[T]) error {
	b.entries.Store(id, e)
	return nil
}

func (b *backend[T]) Remove(id cache.Identity) (bool, error) {
	_, ok := b.entries.LoadAndDelete(id)
	return ok, nil
}
