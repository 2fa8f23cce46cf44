package fstore

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ValentinKolb/fcache/lib/cache"
	"github.com/ValentinKolb/fcache/lib/lockmgr"
	"github.com/ValentinKolb/fcache/lib/pathres"
	"github.com/ValentinKolb/fcache/lib/transform"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("fstore")

const (
	// LockDirName is the directory below the base directory holding the lock
	// files. Sanitized group names never start with a dot, so it cannot clash
	// with a group directory.
	LockDirName = ".locks"

	tempSuffix = ".tmp"
	dirPerm    = 0o755
	filePerm   = 0o644
)

// Options configures a file cache
type Options[T any] struct {
	// BaseDir is the root of the cache directory tree. All processes sharing a
	// cache must use the same directory and the same layout options.
	BaseDir string
	// SyncTimeout bounds every lock acquisition.
	SyncTimeout time.Duration
	// NestedLockProtection refuses lock requests of an execution context that
	// already holds the lock instead of deadlocking.
	NestedLockProtection bool
	// DebugLocks logs every lock acquisition and release.
	DebugLocks bool
	// LockKind selects cross-process file locks (default), in-process locks or no locks.
	LockKind lockmgr.Kind
	// Transformer serializes entries. Nil means gob.
	Transformer transform.ITransformer[T]
	// ClusterDepth is the number of cluster directory levels (1-4).
	ClusterDepth int
	// Extension is the file extension of entry files.
	Extension string
	// Fsync flushes every entry to disk before it replaces the previous one.
	Fsync bool
	// Clock returns the current time. Nil means time.Now.
	Clock func() time.Time
}

// DefaultOptions returns the default options for a cache below baseDir
func DefaultOptions[T any](baseDir string) *Options[T] {
	return &Options[T]{
		BaseDir:              baseDir,
		SyncTimeout:          30 * time.Second,
		NestedLockProtection: true,
		DebugLocks:           false,
		LockKind:             lockmgr.KindFile,
		Transformer:          nil,
		ClusterDepth:         2,
		Extension:            "obj",
		Fsync:                false,
		Clock:                time.Now,
	}
}

// New creates a file backed cache. The base directory is created if missing.
func New[T any](opts *Options[T]) (cache.ICache[T], error) {
	if opts == nil || opts.BaseDir == "" {
		return nil, cache.NewError(cache.RetCInvalidArgument, "base directory must be set", nil)
	}

	b, locks, err := newBackend(opts)
	if err != nil {
		return nil, err
	}

	return cache.New[T](b, &cache.Options{
		SyncTimeout: opts.SyncTimeout,
		Locks:       locks,
		Clock:       opts.Clock,
	}), nil
}

func newBackend[T any](opts *Options[T]) (*backend[T], lockmgr.ILockProvider, error) {
	if strings.EqualFold(strings.TrimPrefix(opts.Extension, "."), strings.TrimPrefix(tempSuffix, ".")) {
		return nil, nil, cache.NewError(cache.RetCInvalidArgument, fmt.Sprintf("extension %q is reserved", opts.Extension), nil)
	}

	if err := os.MkdirAll(opts.BaseDir, dirPerm); err != nil {
		return nil, nil, cache.NewError(cache.RetCIOFailure, "create base directory", err)
	}

	paths, err := pathres.New(opts.BaseDir, &pathres.Options{
		Depth:     opts.ClusterDepth,
		Width:     2,
		Extension: opts.Extension,
	})
	if err != nil {
		return nil, nil, cache.NewError(cache.RetCInvalidArgument, "invalid layout", err)
	}

	tr := opts.Transformer
	if tr == nil {
		tr = transform.NewGOBTransformer[T]()
	}

	locks, err := lockmgr.NewProvider(opts.LockKind, filepath.Join(paths.Base(), LockDirName), &lockmgr.Options{
		NestedLockProtection: opts.NestedLockProtection,
		Debug:                opts.DebugLocks,
	})
	if err != nil {
		return nil, nil, cache.NewError(cache.RetCInternalError, "create lock provider", err)
	}

	log.Debugf("file cache in %s (depth %d, extension %q, locks %s)", paths.Base(), opts.ClusterDepth, paths.Extension(), opts.LockKind)

	return &backend[T]{paths: paths, tr: tr, fsync: opts.Fsync}, locks, nil
}

// --------------------------------------------------------------------------
// Backend
// --------------------------------------------------------------------------

// backend stores every entry in its own file. It relies on the engine for
// locking, only the holder of the write lock of an identity touches its file.
type backend[T any] struct {
	paths *pathres.Resolver
	tr    transform.ITransformer[T]
	fsync bool
}

func (b *backend[T]) Name() string {
	return "file"
}

func (b *backend[T]) Load(id cache.Identity) (cache.Entry[T], bool, error) {
	path := b.paths.Resolve(id.Group, id.Key)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cache.Entry[T]{}, false, nil
	}
	if err != nil {
		return cache.Entry[T]{}, false, fmt.Errorf("read %s: %w", path, err)
	}

	e, err := b.tr.Decode(data)
	if err != nil {
		return cache.Entry[T]{}, false, cache.NewError(cache.RetCDecodeFailure, "decode "+path, err)
	}
	return e, true, nil
}

func (b *backend[T]) Store(id cache.Identity, e cache.Entry[T]) error {
	data, err := b.tr.Encode(e)
	if err != nil {
		return cache.NewError(cache.RetCInternalError, "encode "+id.String(), err)
	}

	path := b.paths.Resolve(id.Group, id.Key)
	if err := pathres.EnsureDir(path, dirPerm); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}
	return writeFileAtomic(path, data, b.fsync)
}

func (b *backend[T]) Remove(id cache.Identity) (bool, error) {
	path := b.paths.Resolve(id.Group, id.Key)

	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", path, err)
	}
	return true, nil
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// over path, readers see either the old or the new entry, never a partial one.
func writeFileAtomic(path string, data []byte, fsync bool) (err error) {
	tmp := path + "." + uuid.NewString() + tempSuffix

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if _, err = f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if fsync {
		if err = f.Sync(); err != nil {
			f.Close()
			return fmt.Errorf("sync %s: %w", tmp, err)
		}
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
