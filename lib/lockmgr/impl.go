package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rcrowley/go-metrics"
	"golang.org/x/sync/semaphore"
)

// maxWeight is the semaphore weight of a writer. Readers acquire weight 1.
const maxWeight = 1 << 30

const defaultRetryDelay = 5 * time.Millisecond

// Options configures a lock provider.
type Options struct {
	// NestedLockProtection refuses lock requests of an execution context that
	// already holds the same lock instead of letting them deadlock.
	NestedLockProtection bool
	// Debug logs every acquisition and release with lock name and timeout.
	Debug bool
	// RetryDelay is the polling interval while waiting for a file lock.
	RetryDelay time.Duration
}

// DefaultOptions returns the default provider options
func DefaultOptions() *Options {
	return &Options{
		NestedLockProtection: true,
		Debug:                false,
		RetryDelay:           defaultRetryDelay,
	}
}

// --------------------------------------------------------------------------
// Provider
// --------------------------------------------------------------------------

// lockState is the shared state of one lock name inside a provider.
type lockState struct {
	refs int // number of open handles, only modified inside states.Compute
	sem  *semaphore.Weighted

	// cross-process part (nil file for in-process providers)
	file *flock.Flock
	path string
	// gate guards readers and the file lock transitions. It is a weighted
	// semaphore so that waiting for it honours the caller's deadline.
	gate    *semaphore.Weighted
	readers int
	dirOnce sync.Once
	dirErr  error
}

type provider struct {
	opts   Options
	dir    string // lock file directory, empty for in-process providers
	states *xsync.MapOf[string, *lockState]

	registry  metrics.Registry
	readWait  metrics.Timer
	writeWait metrics.Timer
	timeouts  metrics.Counter
}

// NewLocalProvider creates a provider whose locks only synchronize goroutines
// of the current process.
func NewLocalProvider(opts *Options) ILockProvider {
	return newProvider("", opts)
}

// NewFileProvider creates a provider whose locks synchronize goroutines and
// processes. All processes sharing a lock must use the same directory.
func NewFileProvider(dir string, opts *Options) (ILockProvider, error) {
	if dir == "" {
		return nil, errors.New("lockmgr: lock directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("lockmgr: create lock directory: %w", err)
	}
	return newProvider(dir, opts), nil
}

// NewProvider creates a provider of the given kind. For KindFile the lock
// directory is tested with a throwaway lock first; if the platform or filesystem does not support
// advisory locks an always succeeding provider is returned instead and a
// warning is logged once.
func NewProvider(kind Kind, dir string, opts *Options) (ILockProvider, error) {
	switch kind {
	case KindFile, "":
		p, err := NewFileProvider(dir, opts)
		if err != nil {
			return nil, err
		}
		if err := checkFileLocks(dir); err != nil {
			if isUnsupported(err) {
				warnUnsupported(err)
				return NewNoopProvider(opts), nil
			}
			return nil, fmt.Errorf("lockmgr: test lock directory: %w", err)
		}
		return p, nil
	case KindLocal:
		return NewLocalProvider(opts), nil
	case KindNone:
		return NewNoopProvider(opts), nil
	default:
		return nil, fmt.Errorf("lockmgr: unknown provider kind %q (expected one of: file, local, none)", kind)
	}
}

func newProvider(dir string, opts *Options) *provider {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.RetryDelay <= 0 {
		o.RetryDelay = defaultRetryDelay
	}

	registry := metrics.NewRegistry()
	return &provider{
		opts:      o,
		dir:       dir,
		states:    xsync.NewMapOf[string, *lockState](),
		registry:  registry,
		readWait:  metrics.NewRegisteredTimer("read.wait", registry),
		writeWait: metrics.NewRegisteredTimer("write.wait", registry),
		timeouts:  metrics.NewRegisteredCounter("timeouts", registry),
	}
}

// checkFileLocks takes and releases a lock on a scratch file to detect
// whether the filesystem supports advisory locks.
func checkFileLocks(dir string) error {
	f := flock.New(filepath.Join(dir, ".check.lock"))
	_, err := f.TryLock()
	if uerr := f.Unlock(); err == nil {
		err = uerr
	}
	return err
}

// Lock returns a handle for name. The lock state is created on first use.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (p *provider) Lock(name string) IRWLock {
	st, _ := p.states.Compute(name, func(st *lockState, loaded bool) (*lockState, bool) {
		if !loaded {
			st = p.newState(name)
		}
		st.refs++
		return st, false
	})
	return &rwLock{p: p, name: name, st: st}
}

// release drops one handle reference and evicts the state once nobody holds
// or waits for the lock anymore.
func (p *provider) release(name string) {
	p.states.Compute(name, func(st *lockState, loaded bool) (*lockState, bool) {
		if !loaded {
			return st, true
		}
		st.refs--
		return st, st.refs <= 0
	})
}

func (p *provider) newState(name string) *lockState {
	st := &lockState{sem: semaphore.NewWeighted(maxWeight)}
	if p.dir != "" {
		st.path = lockFilePath(p.dir, name)
		st.file = flock.New(st.path)
		st.gate = semaphore.NewWeighted(1)
	}
	return st
}

func (p *provider) Stats() Stats {
	return Stats{
		ReadAcquired:  p.readWait.Count(),
		WriteAcquired: p.writeWait.Count(),
		Timeouts:      p.timeouts.Count(),
		ReadWaitMean:  time.Duration(p.readWait.Mean()),
		ReadWaitP99:   time.Duration(p.readWait.Percentile(0.99)),
		WriteWaitMean: time.Duration(p.writeWait.Mean()),
		WriteWaitP99:  time.Duration(p.writeWait.Percentile(0.99)),
		ActiveLocks:   p.states.Size(),
	}
}

func (p *provider) debugf(format string, args ...interface{}) {
	if p.opts.Debug {
		log.Infof(format, args...)
	}
}

// failed converts an acquisition error into the (ok, err) result of the lock
// methods: an expired timeout is not an error, a done parent context is.
func (p *provider) failed(ctx context.Context, name string, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		p.timeouts.Inc(1)
		p.debugf("lock timeout for %s", name)
		return false, nil
	}
	return false, err
}

// --------------------------------------------------------------------------
// Lock state helpers
// --------------------------------------------------------------------------

// acquireSem acquires n from the semaphore. Without waiting only a single
// attempt is made.
func acquireSem(ctx context.Context, sem *semaphore.Weighted, n int64, wait bool) error {
	if !wait {
		if sem.TryAcquire(n) {
			return nil
		}
		return context.DeadlineExceeded
	}
	return sem.Acquire(ctx, n)
}

func (st *lockState) ensureDir() error {
	st.dirOnce.Do(func() {
		st.dirErr = os.MkdirAll(filepath.Dir(st.path), 0o755)
	})
	return st.dirErr
}

// lockFile takes the file lock. Unsupported locking degrades to a no-op.
func (st *lockState) lockFile(ctx context.Context, retry time.Duration, wait, exclusive bool) error {
	if err := st.ensureDir(); err != nil {
		return fmt.Errorf("lockmgr: create lock file directory: %w", err)
	}

	var (
		ok  bool
		err error
	)
	switch {
	case exclusive && wait:
		ok, err = st.file.TryLockContext(ctx, retry)
	case exclusive:
		ok, err = st.file.TryLock()
	case wait:
		ok, err = st.file.TryRLockContext(ctx, retry)
	default:
		ok, err = st.file.TryRLock()
	}

	if err != nil && isUnsupported(err) {
		warnUnsupported(err)
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return context.DeadlineExceeded
	}
	return nil
}

// lockShared makes sure the process holds the shared file lock. Only the first
// in-process reader waits for the file lock, later readers piggyback on it.
// Readers arriving while the first one waits queue on the gate until their own
// deadline.
func (st *lockState) lockShared(ctx context.Context, retry time.Duration, wait bool) error {
	if st.file == nil {
		return nil
	}
	if err := acquireSem(ctx, st.gate, 1, wait); err != nil {
		return err
	}
	defer st.gate.Release(1)
	if st.readers == 0 {
		if err := st.lockFile(ctx, retry, wait, false); err != nil {
			return err
		}
	}
	st.readers++
	return nil
}

func (st *lockState) unlockShared() error {
	if st.file == nil {
		return nil
	}
	st.lockGate()
	defer st.gate.Release(1)
	st.readers--
	if st.readers == 0 {
		return st.file.Unlock()
	}
	return nil
}

func (st *lockState) lockExclusive(ctx context.Context, retry time.Duration, wait bool) error {
	if st.file == nil {
		return nil
	}
	if err := acquireSem(ctx, st.gate, 1, wait); err != nil {
		return err
	}
	defer st.gate.Release(1)
	return st.lockFile(ctx, retry, wait, true)
}

func (st *lockState) unlockExclusive() error {
	if st.file == nil {
		return nil
	}
	st.lockGate()
	defer st.gate.Release(1)
	return st.file.Unlock()
}

// lockGate waits for the gate without deadline. A reader only waits for the
// file lock inside the gate while no in-process lock is held, so a release
// never queues behind such a wait.
func (st *lockState) lockGate() {
	_ = st.gate.Acquire(context.Background(), 1)
}

// --------------------------------------------------------------------------
// Handle
// --------------------------------------------------------------------------

type rwLock struct {
	p      *provider
	name   string
	st     *lockState
	reads  int
	writes int
	closed bool
}

// check refuses requests on closed handles and, with nested lock protection,
// requests of an execution context that already holds this lock.
func (l *rwLock) check(ctx context.Context) error {
	if l.closed {
		return ErrClosed
	}
	if !l.p.opts.NestedLockProtection {
		return nil
	}
	if l.reads > 0 || l.writes > 0 {
		return fmt.Errorf("%w: handle already holds %q", ErrNestedLock, l.name)
	}
	if mode, ok := Holding(ctx, l.name); ok {
		return fmt.Errorf("%w: context already holds %q in %s mode", ErrNestedLock, l.name, mode)
	}
	return nil
}

func waitContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

func (l *rwLock) ReadLock(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := l.check(ctx); err != nil {
		return false, err
	}
	l.p.debugf("readLock() timeout %s for %s", timeout, l.name)

	start := time.Now()
	wait := timeout > 0
	wctx, cancel := waitContext(ctx, timeout)
	defer cancel()

	if err := acquireSem(wctx, l.st.sem, 1, wait); err != nil {
		return l.p.failed(ctx, l.name, err)
	}
	if err := l.st.lockShared(wctx, l.p.opts.RetryDelay, wait); err != nil {
		l.st.sem.Release(1)
		return l.p.failed(ctx, l.name, err)
	}

	l.reads++
	l.p.readWait.UpdateSince(start)
	return true, nil
}

func (l *rwLock) ReadUnlock() error {
	if l.reads == 0 {
		return ErrNotHeld
	}
	l.p.debugf("readUnlock() for %s", l.name)

	err := l.st.unlockShared()
	l.reads--
	l.st.sem.Release(1)
	return err
}

func (l *rwLock) WriteLock(ctx context.Context, timeout time.Duration) (bool, error) {
	if err := l.check(ctx); err != nil {
		return false, err
	}
	l.p.debugf("writeLock() timeout %s for %s", timeout, l.name)

	start := time.Now()
	wait := timeout > 0
	wctx, cancel := waitContext(ctx, timeout)
	defer cancel()

	if err := acquireSem(wctx, l.st.sem, maxWeight, wait); err != nil {
		return l.p.failed(ctx, l.name, err)
	}
	if err := l.st.lockExclusive(wctx, l.p.opts.RetryDelay, wait); err != nil {
		l.st.sem.Release(maxWeight)
		return l.p.failed(ctx, l.name, err)
	}

	l.writes++
	l.p.writeWait.UpdateSince(start)
	return true, nil
}

func (l *rwLock) WriteUnlock() error {
	if l.writes == 0 {
		return ErrNotHeld
	}
	l.p.debugf("writeUnlock() for %s", l.name)

	err := l.st.unlockExclusive()
	l.writes--
	l.st.sem.Release(maxWeight)
	return err
}

func (l *rwLock) Close() error {
	if l.closed {
		return nil
	}
	var err error
	for l.writes > 0 {
		if e := l.WriteUnlock(); e != nil && err == nil {
			err = e
		}
	}
	for l.reads > 0 {
		if e := l.ReadUnlock(); e != nil && err == nil {
			err = e
		}
	}
	l.closed = true
	l.p.release(l.name)
	return err
}
