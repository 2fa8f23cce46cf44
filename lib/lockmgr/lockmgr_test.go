package lockmgr

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// testProviders creates one provider per lock implementation with mutual exclusion
func testProviders(t *testing.T) map[string]ILockProvider {
	fileProvider, err := NewFileProvider(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("Failed to create file provider: %v", err)
	}
	return map[string]ILockProvider{
		"Local": NewLocalProvider(nil),
		"File":  fileProvider,
	}
}

func TestReadersShareWritersExclude(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			r1 := p.Lock("a")
			r2 := p.Lock("a")
			w := p.Lock("a")
			defer r1.Close()
			defer r2.Close()
			defer w.Close()

			if ok, err := r1.ReadLock(ctx, time.Second); !ok || err != nil {
				t.Fatalf("Expected first read lock, got ok=%v err=%v", ok, err)
			}
			if ok, err := r2.ReadLock(ctx, time.Second); !ok || err != nil {
				t.Fatalf("Expected second read lock while first is held, got ok=%v err=%v", ok, err)
			}

			if ok, err := w.WriteLock(ctx, 50*time.Millisecond); ok || err != nil {
				t.Errorf("Expected write lock to time out while readers hold the lock, got ok=%v err=%v", ok, err)
			}

			if err := r1.ReadUnlock(); err != nil {
				t.Errorf("ReadUnlock failed: %v", err)
			}
			if err := r2.ReadUnlock(); err != nil {
				t.Errorf("ReadUnlock failed: %v", err)
			}

			if ok, err := w.WriteLock(ctx, time.Second); !ok || err != nil {
				t.Fatalf("Expected write lock after readers left, got ok=%v err=%v", ok, err)
			}

			if ok, err := r1.ReadLock(ctx, 50*time.Millisecond); ok || err != nil {
				t.Errorf("Expected read lock to time out while writer holds the lock, got ok=%v err=%v", ok, err)
			}

			if err := w.WriteUnlock(); err != nil {
				t.Errorf("WriteUnlock failed: %v", err)
			}
		})
	}
}

func TestZeroTimeoutSingleAttempt(t *testing.T) {
	p := NewLocalProvider(nil)
	ctx := context.Background()

	w := p.Lock("k")
	defer w.Close()
	if ok, err := w.WriteLock(ctx, 0); !ok || err != nil {
		t.Fatalf("Expected uncontended write lock with zero timeout, got ok=%v err=%v", ok, err)
	}

	other := p.Lock("k")
	defer other.Close()

	start := time.Now()
	ok, err := other.ReadLock(ctx, 0)
	if ok || err != nil {
		t.Errorf("Expected contended zero timeout read lock to fail without error, got ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("Zero timeout should not wait, waited %v", elapsed)
	}

	if p.Stats().Timeouts != 1 {
		t.Errorf("Expected 1 timeout in stats, got %d", p.Stats().Timeouts)
	}
}

func TestCancelledContext(t *testing.T) {
	p := NewLocalProvider(nil)

	w := p.Lock("k")
	defer w.Close()
	if ok, _ := w.WriteLock(context.Background(), time.Second); !ok {
		t.Fatal("Expected write lock")
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	r := p.Lock("k")
	defer r.Close()
	ok, err := r.ReadLock(ctx, 10*time.Second)
	if ok {
		t.Errorf("Expected read lock not to be acquired")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestNestedLockProtection(t *testing.T) {
	t.Run("SameHandle", func(t *testing.T) {
		p := NewLocalProvider(nil)
		l := p.Lock("n")
		defer l.Close()

		if ok, _ := l.WriteLock(context.Background(), time.Second); !ok {
			t.Fatal("Expected write lock")
		}

		start := time.Now()
		_, err := l.ReadLock(context.Background(), 5*time.Second)
		if !errors.Is(err, ErrNestedLock) {
			t.Errorf("Expected ErrNestedLock, got %v", err)
		}
		if time.Since(start) > time.Second {
			t.Errorf("Nested request should be refused immediately")
		}
	})

	t.Run("AnnotatedContext", func(t *testing.T) {
		p := NewLocalProvider(nil)
		outer := p.Lock("n")
		defer outer.Close()

		ctx := context.Background()
		if ok, _ := outer.WriteLock(ctx, time.Second); !ok {
			t.Fatal("Expected write lock")
		}
		ctx = WithHolding(ctx, "n", ModeWrite)

		inner := p.Lock("n")
		defer inner.Close()
		_, err := inner.WriteLock(ctx, 5*time.Second)
		if !errors.Is(err, ErrNestedLock) {
			t.Errorf("Expected ErrNestedLock, got %v", err)
		}

		// other names are not affected
		otherLock := p.Lock("m")
		defer otherLock.Close()
		if ok, err := otherLock.WriteLock(ctx, time.Second); !ok || err != nil {
			t.Errorf("Expected lock on other name, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("Disabled", func(t *testing.T) {
		opts := DefaultOptions()
		opts.NestedLockProtection = false
		p := NewLocalProvider(opts)

		l := p.Lock("n")
		defer l.Close()
		if ok, _ := l.ReadLock(context.Background(), time.Second); !ok {
			t.Fatal("Expected read lock")
		}
		if ok, err := l.ReadLock(context.Background(), time.Second); !ok || err != nil {
			t.Errorf("Expected second shared acquisition without protection, got ok=%v err=%v", ok, err)
		}
	})
}

func TestUnlockNotHeld(t *testing.T) {
	p := NewLocalProvider(nil)
	l := p.Lock("x")
	defer l.Close()

	if err := l.ReadUnlock(); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Expected ErrNotHeld on ReadUnlock, got %v", err)
	}
	if err := l.WriteUnlock(); !errors.Is(err, ErrNotHeld) {
		t.Errorf("Expected ErrNotHeld on WriteUnlock, got %v", err)
	}
}

func TestRegistryEviction(t *testing.T) {
	p := NewLocalProvider(nil)
	ctx := context.Background()

	l1 := p.Lock("e")
	l2 := p.Lock("e")
	if got := p.Stats().ActiveLocks; got != 1 {
		t.Errorf("Expected 1 active lock, got %d", got)
	}

	if ok, _ := l1.WriteLock(ctx, time.Second); !ok {
		t.Fatal("Expected write lock")
	}

	// Close releases the held lock
	if err := l1.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if err := l1.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
	if _, err := l1.ReadLock(ctx, time.Second); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed on closed handle, got %v", err)
	}

	if ok, _ := l2.WriteLock(ctx, 100*time.Millisecond); !ok {
		t.Errorf("Expected lock to be free after Close")
	}
	_ = l2.Close()

	if got := p.Stats().ActiveLocks; got != 0 {
		t.Errorf("Expected lock state to be evicted, got %d active locks", got)
	}
}

func TestWriterExclusion(t *testing.T) {
	for name, p := range testProviders(t) {
		t.Run(name, func(t *testing.T) {
			var (
				inside  atomic.Int32
				maxSeen atomic.Int32
				wg      sync.WaitGroup
			)

			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					l := p.Lock("shared")
					defer l.Close()

					ok, err := l.WriteLock(context.Background(), 10*time.Second)
					if !ok || err != nil {
						t.Errorf("Expected write lock, got ok=%v err=%v", ok, err)
						return
					}
					n := inside.Add(1)
					if n > maxSeen.Load() {
						maxSeen.Store(n)
					}
					time.Sleep(time.Millisecond)
					inside.Add(-1)
					_ = l.WriteUnlock()
				}()
			}
			wg.Wait()

			if maxSeen.Load() != 1 {
				t.Errorf("Expected at most one writer inside, saw %d", maxSeen.Load())
			}
		})
	}
}

// TestFileProvidersExcludeEachOther simulates two processes with two providers
// sharing one lock directory. Only the file lock can exclude them.
func TestFileProvidersExcludeEachOther(t *testing.T) {
	dir := t.TempDir()
	p1, err := NewFileProvider(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	p2, err := NewFileProvider(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	ctx := context.Background()

	w := p1.Lock("users/42")
	defer w.Close()
	if ok, err := w.WriteLock(ctx, time.Second); !ok || err != nil {
		t.Fatalf("Expected write lock, got ok=%v err=%v", ok, err)
	}

	r := p2.Lock("users/42")
	defer r.Close()
	if ok, err := r.ReadLock(ctx, 50*time.Millisecond); ok || err != nil {
		t.Errorf("Expected read lock of second provider to time out, got ok=%v err=%v", ok, err)
	}

	_ = w.WriteUnlock()
	if ok, err := r.ReadLock(ctx, time.Second); !ok || err != nil {
		t.Errorf("Expected read lock after release, got ok=%v err=%v", ok, err)
	}

	// shared locks of both providers coexist
	r1 := p1.Lock("users/42")
	defer r1.Close()
	if ok, err := r1.ReadLock(ctx, time.Second); !ok || err != nil {
		t.Errorf("Expected shared lock of both providers, got ok=%v err=%v", ok, err)
	}
}

// TestQueuedReaderKeepsItsTimeout checks that a reader queued behind another
// reader waiting for the file lock gives up at its own deadline.
func TestQueuedReaderKeepsItsTimeout(t *testing.T) {
	dir := t.TempDir()
	other, err := NewFileProvider(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}
	p, err := NewFileProvider(dir, nil)
	if err != nil {
		t.Fatalf("Failed to create provider: %v", err)
	}

	// the other "process" holds the exclusive file lock
	w := other.Lock("report")
	defer w.Close()
	if ok, err := w.WriteLock(context.Background(), time.Second); !ok || err != nil {
		t.Fatalf("Expected write lock, got ok=%v err=%v", ok, err)
	}

	slow := p.Lock("report")
	defer slow.Close()
	slowDone := make(chan bool, 1)
	go func() {
		ok, _ := slow.ReadLock(context.Background(), 2*time.Second)
		slowDone <- ok
	}()
	time.Sleep(50 * time.Millisecond) // let the slow reader wait for the file lock

	fast := p.Lock("report")
	defer fast.Close()
	start := time.Now()
	ok, err := fast.ReadLock(context.Background(), 50*time.Millisecond)
	if ok || err != nil {
		t.Errorf("Expected queued reader to time out, got ok=%v err=%v", ok, err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Expected queued reader to give up after its own timeout, waited %s", elapsed)
	}

	// a cancelled context also ends the wait
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if ok, err := fast.ReadLock(ctx, time.Minute); ok || !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled for queued reader, got ok=%v err=%v", ok, err)
	}

	_ = w.WriteUnlock()
	if !<-slowDone {
		t.Errorf("Expected slow reader to get the lock after the writer left")
	}
}

func TestLockFileLayout(t *testing.T) {
	dir := t.TempDir()
	path := lockFilePath(dir, "../../etc/passwd")

	rel, err := filepath.Rel(dir, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		t.Fatalf("Lock file %s escapes lock directory %s", path, dir)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 3 {
		t.Fatalf("Expected two cluster levels, got %v", parts)
	}
	if len(parts[0]) != 2 || len(parts[1]) != 2 || !strings.HasSuffix(parts[2], ".lock") {
		t.Errorf("Unexpected lock file layout %v", parts)
	}

	p, _ := NewFileProvider(dir, nil)
	l := p.Lock("../../etc/passwd")
	defer l.Close()
	if ok, _ := l.WriteLock(context.Background(), time.Second); !ok {
		t.Fatal("Expected write lock")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected lock file to exist: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	dir := t.TempDir()

	for _, kind := range []Kind{KindFile, KindLocal, KindNone} {
		p, err := NewProvider(kind, dir, nil)
		if err != nil {
			t.Errorf("NewProvider(%s) failed: %v", kind, err)
			continue
		}
		l := p.Lock("k")
		if ok, err := l.WriteLock(context.Background(), time.Second); !ok || err != nil {
			t.Errorf("Provider %s: expected write lock, got ok=%v err=%v", kind, ok, err)
		}
		_ = l.Close()
	}

	if _, err := NewProvider("bogus", dir, nil); err == nil {
		t.Errorf("Expected error for unknown provider kind")
	}
}

func TestNoopProvider(t *testing.T) {
	p := NewNoopProvider(nil)
	ctx := context.Background()

	a := p.Lock("k")
	b := p.Lock("k")
	if ok, _ := a.WriteLock(ctx, 0); !ok {
		t.Errorf("Expected noop write lock")
	}
	if ok, _ := b.WriteLock(ctx, 0); !ok {
		t.Errorf("Expected second noop write lock to succeed as well")
	}
	_ = a.Close()
	_ = b.Close()
}

func TestHoldingChain(t *testing.T) {
	ctx := context.Background()
	if _, ok := Holding(ctx, "a"); ok {
		t.Errorf("Expected empty context to hold nothing")
	}

	ctx = WithHolding(ctx, "a", ModeRead)
	ctx = WithHolding(ctx, "b", ModeWrite)

	if mode, ok := Holding(ctx, "a"); !ok || mode != ModeRead {
		t.Errorf("Expected a in read mode, got %v %v", mode, ok)
	}
	if mode, ok := Holding(ctx, "b"); !ok || mode != ModeWrite {
		t.Errorf("Expected b in write mode, got %v %v", mode, ok)
	}
	if _, ok := Holding(ctx, "c"); ok {
		t.Errorf("Expected c not to be held")
	}
}

// TestDebugLocks checks that audit logging does not change lock behaviour
func TestDebugLocks(t *testing.T) {
	opts := DefaultOptions()
	opts.Debug = true

	fileProvider, err := NewFileProvider(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("Failed to create file provider: %v", err)
	}
	providers := map[string]ILockProvider{
		"Local": NewLocalProvider(opts),
		"File":  fileProvider,
		"Noop":  NewNoopProvider(opts),
	}

	for name, p := range providers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			l := p.Lock("debug")
			defer l.Close()

			if ok, err := l.ReadLock(ctx, time.Second); !ok || err != nil {
				t.Fatalf("Expected read lock, got ok=%v err=%v", ok, err)
			}
			if err := l.ReadUnlock(); err != nil {
				t.Errorf("ReadUnlock failed: %v", err)
			}
			if ok, err := l.WriteLock(ctx, time.Second); !ok || err != nil {
				t.Fatalf("Expected write lock, got ok=%v err=%v", ok, err)
			}
			if err := l.WriteUnlock(); err != nil {
				t.Errorf("WriteUnlock failed: %v", err)
			}
		})
	}
}
