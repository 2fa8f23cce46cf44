package fstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/fcache/lib/cache"
	cachetesting "github.com/ValentinKolb/fcache/lib/cache/testing"
	"github.com/ValentinKolb/fcache/lib/lockmgr"
	"github.com/ValentinKolb/fcache/lib/pathres"
	"github.com/ValentinKolb/fcache/lib/transform"
)

type user struct {
	Name string `json:"name" cbor:"name"`
}

func newTestCache[T any](t *testing.T, base string, clock func() time.Time) cache.ICache[T] {
	opts := DefaultOptions[T](base)
	if clock != nil {
		opts.Clock = clock
	}
	c, err := New[T](opts)
	if err != nil {
		t.Fatalf("Failed to create cache: %v", err)
	}
	return c
}

func Test(t *testing.T) {
	cachetesting.RunCacheTests(t, "FileStore", func(t *testing.T, clock *cachetesting.ManualClock) cache.ICache[string] {
		return newTestCache[string](t, t.TempDir(), clock.Now)
	})

	for _, name := range []string{"json", "cbor+zstd"} {
		cachetesting.RunCacheTests(t, "FileStore/"+name, func(t *testing.T, clock *cachetesting.ManualClock) cache.ICache[string] {
			tr, err := transform.ByName[string](name)
			if err != nil {
				t.Fatalf("Failed to create transformer: %v", err)
			}
			opts := DefaultOptions[string](t.TempDir())
			opts.Clock = clock.Now
			opts.Transformer = tr
			opts.ClusterDepth = 3
			c, err := New[string](opts)
			if err != nil {
				t.Fatalf("Failed to create cache: %v", err)
			}
			return c
		})
	}

	cachetesting.RunCacheTests(t, "FileStore/LocalLocks", func(t *testing.T, clock *cachetesting.ManualClock) cache.ICache[string] {
		opts := DefaultOptions[string](t.TempDir())
		opts.Clock = clock.Now
		opts.LockKind = lockmgr.KindLocal
		c, err := New[string](opts)
		if err != nil {
			t.Fatalf("Failed to create cache: %v", err)
		}
		return c
	})
}

// TestUsersScenario stores a user, reads it back from the file and lets it expire.
func TestUsersScenario(t *testing.T) {
	base := t.TempDir()
	clock := cachetesting.NewManualClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	c := newTestCache[user](t, base, clock.Now)
	ctx := context.Background()

	if err := c.Set(ctx, "users", "42", user{Name: "Ann"}, 60*time.Second); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	paths, _ := pathres.New(base, nil)
	path := paths.Resolve("users", "42")
	rel, _ := filepath.Rel(base, path)
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 4 || parts[0] != "users" || parts[3] != "42.obj" {
		t.Errorf("Unexpected entry path %s", rel)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("Expected entry file: %v", err)
	}

	var calls int
	cb := func(context.Context) (user, bool, error) {
		calls++
		return user{Name: "Bea"}, true, nil
	}

	got, ok, err := c.GetOrCreate(ctx, "users", "42", 60*time.Second, cb)
	if err != nil || !ok || got.Name != "Ann" || calls != 0 {
		t.Errorf("Expected Ann without callback, got %+v ok=%v err=%v calls=%d", got, ok, err, calls)
	}

	clock.Advance(61 * time.Second)
	got, ok, err = c.GetOrCreate(ctx, "users", "42", 60*time.Second, cb)
	if err != nil || !ok || got.Name != "Bea" || calls != 1 {
		t.Errorf("Expected Bea from callback, got %+v ok=%v err=%v calls=%d", got, ok, err, calls)
	}

	// the new value has been persisted
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read entry: %v", err)
	}
	e, err := transform.NewGOBTransformer[user]().Decode(data)
	if err != nil {
		t.Fatalf("Failed to decode entry: %v", err)
	}
	if e.Value.Name != "Bea" || !e.CreatedAt.Equal(clock.Now()) {
		t.Errorf("Unexpected persisted entry %+v", e)
	}
}

// TestSharedDirectory simulates two processes by two caches on the same
// directory. They only exclude each other through the file locks.
func TestSharedDirectory(t *testing.T) {
	base := t.TempDir()
	a := newTestCache[string](t, base, nil)
	b := newTestCache[string](t, base, nil)
	ctx := context.Background()

	var (
		calls atomic.Int32
		wg    sync.WaitGroup
	)
	create := func(context.Context) (string, bool, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "shared", true, nil
	}

	for i := 0; i < 20; i++ {
		c := a
		if i%2 == 1 {
			c = b
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := c.GetOrCreate(ctx, "g", "hot", time.Minute, create)
			if err != nil || !ok || got != "shared" {
				t.Errorf("Expected shared value, got %q ok=%v err=%v", got, ok, err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly one callback across both caches, got %d", calls.Load())
	}

	if _, err := os.Stat(filepath.Join(base, LockDirName)); err != nil {
		t.Errorf("Expected lock directory: %v", err)
	}
}

// TestSharedDirectoryProcesses starts several copies of the test binary on one
// cache directory. Exactly one of them may run the callback, all of them must
// return its value.
func TestSharedDirectoryProcesses(t *testing.T) {
	if testing.Short() {
		t.Skip("starts child processes")
	}
	base := t.TempDir()
	callLog := filepath.Join(t.TempDir(), "calls.log")

	const workers = 4
	cmds := make([]*exec.Cmd, workers)
	outputs := make([]*bytes.Buffer, workers)
	for i := range cmds {
		cmd := exec.Command(os.Args[0], "-test.run=^TestSharedDirectoryWorker$")
		cmd.Env = append(os.Environ(), "FCACHE_TEST_WORKER_DIR="+base, "FCACHE_TEST_WORKER_LOG="+callLog)
		outputs[i] = &bytes.Buffer{}
		cmd.Stdout = outputs[i]
		cmd.Stderr = outputs[i]
		if err := cmd.Start(); err != nil {
			t.Fatalf("Failed to start worker %d: %v", i, err)
		}
		cmds[i] = cmd
	}

	values := make(map[string]int)
	for i, cmd := range cmds {
		if err := cmd.Wait(); err != nil {
			t.Fatalf("Worker %d failed: %v\n%s", i, err, outputs[i])
		}
		value := ""
		for _, line := range strings.Split(outputs[i].String(), "\n") {
			if v, ok := strings.CutPrefix(line, "value="); ok {
				value = v
			}
		}
		if value == "" {
			t.Fatalf("Worker %d printed no value:\n%s", i, outputs[i])
		}
		values[value]++
	}

	if len(values) != 1 {
		t.Errorf("Expected all workers to return the same value, got %v", values)
	}
	data, err := os.ReadFile(callLog)
	if err != nil {
		t.Fatalf("Failed to read call log: %v", err)
	}
	if calls := strings.Count(string(data), "\n"); calls != 1 {
		t.Errorf("Expected exactly one callback across all processes, got %d", calls)
	}
}

// TestSharedDirectoryWorker is the child process of TestSharedDirectoryProcesses.
func TestSharedDirectoryWorker(t *testing.T) {
	base := os.Getenv("FCACHE_TEST_WORKER_DIR")
	if base == "" {
		t.Skip("only runs as child process")
	}
	callLog := os.Getenv("FCACHE_TEST_WORKER_LOG")

	c := newTestCache[string](t, base, nil)
	create := func(context.Context) (string, bool, error) {
		value := fmt.Sprintf("pid-%d", os.Getpid())
		f, err := os.OpenFile(callLog, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return "", false, err
		}
		defer f.Close()
		if _, err := f.WriteString(value + "\n"); err != nil {
			return "", false, err
		}
		// keep the write lock long enough for the other processes to queue up
		time.Sleep(200 * time.Millisecond)
		return value, true, nil
	}

	got, ok, err := c.GetOrCreate(context.Background(), "g", "hot", time.Minute, create)
	if err != nil || !ok {
		t.Fatalf("GetOrCreate failed: ok=%v err=%v", ok, err)
	}
	fmt.Printf("value=%s\n", got)
}

func TestDecodeFailureIsMiss(t *testing.T) {
	base := t.TempDir()
	c := newTestCache[string](t, base, nil)
	ctx := context.Background()

	paths, _ := pathres.New(base, nil)
	path := paths.Resolve("g", "broken")
	if err := pathres.EnsureDir(path, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not a gob stream"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, ok, err := c.Get(ctx, "g", "broken", time.Minute); ok || err != nil {
		t.Errorf("Expected miss for garbage entry, got ok=%v err=%v", ok, err)
	}

	got, ok, err := c.GetOrCreate(ctx, "g", "broken", time.Minute, func(context.Context) (string, bool, error) {
		return "repaired", true, nil
	})
	if err != nil || !ok || got != "repaired" {
		t.Errorf("Expected repaired value, got %q ok=%v err=%v", got, ok, err)
	}
	if got, _, _ := c.Get(ctx, "g", "broken", time.Minute); got != "repaired" {
		t.Errorf("Expected garbage to be overwritten, got %q", got)
	}
}

func TestPersistFailure(t *testing.T) {
	base := t.TempDir()
	c := newTestCache[string](t, base, nil)
	ctx := context.Background()

	// a file where the group directory should be makes every write fail
	if err := os.WriteFile(filepath.Join(base, "blocked"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	got, ok, err := c.GetOrCreate(ctx, "blocked", "k", time.Minute, func(context.Context) (string, bool, error) {
		return "computed", true, nil
	})
	if err != nil || !ok || got != "computed" {
		t.Errorf("Expected computed value despite persist failure, got %q ok=%v err=%v", got, ok, err)
	}

	if err := c.Set(ctx, "blocked", "k", "v", time.Minute); !errors.Is(err, cache.ErrIOFailure) {
		t.Errorf("Expected ErrIOFailure from Set, got %v", err)
	}
	if err := c.Destroy(ctx, "blocked", "k"); err != nil {
		t.Errorf("Expected Destroy of unreachable entry to succeed, got %v", err)
	}
}

func TestDestroyDoesNotTouchFilesystem(t *testing.T) {
	base := t.TempDir()
	c := newTestCache[string](t, base, nil)

	if err := c.Destroy(context.Background(), "never", "written"); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(base, "never")); !os.IsNotExist(err) {
		t.Errorf("Destroy of a missing entry must not create directories, got %v", err)
	}
}

func TestNoTempFileLeftovers(t *testing.T) {
	base := t.TempDir()
	c := newTestCache[string](t, base, nil)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := c.Set(ctx, "g", "same", strings.Repeat("x", i*100), time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	report, err := Inspect(base, "g", "obj")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if report.Entries != 1 || report.TempFiles != 0 {
		t.Errorf("Expected one entry and no temp files, got %d entries and %d temp files", report.Entries, report.TempFiles)
	}
}

func TestInspect(t *testing.T) {
	base := t.TempDir()
	c := newTestCache[string](t, base, nil)
	ctx := context.Background()

	const n = 2000
	for i := 0; i < n; i++ {
		if err := c.Set(ctx, "many", fmt.Sprintf("key-%d", i), "v", 0); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	report, err := Inspect(base, "many", "obj")
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	if report.Entries != n {
		t.Errorf("Expected %d entries, got %d", n, report.Entries)
	}
	if report.MaxDirEntries > 256 {
		t.Errorf("Expected at most 256 entries per directory, got %d", report.MaxDirEntries)
	}
	if report.Sizes.Count() != n || report.TotalBytes <= 0 {
		t.Errorf("Unexpected size statistics: count=%d total=%d", report.Sizes.Count(), report.TotalBytes)
	}
	if report.LeafDirs < 1000 {
		t.Errorf("Expected entries to spread over many leaf directories, got %d", report.LeafDirs)
	}

	empty, err := Inspect(base, "missing", "obj")
	if err != nil || empty.Entries != 0 {
		t.Errorf("Expected empty report for missing group, got %+v err=%v", empty, err)
	}
}

func TestOptions(t *testing.T) {
	if _, err := New[string](nil); !errors.Is(err, cache.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for nil options, got %v", err)
	}

	opts := DefaultOptions[string](t.TempDir())
	opts.ClusterDepth = 9
	if _, err := New[string](opts); !errors.Is(err, cache.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for invalid depth, got %v", err)
	}

	opts = DefaultOptions[string](t.TempDir())
	opts.Extension = "tmp"
	if _, err := New[string](opts); !errors.Is(err, cache.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument for reserved extension, got %v", err)
	}

	opts = DefaultOptions[string](t.TempDir())
	opts.LockKind = "bogus"
	if _, err := New[string](opts); err == nil {
		t.Errorf("Expected error for unknown lock kind")
	}
}
