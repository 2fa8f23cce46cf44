package testing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/fcache/lib/cache"
)

// CacheFactory creates a new, empty cache instance. The cache must read the
// current time from clock.
type CacheFactory func(t *testing.T, clock *ManualClock) cache.ICache[string]

// ManualClock is a clock for tests that only moves when told to
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewManualClock creates a clock starting at start
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

// Now returns the current time of the clock
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// RunCacheTests runs a comprehensive test suite for an ICache implementation.
func RunCacheTests(t *testing.T, name string, factory CacheFactory) {
	t.Run(name, func(t *testing.T) {
		run := func(name string, test func(t *testing.T, c cache.ICache[string], clock *ManualClock)) {
			t.Run(name, func(t *testing.T) {
				clock := NewManualClock(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC))
				test(t, factory(t, clock), clock)
			})
		}

		run("RoundTrip", testRoundTrip)
		run("Expiry", testExpiry)
		run("ZeroTTL", testZeroTTL)
		run("Get", testGet)
		run("IdempotentDestroy", testIdempotentDestroy)
		run("NullSuppression", testNullSuppression)
		run("CallbackError", testCallbackError)
		run("NilCallback", testNilCallback)
		run("StampedeAvoidance", testStampedeAvoidance)
		run("Isolation", testIsolation)
		run("AmbiguousIdentities", testAmbiguousIdentities)
		run("NestedLock", testNestedLock)
		run("CallbackPanic", testCallbackPanic)
		run("RealisticUsage", testRealisticUsage)
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// creator returns a callback yielding value and the number of its invocations
func creator(value string) (cache.CreateFunc[string], *atomic.Int32) {
	calls := &atomic.Int32{}
	return func(context.Context) (string, bool, error) {
		calls.Add(1)
		return value, true, nil
	}, calls
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testRoundTrip(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	values := []string{"value", "", "with\nnewline", "ünïcödé", string(make([]byte, 64*1024))}
	for i, v := range values {
		key := fmt.Sprintf("key-%d", i)
		if err := c.Set(ctx, "group", key, v, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		create, calls := creator("other")
		got, ok, err := c.GetOrCreate(ctx, "group", key, time.Minute, create)
		if err != nil || !ok {
			t.Errorf("Expected hit for %s, got ok=%v err=%v", key, ok, err)
		}
		if got != v {
			t.Errorf("Expected value %q, got %q", v, got)
		}
		if calls.Load() != 0 {
			t.Errorf("Callback must not be called on a hit")
		}
	}

	// overwrite
	if err := c.Set(ctx, "group", "key-0", "updated", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if got, _, _ := c.Get(ctx, "group", "key-0", time.Minute); got != "updated" {
		t.Errorf("Expected updated value, got %q", got)
	}
}

func testExpiry(t *testing.T, c cache.ICache[string], clock *ManualClock) {
	ctx := context.Background()

	if err := c.Set(ctx, "g", "k", "old", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// exactly at the ttl the entry is still live
	clock.Advance(time.Minute)
	create, calls := creator("new")
	got, ok, err := c.GetOrCreate(ctx, "g", "k", time.Minute, create)
	if err != nil || !ok || got != "old" || calls.Load() != 0 {
		t.Errorf("Expected live entry at ttl boundary, got %q ok=%v err=%v calls=%d", got, ok, err, calls.Load())
	}

	clock.Advance(time.Second)
	got, ok, err = c.GetOrCreate(ctx, "g", "k", time.Minute, create)
	if err != nil || !ok || got != "new" {
		t.Errorf("Expected recreated value, got %q ok=%v err=%v", got, ok, err)
	}
	if calls.Load() != 1 {
		t.Errorf("Expected callback to be called once for an expired entry, got %d", calls.Load())
	}

	// the recreated entry has a fresh creation time
	clock.Advance(30 * time.Second)
	got, _, _ = c.GetOrCreate(ctx, "g", "k", time.Minute, create)
	if got != "new" || calls.Load() != 1 {
		t.Errorf("Expected recreated entry to be live, got %q calls=%d", got, calls.Load())
	}

	// a shorter ttl of the reader expires the entry earlier
	if _, ok, _ := c.Get(ctx, "g", "k", 10*time.Second); ok {
		t.Errorf("Expected entry to be expired for a shorter ttl")
	}
}

func testZeroTTL(t *testing.T, c cache.ICache[string], clock *ManualClock) {
	ctx := context.Background()

	if err := c.Set(ctx, "g", "zero", "old", 0); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// live only while the clock stands still
	if got, ok, err := c.Get(ctx, "g", "zero", 0); !ok || err != nil || got != "old" {
		t.Errorf("Expected entry to be live in its creation instant, got %q ok=%v err=%v", got, ok, err)
	}

	clock.Advance(time.Hour)
	if _, ok, err := c.Get(ctx, "g", "zero", 0); ok || err != nil {
		t.Errorf("Expected entry with ttl 0 to be expired, got ok=%v err=%v", ok, err)
	}

	create, calls := creator("new")
	got, ok, err := c.GetOrCreate(ctx, "g", "zero", 0, create)
	if err != nil || !ok || got != "new" || calls.Load() != 1 {
		t.Errorf("Expected recreated value, got %q ok=%v err=%v calls=%d", got, ok, err, calls.Load())
	}

	// a negative ttl expires every entry at once
	clock.Advance(time.Nanosecond)
	if _, ok, _ := c.Get(ctx, "g", "zero", -time.Second); ok {
		t.Errorf("Expected entry to be expired for a negative ttl")
	}
}

func testGet(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	if _, ok, err := c.Get(ctx, "g", "missing", time.Minute); ok || err != nil {
		t.Errorf("Expected miss without error, got ok=%v err=%v", ok, err)
	}

	// Get never creates anything
	if _, ok, _ := c.Get(ctx, "g", "missing", time.Minute); ok {
		t.Errorf("Get must not create entries")
	}
}

func testIdempotentDestroy(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	if err := c.Set(ctx, "g", "k", "v", time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if err := c.Destroy(ctx, "g", "k"); err != nil {
		t.Errorf("First Destroy failed: %v", err)
	}
	if err := c.Destroy(ctx, "g", "k"); err != nil {
		t.Errorf("Second Destroy failed: %v", err)
	}
	if err := c.Destroy(ctx, "never", "existed"); err != nil {
		t.Errorf("Destroy of missing entry failed: %v", err)
	}

	create, calls := creator("fresh")
	if got, _, _ := c.GetOrCreate(ctx, "g", "k", time.Minute, create); got != "fresh" || calls.Load() != 1 {
		t.Errorf("Expected destroyed entry to be recreated, got %q calls=%d", got, calls.Load())
	}
}

func testNullSuppression(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	var calls atomic.Int32
	none := func(context.Context) (string, bool, error) {
		calls.Add(1)
		return "", false, nil
	}

	for i := 0; i < 2; i++ {
		_, ok, err := c.GetOrCreate(ctx, "g", "null", time.Minute, none)
		if ok || err != nil {
			t.Errorf("Expected no value without error, got ok=%v err=%v", ok, err)
		}
	}
	if calls.Load() != 2 {
		t.Errorf("Expected callback to be called on every request, got %d calls", calls.Load())
	}
	if _, ok, _ := c.Get(ctx, "g", "null", time.Minute); ok {
		t.Errorf("A missing value must not be cached")
	}
}

func testCallbackError(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	boom := errors.New("boom")
	_, ok, err := c.GetOrCreate(ctx, "g", "err", time.Minute, func(context.Context) (string, bool, error) {
		return "ignored", true, boom
	})
	if ok || !errors.Is(err, boom) {
		t.Errorf("Expected callback error to be returned, got ok=%v err=%v", ok, err)
	}
	if _, ok, _ := c.Get(ctx, "g", "err", time.Minute); ok {
		t.Errorf("Nothing must be cached after a callback error")
	}
}

func testNilCallback(t *testing.T, c cache.ICache[string], _ *ManualClock) {

	_, ok, err := c.GetOrCreate(context.Background(), "g", "k", time.Minute, nil)
	if ok || !errors.Is(err, cache.ErrInvalidArgument) {
		t.Errorf("Expected ErrInvalidArgument, got ok=%v err=%v", ok, err)
	}
}

func testStampedeAvoidance(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	const n = 50
	var (
		calls atomic.Int32
		start = make(chan struct{})
		wg    sync.WaitGroup
	)
	create := func(context.Context) (string, bool, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return "expensive", true, nil
	}

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			got, ok, err := c.GetOrCreate(ctx, "g", "hot", time.Minute, create)
			if err != nil || !ok || got != "expensive" {
				t.Errorf("Expected expensive value, got %q ok=%v err=%v", got, ok, err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("Expected exactly one callback invocation, got %d", calls.Load())
	}
}

func testIsolation(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	entered := make(chan struct{})
	releaseSlow := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = c.GetOrCreate(ctx, "g", "slow", time.Minute, func(context.Context) (string, bool, error) {
			close(entered)
			<-releaseSlow
			return "slow", true, nil
		})
	}()
	<-entered

	// the slow identity holds its write lock, other identities are unaffected
	startTime := time.Now()
	create, _ := creator("fast")
	got, ok, err := c.GetOrCreate(ctx, "g", "fast", time.Minute, create)
	if err != nil || !ok || got != "fast" {
		t.Errorf("Expected fast value, got %q ok=%v err=%v", got, ok, err)
	}
	if err := c.Set(ctx, "other", "slow", "x", time.Minute); err != nil {
		t.Errorf("Set on other group failed: %v", err)
	}
	if elapsed := time.Since(startTime); elapsed > time.Second {
		t.Errorf("Operations on other identities were blocked for %v", elapsed)
	}

	close(releaseSlow)
	<-done

	if got, _, _ := c.Get(ctx, "g", "slow", time.Minute); got != "slow" {
		t.Errorf("Expected slow value, got %q", got)
	}
	if got, _, _ := c.Get(ctx, "other", "slow", time.Minute); got != "x" {
		t.Errorf("Expected groups to be separated, got %q", got)
	}
}

func testAmbiguousIdentities(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	pairs := [][2]string{
		{"ab", "c"}, {"a", "bc"},
		{"a/b", "c"}, {"a", "b/c"},
		{"", "x"}, {"x", ""},
		{".", "."}, {"..", ".."},
	}
	for _, p := range pairs {
		if err := c.Set(ctx, p[0], p[1], p[0]+"|"+p[1], time.Minute); err != nil {
			t.Fatalf("Set(%q, %q) failed: %v", p[0], p[1], err)
		}
	}
	for _, p := range pairs {
		got, ok, err := c.Get(ctx, p[0], p[1], time.Minute)
		if err != nil || !ok || got != p[0]+"|"+p[1] {
			t.Errorf("Get(%q, %q) = %q ok=%v err=%v", p[0], p[1], got, ok, err)
		}
	}
}

func testNestedLock(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	var innerErr error
	got, ok, err := c.GetOrCreate(ctx, "g", "nested", time.Minute, func(ctx context.Context) (string, bool, error) {
		_, _, innerErr = c.GetOrCreate(ctx, "g", "nested", time.Minute, func(context.Context) (string, bool, error) {
			return "inner", true, nil
		})
		return "outer", true, nil
	})

	if !errors.Is(innerErr, cache.ErrNestedLock) {
		t.Errorf("Expected nested request to be refused with ErrNestedLock, got %v", innerErr)
	}
	if err != nil || !ok || got != "outer" {
		t.Errorf("Expected outer value, got %q ok=%v err=%v", got, ok, err)
	}
}

func testCallbackPanic(t *testing.T, c cache.ICache[string], _ *ManualClock) {
	ctx := context.Background()

	func() {
		defer func() {
			if recover() == nil {
				t.Errorf("Expected callback panic to propagate")
			}
		}()
		_, _, _ = c.GetOrCreate(ctx, "g", "panic", time.Minute, func(context.Context) (string, bool, error) {
			panic("callback failure")
		})
	}()

	// the lock must have been released
	create, _ := creator("recovered")
	got, ok, err := c.GetOrCreate(ctx, "g", "panic", time.Minute, create)
	if err != nil || !ok || got != "recovered" {
		t.Errorf("Expected lock to be released after panic, got %q ok=%v err=%v", got, ok, err)
	}
}

func testRealisticUsage(t *testing.T, c cache.ICache[string], clock *ManualClock) {
	ctx := context.Background()

	const (
		workers = 8
		keys    = 20
		rounds  = 50
	)

	var (
		calls [keys]atomic.Int32
		wg    sync.WaitGroup
	)

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for r := 0; r < rounds; r++ {
				k := (w*rounds + r) % keys
				key := fmt.Sprintf("key-%d", k)
				switch r % 10 {
				case 9:
					if err := c.Destroy(ctx, "mixed", key); err != nil {
						t.Errorf("Destroy failed: %v", err)
					}
				default:
					got, ok, err := c.GetOrCreate(ctx, "mixed", key, time.Hour, func(context.Context) (string, bool, error) {
						calls[k].Add(1)
						return "value-" + key, true, nil
					})
					if err != nil || !ok || got != "value-"+key {
						t.Errorf("GetOrCreate(%s) = %q ok=%v err=%v", key, got, ok, err)
					}
				}
			}
		}(w)
	}
	wg.Wait()

	for k := range calls {
		if calls[k].Load() == 0 {
			continue
		}
		key := fmt.Sprintf("key-%d", k)
		if got, ok, _ := c.Get(ctx, "mixed", key, time.Hour); ok && got != "value-"+key {
			t.Errorf("Unexpected value %q for %s", got, key)
		}
	}

	clock.Advance(2 * time.Hour)
	for k := 0; k < keys; k++ {
		if _, ok, _ := c.Get(ctx, "mixed", fmt.Sprintf("key-%d", k), time.Hour); ok {
			t.Errorf("Expected key-%d to be expired", k)
		}
	}
}
