// Package testing provides a standardised test suite for cache back-ends that
// satisfy the cache.ICache interface.
//
// The suite checks the contract every back-end has to fulfil: round trips,
// lazy expiry, idempotent destroy, suppression of missing values, stampede
// avoidance, isolation of identities and nested lock refusal.
//
// Example usage:
//
//	func Test(t *testing.T) {
//		cachetesting.RunCacheTests(t, "MyBackend", func(t *testing.T, clock *cachetesting.ManualClock) cache.ICache[string] {
//			opts := cache.DefaultOptions()
//			opts.Clock = clock.Now
//			return cache.New[string](NewMyBackend(), opts)
//		})
//	}
package testing
