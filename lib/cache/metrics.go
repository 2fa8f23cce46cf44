package cache

import (
	"fmt"
	"io"

	"github.com/VictoriaMetrics/metrics"
)

// cacheMetrics are the counters of one back-end. Counters are registered in
// the global VictoriaMetrics set, caches with the same back-end share them.
type cacheMetrics struct {
	hits          *metrics.Counter
	misses        *metrics.Counter
	creates       *metrics.Counter
	lockTimeouts  *metrics.Counter
	loadErrors    *metrics.Counter
	decodeErrors  *metrics.Counter
	persistErrors *metrics.Counter
}

func newCacheMetrics(backend string) *cacheMetrics {
	counter := func(name string) *metrics.Counter {
		return metrics.GetOrCreateCounter(fmt.Sprintf(`fcache_%s_total{backend=%q}`, name, backend))
	}
	return &cacheMetrics{
		hits:          counter("hits"),
		misses:        counter("misses"),
		creates:       counter("creates"),
		lockTimeouts:  counter("lock_timeouts"),
		loadErrors:    counter("load_errors"),
		decodeErrors:  counter("decode_errors"),
		persistErrors: counter("persist_errors"),
	}
}

// Counters is a snapshot of the counters of a back-end
type Counters struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Creates       uint64 `json:"creates"`
	LockTimeouts  uint64 `json:"lock_timeouts"`
	LoadErrors    uint64 `json:"load_errors"`
	DecodeErrors  uint64 `json:"decode_errors"`
	PersistErrors uint64 `json:"persist_errors"`
}

// ReadCounters returns the current counters of all caches using the named back-end.
func ReadCounters(backend string) Counters {
	m := newCacheMetrics(backend)
	return Counters{
		Hits:          m.hits.Get(),
		Misses:        m.misses.Get(),
		Creates:       m.creates.Get(),
		LockTimeouts:  m.lockTimeouts.Get(),
		LoadErrors:    m.loadErrors.Get(),
		DecodeErrors:  m.decodeErrors.Get(),
		PersistErrors: m.persistErrors.Get(),
	}
}

// WriteMetrics writes all cache metrics in Prometheus text format to w.
func WriteMetrics(w io.Writer) {
	metrics.WritePrometheus(w, false)
}
