package telemetry

import (
	"github.com/Borislavv/go-hotlru-cache/internal/cache"
)

type sampler struct {
	cache cache.Cacher
}

func newSampler(c cache.Cacher) sampler {
	return sampler{cache: c}
}

// snapshot holds cumulative counters (monotonic).
type snapshot struct {
	hits   uint64
	misses uint64

	hotHits   uint64
	hotMisses uint64

	evictedFromLRU uint64
	hotEvicted     uint64
	fullFlushes    uint64
	secondaryHits  uint64
}

func (s sampler) snapshot() snapshot {
	st := s.cache.Stats()
	return snapshot{
		hits:   uint64(max(st.Hits, 0)),
		misses: uint64(max(st.Misses, 0)),

		hotHits:   uint64(max(st.HotHits, 0)),
		hotMisses: uint64(max(st.HotMisses, 0)),

		evictedFromLRU: uint64(max(st.EvictedFromLRU, 0)),
		hotEvicted:     uint64(max(st.HotEvicted, 0)),
		fullFlushes:    uint64(max(st.FullFlushes, 0)),
		secondaryHits:  uint64(max(st.SecondaryHits, 0)),
	}
}

// deltaSnapshot converts cumulative snapshots to per-interval deltas.
// If counters reset (cur < prev), it treats cur as the delta.
func deltaSnapshot(prev, cur snapshot) snapshot {
	return snapshot{
		hits:   delta(prev.hits, cur.hits),
		misses: delta(prev.misses, cur.misses),

		hotHits:   delta(prev.hotHits, cur.hotHits),
		hotMisses: delta(prev.hotMisses, cur.hotMisses),

		evictedFromLRU: delta(prev.evictedFromLRU, cur.evictedFromLRU),
		hotEvicted:     delta(prev.hotEvicted, cur.hotEvicted),
		fullFlushes:    delta(prev.fullFlushes, cur.fullFlushes),
		secondaryHits:  delta(prev.secondaryHits, cur.secondaryHits),
	}
}

func delta(prev, cur uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	return cur
}
