package db

import (
	"sort"
	"sync/atomic"

	"github.com/Borislavv/go-hotlru-cache/internal/shared/pad"
)

// adaptiveState carries the per-shard controller counters. The fast path
// updates the first group under the shared hot lock, so those cells are
// atomic and cacheline padded; the virtual counters are only touched under
// the shard mutex.
type adaptiveState struct {
	// active gates the fast path for this shard.
	active pad.AtomicBool

	totalHit pad.AtomicInt64 // fast-path probes of the hot index
	noHit    pad.AtomicInt64 // fast-path probes that missed
	nSupple  pad.AtomicInt64 // dynamic deactivation threshold

	// hitRate and the medians are published for sibling shards' decisions.
	hitRate     atomic.Int64
	skipMedian  atomic.Int64
	flushMedian atomic.Int64

	// Slow-path sampling, guarded by the shard mutex.
	virtualTotalHit int64 // slow-path hits
	virtualNoHit    int64 // slow-path hits that the hot index would have missed
	n               int64 // hits since the last decision
}

// recordSlowPathHit samples what the fast path would have yielded and, every
// SampleLimit hits, re-evaluates this shard's hot index. Called on every
// slow-path hit with the shard mutex held; e is the entry just hit.
func (s *shard) recordSlowPathHit(e *Entry) {
	s.adp.virtualTotalHit++
	if !e.InHotIndex() {
		s.adp.virtualNoHit++
	}

	s.adp.n++
	if s.adp.n <= s.cache.nLimit {
		return
	}

	s.rw.Lock()
	if s.adp.n > s.cache.nLimit {
		s.adp.n = 0
		s.adaptLocked(e)
	}
	s.rw.Unlock()
}

// adaptLocked runs one controller decision. Requires the shard mutex and
// the exclusive hot lock.
func (s *shard) adaptLocked(e *Entry) {
	c := s.cache

	// Hit rate over the window, from whichever path saw more traffic.
	totalHit, noHit := s.adp.totalHit.Load(), s.adp.noHit.Load()
	var hitRate int64
	if totalHit > s.adp.virtualTotalHit {
		hitRate = 100 - noHit*100/totalHit
	} else {
		hitRate = 100 - s.adp.virtualNoHit*100/s.adp.virtualTotalHit
	}
	s.adp.hitRate.Store(hitRate)

	// Percentiles over all shards' rates. Adding the raw percentile and
	// halving keeps skipping alive even when every shard runs cold.
	rates := make([]int, len(c.shards))
	for i := range c.shards {
		rates[i] = int(c.shards[i].adp.hitRate.Load())
	}
	sort.Ints(rates)
	last := len(rates) - 1
	skipMedian := int64((rates[last*c.activatePctl/100] + c.activatePctl) / 2)
	flushMedian := int64((rates[last*c.flushPctl/100] + c.flushPctl) / 2)
	s.adp.skipMedian.Store(skipMedian)
	s.adp.flushMedian.Store(flushMedian)

	// Average the medians across shards: cheaper than per-shard smoothing
	// and less noisy under unstable workloads.
	var avgSkip, avgFlush int64
	for i := range c.shards {
		avgSkip += c.shards[i].adp.skipMedian.Load()
		avgFlush += c.shards[i].adp.flushMedian.Load()
	}
	avgSkip /= int64(len(c.shards))
	avgFlush /= int64(len(c.shards))
	s.adp.nSupple.Store(c.nLimit * avgSkip / 100)

	// A sustained hit-rate drop sends the whole index back to the LRU.
	// Entries with outstanding fast-path references stay behind.
	if c.flushPctl != 0 && hitRate < avgFlush {
		flushed := 0
		for {
			evicted := s.hot.evictFIFO()
			if evicted == nil {
				break
			}
			s.relinkEvicted(evicted)
			flushed++
		}
		if flushed > 0 {
			c.counters.FullFlushes.Add(1)
		}
	}

	// Promote the just-hit entry, then refill from the MRU end until the
	// index refuses or the LRU drains.
	if _, evicted, _ := s.hot.insert(e); evicted != nil {
		s.relinkEvicted(evicted)
	}
	for !s.hot.isFull() && s.lru.next != &s.lru {
		mru := s.lru.prev
		_, evicted, ok := s.hot.insert(mru)
		if evicted != nil {
			s.relinkEvicted(evicted)
		}
		if !ok {
			break
		}
		s.lruRemove(mru)
	}

	// Re-engage the fast path when this shard outruns the fleet. A decision
	// never disengages it; only the fast path's own miss count does.
	if hitRate > avgSkip {
		s.adp.active.Store(true)
	}

	s.adp.totalHit.Store(0)
	s.adp.noHit.Store(0)
	s.adp.virtualTotalHit = 0
	s.adp.virtualNoHit = 0
}

// relinkEvicted puts an entry the hot index released back where it belongs:
// the LRU when nobody holds it, otherwise nowhere (the reconciled refcount
// now tracks the external holders and the final Release re-links it).
// Requires the shard mutex.
func (s *shard) relinkEvicted(e *Entry) {
	if !e.hasRefs() && e.InCache() {
		s.lruInsert(e)
	}
}
