package db

import (
	"sync"

	"github.com/Borislavv/go-hotlru-cache/internal/shared/pad"
)

// shard is one independent segment of the cache: an authoritative primary
// table, an LRU list with priority pools, and an optional bounded hot index
// consulted under a shared lock.
//
// Lock order is mu before rw, always. The fast path takes only rw (shared);
// every path that needs both takes mu first.
type shard struct {
	mu sync.Mutex
	rw sync.RWMutex // guards the hot index

	capacity            int64
	strictCapacityLimit bool
	highPriPoolRatio    float64
	highPriPoolCapacity int64
	highPriPoolUsage    int64

	usage    int64 // total charge of entries accounted to this shard
	lruUsage int64 // charge of LRU-resident entries

	// Circular LRU list: lru.next is the eviction end, lru.prev the MRU end.
	lru       Entry
	lruLowPri *Entry

	table *handleTable
	hot   *hotIndex // nil when the hot index is disabled

	adp adaptiveState

	cache *ShardedCache

	_ pad.CacheLinePad
}

func (s *shard) init(c *ShardedCache, capacity int64, maxUpperHashBits int, strict bool, highPriPoolRatio float64) {
	s.cache = c
	s.strictCapacityLimit = strict
	s.highPriPoolRatio = highPriPoolRatio
	s.table = newHandleTable(maxUpperHashBits)
	if c.hotCfg != nil {
		s.hot = newHotIndex(c.hotCfg.BitLength, c.hotCfg.Workers, &c.counters)
	}
	s.lru.next = &s.lru
	s.lru.prev = &s.lru
	s.lruLowPri = &s.lru
	s.capacity = capacity
	s.highPriPoolCapacity = int64(float64(capacity) * highPriPoolRatio)
}

// Insert allocates the entry outside the mutex and runs the insert state
// machine. With retain=true the new entry is handed back referenced.
func (s *shard) Insert(key []byte, hash uint32, value any, charge int64, deleter DeleterFn, helper *ItemHelper, pri Priority, retain bool) (*Entry, Status) {
	e := newEntry(key, hash, value, charge, deleter, helper, pri)
	return s.insertEntry(e, retain, true)
}

func (s *shard) insertEntry(e *Entry, retain, freeOnFail bool) (*Entry, Status) {
	var (
		handle  *Entry
		victims []*Entry
	)
	st := StatusOk
	totalCharge := e.totalCharge(s.cache.metaPolicy)

	s.mu.Lock()
	// Free space following strict LRU order until the entry fits or the
	// list drains.
	s.evictFromLRU(totalCharge, &victims)

	if s.usage+totalCharge > s.capacity && (s.strictCapacityLimit || !retain) {
		e.setInCache(false)
		if !retain {
			// No handle requested: report success as if the entry was
			// inserted and evicted immediately.
			victims = append(victims, e)
		} else {
			st = StatusIncomplete
		}
	} else {
		// The cache may grow past capacity here when eviction could not
		// free enough space.
		old := s.table.Insert(e)
		s.usage += totalCharge
		if old != nil {
			st = StatusOkOverwritten
			s.cache.counters.Overwrites.Add(1)
			old.setInCache(false)
			if s.hot != nil && old.InHotIndex() {
				s.rw.Lock()
				if old.InHotIndex() {
					// Swap the new entry in so the hot index keeps serving
					// the key; the swap reconciles old's tally row.
					s.hot.replace(old, e)
					s.cache.counters.HotInvalidated.Add(1)
				}
				s.rw.Unlock()
			}
			if !old.hasRefs() {
				// old was on the LRU (in cache, no references).
				s.lruRemove(old)
				s.usage -= old.totalCharge(s.cache.metaPolicy)
				victims = append(victims, old)
			}
		}
		if retain {
			if !e.InHotIndex() {
				e.ref()
			}
			handle = e
		} else if !e.InHotIndex() {
			s.lruInsert(e)
		}
	}
	s.mu.Unlock()

	s.flushVictims(victims)
	if st == StatusIncomplete && freeOnFail {
		e.free()
	}
	return handle, st
}

// Lookup resolves a key. The fast path answers from the hot index under the
// shared lock; the slow path consults the primary table under the mutex and
// feeds the adaptive controller. On a miss the secondary tier is consulted
// outside all locks.
func (s *shard) Lookup(key []byte, hash uint32, helper *ItemHelper, create CreateCallback, pri Priority, wait bool) *Entry {
	c := s.cache

	if s.hot != nil {
		// Negative filter: a key absent from the primary table cannot be in
		// the bounded hot index, so misses skip every lock. The lock-free
		// probe may spuriously miss during a rehash; that only costs the
		// caller a refetch.
		if s.table.Probe(key, hash) == nil {
			c.counters.Misses.Add(1)
			return s.lookupSecondary(key, hash, helper, create, pri, wait)
		}
		if s.adp.active.Load() || c.activatePctl == 100 {
			s.rw.RLock()
			he := s.hot.lookup(key, hash, c.myTID())
			s.adp.totalHit.Add(1)
			if he != nil {
				s.rw.RUnlock()
				c.counters.Hits.Add(1)
				c.counters.HotHits.Add(1)
				return he
			}
			c.counters.HotMisses.Add(1)
			noHit := s.adp.noHit.Add(1)
			if c.activatePctl != 100 && noHit > s.adp.nSupple.Load() {
				// Too many hot misses means a near-uniform workload; stand
				// down until the next controller decision.
				s.adp.active.Store(false)
			}
			s.rw.RUnlock()
		}
	}

	s.mu.Lock()
	e := s.table.Lookup(key, hash)
	if e != nil {
		// Hot entries are never on the LRU; lruRemove no-ops for them.
		s.lruRemove(e)
		if !e.InHotIndex() {
			e.ref()
			e.setInHighPriPool(false)
		}
		e.setHit()
		if s.hot != nil {
			s.recordSlowPathHit(e)
		}
	}
	s.mu.Unlock()

	if e != nil {
		c.counters.Hits.Add(1)
		return e
	}
	c.counters.Misses.Add(1)
	return s.lookupSecondary(key, hash, helper, create, pri, wait)
}

// lookupSecondary consults the overflow tier and wraps a result into a
// fresh referenced entry. With wait=true the entry is promoted into the
// cache immediately; otherwise it comes back pending for WaitAll.
func (s *shard) lookupSecondary(key []byte, hash uint32, helper *ItemHelper, create CreateCallback, pri Priority, wait bool) *Entry {
	c := s.cache
	if c.secondary == nil || helper == nil || helper.SaveTo == nil || create == nil {
		return nil
	}
	rh := c.secondary.Lookup(key, create, wait)
	if rh == nil {
		return nil
	}

	e := newEntry(key, hash, nil, 0, nil, helper, pri)
	e.setInCache(false) // resident only after Promote
	e.secHandle = rh
	e.ref() // not yet shared, no lock needed

	if wait {
		s.Promote(e)
		if e.value == nil {
			// The secondary tier returned a handle but the load failed.
			e.refs = 0
			e.free()
			return nil
		}
		c.counters.SecondaryHits.Add(1)
	} else {
		e.setIncomplete(true)
		e.setPending(true)
		c.counters.SecondaryHits.Add(1)
	}
	return e
}

// Promote charges a completed secondary-cache load into the cache. The
// caller keeps its reference either way; on StatusIncomplete the value
// stays usable in memory, just not accounted against the capacity.
func (s *shard) Promote(e *Entry) {
	rh := e.secHandle
	if rh == nil {
		return
	}
	if !rh.IsReady() {
		rh.Wait()
	}
	e.secHandle = nil
	e.setIncomplete(false)
	e.setPending(false)
	e.setInCache(true)
	e.setPromoted(true)
	e.value = rh.Value()
	e.charge = rh.Size()

	if e.value == nil {
		// The load failed; keep only the uncharged husk until the caller
		// releases it.
		s.mu.Lock()
		e.charge = 0
		e.setInCache(false)
		s.mu.Unlock()
		return
	}

	if _, st := s.insertEntry(e, true, false); st.OK() {
		// insertEntry took its own reference unless the entry landed in the
		// hot index; drop ours so only the caller's remains.
		s.mu.Lock()
		if !e.InHotIndex() {
			e.unref()
		}
		s.mu.Unlock()
	}
}

// Ref adds a reference to an already referenced handle.
func (s *shard) Ref(e *Entry) bool {
	if e == nil {
		return false
	}
	if s.hot != nil && e.InHotIndex() {
		s.hot.ref(e, s.cache.myTID())
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hot != nil && e.InHotIndex() {
		s.hot.ref(e, s.cache.myTID())
		return true
	}
	if !e.hasRefs() {
		return false
	}
	e.ref()
	return true
}

// Release drops one reference. Returns true iff this call freed the entry.
// Hot entries are never freed here: the drop lands in the tally matrix and
// is reclaimed when the entry leaves the hot index.
func (s *shard) Release(e *Entry, forceErase bool) bool {
	if e == nil {
		return false
	}
	c := s.cache
	if s.hot != nil && e.InHotIndex() {
		s.hot.unref(e, c.myTID())
		return true
	}

	lastRef := false
	s.mu.Lock()
	if s.hot != nil && e.InHotIndex() {
		// Promoted between the flag check and the lock; under the mutex the
		// flag is stable.
		s.hot.unref(e, c.myTID())
		s.mu.Unlock()
		return true
	}

	lastRef = e.unref()
	if lastRef && e.InCache() {
		if s.usage > s.capacity || forceErase {
			// Take the opportunity and drop the entry instead of parking it
			// on the LRU.
			s.table.Remove(e.key, e.hash)
			e.setInCache(false)
		} else {
			s.lruInsert(e)
			lastRef = false
		}
	}
	// A secondary-compatible entry with a nil value was never charged.
	if lastRef && (!e.IsSecondaryCompatible() || e.value != nil) {
		s.usage -= e.totalCharge(c.metaPolicy)
	}
	s.mu.Unlock()

	if lastRef {
		e.free()
	}
	return lastRef
}

// Erase drops the key from every index. Entries with outstanding references
// become tombstones freed by their final Release.
func (s *shard) Erase(key []byte, hash uint32) {
	lastRef := false
	s.mu.Lock()
	e := s.table.Remove(key, hash)
	if e != nil {
		tc := e.totalCharge(s.cache.metaPolicy)
		e.setInCache(false)
		wasHot := false
		if s.hot != nil && e.InHotIndex() {
			s.rw.Lock()
			if e.InHotIndex() {
				wasHot = true
				s.hot.remove(e.key, e.hash, true)
				s.cache.counters.HotInvalidated.Add(1)
				if !e.hasRefs() {
					s.usage -= tc
					lastRef = true
				}
			}
			s.rw.Unlock()
		}
		if !wasHot && !e.hasRefs() {
			// In cache with no external references means on the LRU.
			s.lruRemove(e)
			s.usage -= tc
			lastRef = true
		}
	}
	s.mu.Unlock()

	if lastRef {
		e.free()
	}
}

// EraseUnRefEntries drains the whole LRU.
func (s *shard) EraseUnRefEntries() {
	var victims []*Entry
	s.mu.Lock()
	for s.lru.next != &s.lru {
		old := s.lru.next
		s.lruRemove(old)
		s.table.Remove(old.key, old.hash)
		if s.hot != nil && old.InHotIndex() {
			s.rw.Lock()
			if old.InHotIndex() {
				s.hot.remove(old.key, old.hash, true)
				s.cache.counters.HotInvalidated.Add(1)
			}
			s.rw.Unlock()
		}
		old.setInCache(false)
		s.usage -= old.totalCharge(s.cache.metaPolicy)
		victims = append(victims, old)
	}
	s.mu.Unlock()

	for _, e := range victims {
		e.free()
	}
}

// SetCapacity rebudgets the shard and evicts down to the new limit.
func (s *shard) SetCapacity(capacity int64) {
	var victims []*Entry
	s.mu.Lock()
	s.capacity = capacity
	s.highPriPoolCapacity = int64(float64(capacity) * s.highPriPoolRatio)
	s.evictFromLRU(0, &victims)
	s.mu.Unlock()
	s.flushVictims(victims)
}

func (s *shard) SetStrictCapacityLimit(strict bool) {
	s.mu.Lock()
	s.strictCapacityLimit = strict
	s.mu.Unlock()
}

func (s *shard) SetHighPriPoolRatio(ratio float64) {
	s.mu.Lock()
	s.highPriPoolRatio = ratio
	s.highPriPoolCapacity = int64(float64(s.capacity) * ratio)
	s.maintainPoolSize()
	s.mu.Unlock()
}

func (s *shard) Usage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// PinnedUsage is the charge held by entries that cannot be evicted right
// now: externally referenced ones and everything in the hot index.
func (s *shard) PinnedUsage() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage - s.lruUsage
}

func (s *shard) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Len()
}

func (s *shard) HotLen() int {
	if s.hot == nil {
		return 0
	}
	s.rw.RLock()
	defer s.rw.RUnlock()
	return s.hot.elems
}

// applyToEntriesRange visits entries in bucket range [begin, end) under the
// mutex. Callbacks must be lightweight.
func (s *shard) applyToEntriesRange(fn func(key []byte, value any, charge int64, deleter DeleterFn), begin, end uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.walkRange(func(e *Entry) {
		fn(e.key, e.value, e.charge, e.Deleter())
	}, begin, end)
}

// flushVictims demotes evicted entries to the secondary tier (best effort)
// and runs their deleters. Always called outside the shard mutex.
func (s *shard) flushVictims(victims []*Entry) {
	for _, v := range victims {
		if s.cache.secondary != nil && v.IsSecondaryCompatible() && !v.IsPromoted() {
			_ = s.cache.secondary.Insert(v.key, v.value, v.helper)
		}
		v.free()
	}
}
