package db

// LRU list operations. The list is circular with s.lru as sentinel:
// lru.next is the LRU victim end, lru.prev is the MRU end. lruLowPri
// partitions it into a tail-side low-priority pool and a head-side
// high-priority pool. All operations require the shard mutex.

// lruRemove unlinks e. Idempotent: entries off the list have nil links.
func (s *shard) lruRemove(e *Entry) {
	if e.next == nil || e.prev == nil {
		return
	}
	if s.lruLowPri == e {
		s.lruLowPri = e.prev
	}
	e.next.prev = e.prev
	e.prev.next = e.next
	e.prev, e.next = nil, nil

	totalCharge := e.totalCharge(s.cache.metaPolicy)
	s.lruUsage -= totalCharge
	if e.InHighPriPool() {
		s.highPriPoolUsage -= totalCharge
	}
}

// lruInsert links e at the MRU end of its pool. Entries already on the list
// are left in place.
func (s *shard) lruInsert(e *Entry) {
	if e.next != nil || e.prev != nil {
		return
	}
	totalCharge := e.totalCharge(s.cache.metaPolicy)
	if s.highPriPoolRatio > 0 && (e.IsHighPri() || e.HasHit()) {
		// Head of the high-pri pool, right before the sentinel.
		e.next = &s.lru
		e.prev = s.lru.prev
		e.prev.next = e
		e.next.prev = e
		e.setInHighPriPool(true)
		s.highPriPoolUsage += totalCharge
		s.maintainPoolSize()
	} else {
		// Head of the low-pri pool. When high_pri_pool_ratio is 0 this is
		// also the head of the whole list.
		e.next = s.lruLowPri.next
		e.prev = s.lruLowPri
		e.prev.next = e
		e.next.prev = e
		e.setInHighPriPool(false)
		s.lruLowPri = e
	}
	s.lruUsage += totalCharge
}

// maintainPoolSize demotes high-pri entries across the boundary until the
// pool fits its capacity again.
func (s *shard) maintainPoolSize() {
	for s.highPriPoolUsage > s.highPriPoolCapacity {
		s.lruLowPri = s.lruLowPri.next
		if s.lruLowPri == &s.lru {
			panic("hotlru: high-pri pool overflow with empty list")
		}
		s.lruLowPri.setInHighPriPool(false)
		s.highPriPoolUsage -= s.lruLowPri.totalCharge(s.cache.metaPolicy)
	}
}

// evictFromLRU removes victims from the LRU end until usage+charge fits the
// capacity or the list drains. Victims leave both indexes and are appended
// to deleted for freeing outside the mutex.
func (s *shard) evictFromLRU(charge int64, deleted *[]*Entry) {
	for s.usage+charge > s.capacity && s.lru.next != &s.lru {
		old := s.lru.next
		// The LRU holds only unreferenced in-cache entries.
		s.lruRemove(old)
		if s.hot != nil && old.InHotIndex() {
			s.rw.Lock()
			if old.InHotIndex() {
				s.hot.remove(old.key, old.hash, true)
				s.cache.counters.HotInvalidated.Add(1)
			}
			s.rw.Unlock()
		}
		s.table.Remove(old.key, old.hash)

		old.setInCache(false)
		s.usage -= old.totalCharge(s.cache.metaPolicy)
		s.cache.counters.EvictedFromLRU.Add(1)
		*deleted = append(*deleted, old)
	}
}
