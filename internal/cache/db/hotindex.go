package db

import (
	"bytes"
	"sync/atomic"

	"github.com/Borislavv/go-hotlru-cache/internal/shared/queue"
)

// hotRef is an admission-queue record. Stale refs (the entry has since left
// the index) are filtered lazily by evictFIFO.
type hotRef struct {
	key  []byte
	hash uint32
}

// hotIndex is the shard's bounded auxiliary index for hot keys. Lookups run
// under the shard's shared hot lock and never touch the LRU; inserts,
// removals and FIFO eviction require the exclusive hot lock.
//
// References taken on the fast path are recorded in a per-stamp, per-worker
// tally matrix with relaxed atomics instead of the entry refcount, so
// concurrent lookups of the same hot key share nothing but a cache line per
// worker column. Removal sums a stamp's row and folds the net count back
// into the entry's refcount.
type hotIndex struct {
	slots   []*Entry // bucket heads, guarded by the hot lock
	bits    uint32
	elems   int
	workers int

	// tally holds the [stamp x worker] reference cells followed by one
	// stamp-availability cell per stamp at availIndex+stamp.
	tally      []int32
	availIndex int

	fifo      queue.Ring[hotRef]
	stampNext int // next stamp-scan start position

	counters *Counters
}

func newHotIndex(bitLength, workers int, counters *Counters) *hotIndex {
	n := 1 << bitLength
	h := &hotIndex{
		slots:      make([]*Entry, n),
		bits:       uint32(bitLength),
		workers:    workers,
		tally:      make([]int32, n*workers+n),
		availIndex: n * workers,
		counters:   counters,
	}
	h.fifo.Init(n)
	return h
}

// stamps returns the stamp capacity (2^bits).
func (h *hotIndex) stamps() int { return len(h.slots) }

// isFull reports whether the index refuses further inserts. The half-full
// threshold keeps bucket chains short.
func (h *hotIndex) isFull() bool { return h.elems >= h.stamps()/2 }

func (h *hotIndex) cell(stamp int32, tid int) *int32 {
	return &h.tally[int(stamp)*h.workers+tid]
}

// lookup requires at least the shared hot lock. On a hit it records one
// reference in the caller's tally column. The stamp snapshot races with a
// concurrent removal; a stale snapshot at worst tallies against a released
// stamp row, which removal zeroes anyway.
func (h *hotIndex) lookup(key []byte, hash uint32, tid int) *Entry {
	e := h.find(key, hash)
	if e != nil {
		if stamp := e.stamp.Load(); stamp > noStamp && int(stamp) < h.stamps() {
			atomic.AddInt32(h.cell(stamp, tid), 1)
		}
	}
	return e
}

// unref records the drop of a fast-path reference. No lock required.
func (h *hotIndex) unref(e *Entry, tid int) {
	if stamp := e.stamp.Load(); stamp > noStamp && int(stamp) < h.stamps() {
		atomic.AddInt32(h.cell(stamp, tid), -1)
	}
}

// ref records one extra fast-path reference. No lock required.
func (h *hotIndex) ref(e *Entry, tid int) {
	if stamp := e.stamp.Load(); stamp > noStamp && int(stamp) < h.stamps() {
		atomic.AddInt32(h.cell(stamp, tid), 1)
	}
}

// find walks the bucket chain without touching the tallies. Requires at
// least the shared hot lock.
func (h *hotIndex) find(key []byte, hash uint32) *Entry {
	e := h.slots[hash>>(32-h.bits)]
	for e != nil && (e.hash != hash || !bytes.Equal(e.key, key)) {
		e = e.nextHot
	}
	return e
}

// insert admits e into the index. Requires the exclusive hot lock.
//
// When the index is at the half-full threshold one FIFO eviction is
// attempted first; the victim, if any, is handed back to the caller, which
// re-links it (the index never re-links entries itself). If
// the index is still full the insert is refused with ok=false. When another
// entry already holds the same key it is detached (tallies reconciled into
// its refcount) and returned as replaced, so an overwriting insert keeps
// serving the key from the index.
func (h *hotIndex) insert(e *Entry) (replaced, evicted *Entry, ok bool) {
	if e.InHotIndex() {
		// Already indexed; keep the existing stamp.
		return nil, nil, true
	}

	if h.isFull() {
		evicted = h.evictFIFO()
	}
	if h.isFull() {
		h.counters.HotInsertBlocked.Add(1)
		return nil, evicted, false
	}

	slot := h.findSlot(e.key, e.hash)
	if old := *slot; old != nil {
		h.reconcile(old)
		*slot = old.nextHot
		old.nextHot = nil
		h.elems--
		replaced = old
	}

	stamp, found := h.takeStamp()
	if !found {
		// Cannot happen while elems is bounded by stamps/2; refuse rather
		// than corrupt the availability map.
		h.counters.HotInsertBlocked.Add(1)
		return replaced, evicted, false
	}

	idx := e.hash >> (32 - h.bits)
	e.nextHot = h.slots[idx]
	h.slots[idx] = e
	h.elems++
	h.fifo.Push(hotRef{key: e.key, hash: e.hash})

	e.stamp.Store(stamp)
	e.setInHotIndex(true)
	return replaced, evicted, true
}

// replace swaps a fresh entry in for the indexed entry holding the same
// key, so an overwriting insert keeps serving the key from the index. The
// old entry's tallies are reconciled into its refcount and its stamp is
// released; e then takes the next free stamp in scan order (one was just
// freed, so there always is one), so occupancy never changes and the swap
// cannot be refused. Requires the exclusive hot lock.
func (h *hotIndex) replace(old, e *Entry) {
	if !old.InHotIndex() {
		return
	}
	slot := h.findSlot(old.key, old.hash)
	if *slot != old {
		return
	}
	h.reconcile(old)
	*slot = old.nextHot
	old.nextHot = nil
	h.elems--

	stamp, found := h.takeStamp()
	if !found {
		return
	}
	idx := e.hash >> (32 - h.bits)
	e.nextHot = h.slots[idx]
	h.slots[idx] = e
	h.elems++
	h.fifo.Push(hotRef{key: e.key, hash: e.hash})
	e.stamp.Store(stamp)
	e.setInHotIndex(true)
}

// remove unchains the entry for (hash, key). Requires the exclusive hot
// lock.
//
// With force=false the removal aborts (returning nil) while the stamp's
// tally row sums to a non-zero net reference count. Otherwise the row is
// folded into the entry's refcount (clamped at zero), the stamp is
// released and the entry is returned. Admission-queue records are left in
// place and filtered lazily.
func (h *hotIndex) remove(key []byte, hash uint32, force bool) *Entry {
	slot := h.findSlot(key, hash)
	e := *slot
	if e == nil {
		return nil
	}

	if !force && h.rowSum(e.stamp.Load()) != 0 {
		return nil
	}

	h.reconcile(e)
	*slot = e.nextHot
	e.nextHot = nil
	h.elems--
	return e
}

// evictFIFO pops admission-queue records until one entry is removed, the
// probe budget (one probe per stamp, stale or not) is exhausted, or the
// queue drains. Records whose
// entries are still referenced are pushed back. Requires the exclusive hot
// lock. Returns the evicted entry or nil.
func (h *hotIndex) evictFIFO() *Entry {
	for probes := h.stamps(); probes > 0 && h.fifo.Len() > 0; probes-- {
		ref, _ := h.fifo.Pop()
		if h.find(ref.key, ref.hash) == nil {
			continue // stale record
		}
		if e := h.remove(ref.key, ref.hash, false); e != nil {
			h.counters.HotEvicted.Add(1)
			return e
		}
		h.fifo.Push(ref) // still referenced; retry later
	}
	return nil
}

// reconcile folds the entry's tally row back into its refcount, zeroes the
// row and releases the stamp. Requires the exclusive hot lock.
func (h *hotIndex) reconcile(e *Entry) {
	stamp := e.stamp.Load()
	if stamp <= noStamp || int(stamp) >= h.stamps() {
		e.setInHotIndex(false)
		return
	}

	var sum int32
	for tid := 0; tid < h.workers; tid++ {
		c := h.cell(stamp, tid)
		sum += atomic.LoadInt32(c)
		atomic.StoreInt32(c, 0)
	}

	if total := int64(e.refs) + int64(sum); total < 0 {
		e.refs = 0
	} else {
		e.refs = uint32(total)
	}

	e.stamp.Store(noStamp)
	h.tally[h.availIndex+int(stamp)] = 0
	e.setInHotIndex(false)
}

// rowSum returns the net outstanding fast-path references for a stamp.
// Requires the exclusive hot lock, which excludes fast-path lookups but not
// lock-free unrefs; an unref racing the sum only makes the count look
// higher, so at worst the removal is refused and retried later.
func (h *hotIndex) rowSum(stamp int32) int32 {
	if stamp <= noStamp || int(stamp) >= h.stamps() {
		return 0
	}
	var sum int32
	for tid := 0; tid < h.workers; tid++ {
		sum += atomic.LoadInt32(h.cell(stamp, tid))
	}
	return sum
}

// takeStamp scans the availability cells for a free stamp, starting after
// the previously allocated one. Requires the exclusive hot lock.
func (h *hotIndex) takeStamp() (int32, bool) {
	n := h.stamps()
	i := h.stampNext
	for looped := 0; looped < n; looped++ {
		i++
		if i >= n {
			i = 0
		}
		if h.tally[h.availIndex+i] == 0 {
			h.tally[h.availIndex+i] = 1
			h.stampNext = i
			return int32(i), true
		}
	}
	return noStamp, false
}

// findSlot returns the chain slot holding the entry for (hash, key), or the
// terminal nil slot. Requires the exclusive hot lock.
func (h *hotIndex) findSlot(key []byte, hash uint32) **Entry {
	slot := &h.slots[hash>>(32-h.bits)]
	for *slot != nil && ((*slot).hash != hash || !bytes.Equal((*slot).key, key)) {
		slot = &(*slot).nextHot
	}
	return slot
}
