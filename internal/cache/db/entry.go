package db

import (
	"sync/atomic"
	"unsafe"

	"github.com/Borislavv/go-hotlru-cache/config"
)

// Priority biases an entry toward the high-priority LRU pool.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityHigh
)

// DeleterFn frees the caller-owned value once the cache is done with it.
// It always runs outside any shard lock.
type DeleterFn func(key []byte, value any)

// Entry flag bits. Most flags are only touched under the shard mutex, but
// inHotIndex is read before the mutex on the Release fast path and the hot
// stamp is read under the shared hot-index lock, so the whole set lives in
// one atomic word.
const (
	flagInCache uint32 = 1 << iota
	flagHighPri
	flagInHighPriPool
	flagHasHit
	flagSecondaryCompatible
	flagIncomplete
	flagPending
	flagPromoted
	flagInHotIndex
)

// noStamp marks an entry without a hot-index stamp. Stamp 0 is a valid
// stamp; the two must never be conflated.
const noStamp int32 = -1

// Entry is one cached key. It is owned by a shard's primary table; the LRU
// list and the hot index only borrow it. An entry is freed when its external
// refcount drops to zero while it is no longer in the cache.
type Entry struct {
	key     []byte
	value   any
	deleter DeleterFn
	helper  *ItemHelper

	secHandle ResultHandle // pending secondary lookup, nil otherwise

	charge int64
	hash   uint32

	// refs counts external holders. Guarded by the shard mutex. Entries in
	// the hot index additionally accumulate references in the per-worker
	// tally matrix; those are folded back into refs on hot-index removal.
	refs uint32

	flags atomic.Uint32
	stamp atomic.Int32 // hot-index stamp, noStamp when absent

	// LRU links. Both nil iff the entry is off the list. Guarded by the
	// shard mutex.
	next, prev *Entry

	// Primary-table chain. Atomic because the hot-path negative filter
	// walks chains without the shard mutex.
	nextHash atomic.Pointer[Entry]

	// Hot-index chain. Guarded by the hot-index rwlock.
	nextHot *Entry
}

func newEntry(key []byte, hash uint32, value any, charge int64, deleter DeleterFn, helper *ItemHelper, pri Priority) *Entry {
	e := &Entry{
		key:     append([]byte(nil), key...),
		value:   value,
		deleter: deleter,
		helper:  helper,
		charge:  charge,
		hash:    hash,
	}
	e.stamp.Store(noStamp)
	e.setFlag(flagInCache, true)
	e.setFlag(flagHighPri, pri == PriorityHigh)
	if helper != nil {
		e.setFlag(flagSecondaryCompatible, true)
	}
	return e
}

func (e *Entry) Key() []byte        { return e.key }
func (e *Entry) Value() any         { return e.value }
func (e *Entry) Charge() int64      { return e.charge }
func (e *Entry) Hash() uint32       { return e.hash }
func (e *Entry) Deleter() DeleterFn {
	if e.IsSecondaryCompatible() && e.helper != nil {
		return e.helper.Del
	}
	return e.deleter
}

func (e *Entry) hasFlag(f uint32) bool { return e.flags.Load()&f != 0 }

func (e *Entry) setFlag(f uint32, on bool) {
	for {
		old := e.flags.Load()
		next := old &^ f
		if on {
			next = old | f
		}
		if e.flags.CompareAndSwap(old, next) {
			return
		}
	}
}

func (e *Entry) InCache() bool               { return e.hasFlag(flagInCache) }
func (e *Entry) IsHighPri() bool             { return e.hasFlag(flagHighPri) }
func (e *Entry) InHighPriPool() bool         { return e.hasFlag(flagInHighPriPool) }
func (e *Entry) HasHit() bool                { return e.hasFlag(flagHasHit) }
func (e *Entry) IsSecondaryCompatible() bool { return e.hasFlag(flagSecondaryCompatible) }
func (e *Entry) IsIncomplete() bool          { return e.hasFlag(flagIncomplete) }
func (e *Entry) IsPending() bool             { return e.hasFlag(flagPending) }
func (e *Entry) IsPromoted() bool            { return e.hasFlag(flagPromoted) }
func (e *Entry) InHotIndex() bool            { return e.hasFlag(flagInHotIndex) }

func (e *Entry) setInCache(on bool)       { e.setFlag(flagInCache, on) }
func (e *Entry) setInHighPriPool(on bool) { e.setFlag(flagInHighPriPool, on) }
func (e *Entry) setHit()                  { e.setFlag(flagHasHit, true) }
func (e *Entry) setIncomplete(on bool)    { e.setFlag(flagIncomplete, on) }
func (e *Entry) setPending(on bool)       { e.setFlag(flagPending, on) }
func (e *Entry) setPromoted(on bool)      { e.setFlag(flagPromoted, on) }
func (e *Entry) setInHotIndex(on bool)    { e.setFlag(flagInHotIndex, on) }

func (e *Entry) hasRefs() bool { return e.refs > 0 }

// ref must be called with the shard mutex held.
func (e *Entry) ref() { e.refs++ }

// unref must be called with the shard mutex held. Returns true when this
// was the last external reference.
func (e *Entry) unref() bool {
	if e.refs == 0 {
		panic("hotlru: unref of entry with zero refs")
	}
	e.refs--
	return e.refs == 0
}

// entryOverhead is the fixed header cost charged under the "full" metadata
// charge policy.
var entryOverhead = int64(unsafe.Sizeof(Entry{}))

// totalCharge is what the entry costs against the shard capacity.
func (e *Entry) totalCharge(policy config.MetadataChargePolicy) int64 {
	if policy == config.MetadataChargeFull {
		return e.charge + entryOverhead + int64(len(e.key))
	}
	return e.charge
}

// free runs the deleter. Must be called outside any shard lock, exactly
// once, after the entry left both indexes.
func (e *Entry) free() {
	if e.IsSecondaryCompatible() && e.helper != nil && e.helper.Del != nil {
		e.helper.Del(e.key, e.value)
		return
	}
	if e.deleter != nil {
		e.deleter(e.key, e.value)
	}
}
