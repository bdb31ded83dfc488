package db

import (
	"bytes"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// historical starting size
const initialTableBits = 4

// tableArray is one immutable generation of the bucket array. Growing the
// table publishes a fresh generation so the lock-free probe never observes a
// half-sized array with the wrong shift.
type tableArray struct {
	bits  uint32
	slots []atomic.Pointer[Entry]
}

// handleTable is the shard's authoritative index: a chained hash table keyed
// by (hash, key). Bucket index is the top bits of the hash below the shard
// bits. All mutations require the shard mutex; Probe alone is lock-free.
type handleTable struct {
	arr     atomic.Pointer[tableArray]
	elems   uint32
	maxBits uint32
	capped  bool
}

func newHandleTable(maxUpperHashBits int) *handleTable {
	t := &handleTable{maxBits: uint32(maxUpperHashBits)}
	t.arr.Store(newTableArray(initialTableBits))
	return t
}

func newTableArray(bits uint32) *tableArray {
	return &tableArray{bits: bits, slots: make([]atomic.Pointer[Entry], 1<<bits)}
}

func (a *tableArray) bucket(hash uint32) *atomic.Pointer[Entry] {
	return &a.slots[hash>>(32-a.bits)]
}

// Len returns the element count. Callers hold the shard mutex.
func (t *handleTable) Len() int { return int(t.elems) }

// Probe walks the bucket chain without any lock. It may spuriously miss an
// entry that a concurrent rehash is relinking; callers treat a miss as the key
// being absent, so the race costs at most a spurious miss.
func (t *handleTable) Probe(key []byte, hash uint32) *Entry {
	arr := t.arr.Load()
	e := arr.bucket(hash).Load()
	for e != nil && (e.hash != hash || !bytes.Equal(e.key, key)) {
		e = e.nextHash.Load()
	}
	return e
}

// Lookup requires the shard mutex.
func (t *handleTable) Lookup(key []byte, hash uint32) *Entry {
	return t.findSlot(key, hash).Load()
}

// Insert chains e into its bucket, displacing any previous entry with the
// same key, and returns that previous entry. Requires the shard mutex.
func (t *handleTable) Insert(e *Entry) *Entry {
	slot := t.findSlot(e.key, e.hash)
	old := slot.Load()
	if old == nil {
		e.nextHash.Store(nil)
	} else {
		e.nextHash.Store(old.nextHash.Load())
	}
	slot.Store(e)
	if old == nil {
		t.elems++
		if t.elems > uint32(1)<<t.arr.Load().bits { // elems > length
			// Each cache entry is fairly large, so aim for an average
			// chain length of at most one.
			t.resize()
		}
	}
	return old
}

// Remove unchains and returns the entry for (hash, key), or nil. Requires
// the shard mutex.
func (t *handleTable) Remove(key []byte, hash uint32) *Entry {
	slot := t.findSlot(key, hash)
	e := slot.Load()
	if e != nil {
		slot.Store(e.nextHash.Load())
		e.nextHash.Store(nil)
		t.elems--
	}
	return e
}

// findSlot returns the slot holding the entry for (hash, key), or the nil
// slot at the end of the chain.
func (t *handleTable) findSlot(key []byte, hash uint32) *atomic.Pointer[Entry] {
	slot := t.arr.Load().bucket(hash)
	for {
		e := slot.Load()
		if e == nil || (e.hash == hash && bytes.Equal(e.key, key)) {
			return slot
		}
		slot = &e.nextHash
	}
}

func (t *handleTable) resize() {
	old := t.arr.Load()
	if old.bits >= t.maxBits || old.bits >= 31 {
		// The hash has no more usable bits for this shard; the table stays
		// overloaded and chains lengthen.
		if !t.capped {
			t.capped = true
			log.Debug().Uint32("bits", old.bits).Msg("primary table reached maximum size")
		}
		return
	}

	next := newTableArray(old.bits + 1)
	var count uint32
	for i := range old.slots {
		e := old.slots[i].Load()
		for e != nil {
			chain := e.nextHash.Load()
			slot := next.bucket(e.hash)
			e.nextHash.Store(slot.Load())
			slot.Store(e)
			e = chain
			count++
		}
	}
	if count != t.elems {
		panic("hotlru: primary table lost entries during resize")
	}
	t.arr.Store(next)
}

// walkRange applies fn to every entry whose bucket index falls in
// [begin, end). Requires the shard mutex.
func (t *handleTable) walkRange(fn func(e *Entry), begin, end uint32) {
	arr := t.arr.Load()
	if end > uint32(len(arr.slots)) {
		end = uint32(len(arr.slots))
	}
	for i := begin; i < end; i++ {
		for e := arr.slots[i].Load(); e != nil; e = e.nextHash.Load() {
			fn(e)
		}
	}
}

func (t *handleTable) lengthBits() uint32 { return t.arr.Load().bits }
