// Package db implements the sharded block cache core: per-shard primary
// hash table, LRU list with priority pools, the bounded hot index consulted
// under a shared lock, and the adaptive controller that decides per shard
// when the hot index earns its keep.
package db

import (
	"sync"

	"github.com/Borislavv/go-hotlru-cache/config"
)

// ShardedCache fans requests out to 2^shard_bits shards by the low bits of
// the hash. Shards live in one contiguous, cacheline-padded slice.
type ShardedCache struct {
	shards    []shard
	shardMask uint32
	shardBits int

	metaPolicy config.MetadataChargePolicy
	secondary  SecondaryCache

	// myTID resolves the calling worker's tally column. Injected so the
	// process-wide registry stays a capability rather than package state.
	myTID func() int

	hotCfg       *config.HotIndexCfg // nil when the hot index is disabled
	nLimit       int64
	activatePctl int
	flushPctl    int

	counters Counters

	mu       sync.Mutex // guards capacity / strict flag updates
	capacity int64
}

// NewShardedCache builds the cache from an adjusted, validated config.
// secondary and myTID may be nil.
func NewShardedCache(cfg *config.Cache, secondary SecondaryCache, myTID func() int) (*ShardedCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if myTID == nil {
		myTID = func() int { return 0 }
	}

	n := 1 << cfg.DB.ShardBits
	c := &ShardedCache{
		shardMask:  uint32(n - 1),
		shardBits:  cfg.DB.ShardBits,
		metaPolicy: cfg.DB.MetadataChargePolicy,
		secondary:  secondary,
		myTID:      myTID,
		capacity:   cfg.DB.CapacityBytes,
	}
	if cfg.HotIndex.Enabled() {
		c.hotCfg = cfg.HotIndex
		c.nLimit = int64(cfg.HotIndex.SampleLimit)
		c.activatePctl = cfg.HotIndex.ActivatePercentile
		c.flushPctl = cfg.HotIndex.FlushPercentile
	}

	perShard := (cfg.DB.CapacityBytes + int64(n) - 1) / int64(n)
	c.shards = make([]shard, n)
	for i := range c.shards {
		c.shards[i].init(c, perShard, 32-cfg.DB.ShardBits, cfg.DB.StrictCapacityLimit, cfg.DB.HighPriPoolRatio)
	}
	return c, nil
}

func (c *ShardedCache) shard(hash uint32) *shard {
	return &c.shards[hash&c.shardMask]
}

// NumShards returns the shard count.
func (c *ShardedCache) NumShards() int { return len(c.shards) }

// Insert stores a value without retaining a handle.
func (c *ShardedCache) Insert(key []byte, hash uint32, value any, charge int64, deleter DeleterFn, pri Priority) Status {
	_, st := c.shard(hash).Insert(key, hash, value, charge, deleter, nil, pri, false)
	return st
}

// InsertRetain stores a value and hands back a referenced handle.
func (c *ShardedCache) InsertRetain(key []byte, hash uint32, value any, charge int64, deleter DeleterFn, pri Priority) (*Entry, Status) {
	return c.shard(hash).Insert(key, hash, value, charge, deleter, nil, pri, true)
}

// InsertWithHelper stores a secondary-cache-compatible value.
func (c *ShardedCache) InsertWithHelper(key []byte, hash uint32, value any, charge int64, helper *ItemHelper, pri Priority) Status {
	_, st := c.shard(hash).Insert(key, hash, value, charge, nil, helper, pri, false)
	return st
}

// Lookup returns a referenced handle or nil.
func (c *ShardedCache) Lookup(key []byte, hash uint32, pri Priority) *Entry {
	return c.shard(hash).Lookup(key, hash, nil, nil, pri, true)
}

// LookupFull is Lookup with secondary-cache plumbing: on a primary miss the
// overflow tier is consulted; with wait=false the returned handle may be
// pending until WaitAll.
func (c *ShardedCache) LookupFull(key []byte, hash uint32, helper *ItemHelper, create CreateCallback, pri Priority, wait bool) *Entry {
	return c.shard(hash).Lookup(key, hash, helper, create, pri, wait)
}

// Ref adds a reference to a live handle.
func (c *ShardedCache) Ref(e *Entry) bool {
	if e == nil {
		return false
	}
	return c.shard(e.hash).Ref(e)
}

// Release drops a reference; returns true iff the entry was freed.
func (c *ShardedCache) Release(e *Entry, forceErase bool) bool {
	if e == nil {
		return false
	}
	return c.shard(e.hash).Release(e, forceErase)
}

// Erase drops a key.
func (c *ShardedCache) Erase(key []byte, hash uint32) {
	c.shard(hash).Erase(key, hash)
}

// WaitAll resolves pending secondary lookups and promotes them into their
// shards.
func (c *ShardedCache) WaitAll(handles []*Entry) {
	if c.secondary == nil {
		return
	}
	var pending []ResultHandle
	for _, h := range handles {
		if h != nil && h.IsPending() {
			pending = append(pending, h.secHandle)
		}
	}
	if len(pending) == 0 {
		return
	}
	c.secondary.WaitAll(pending)
	for _, h := range handles {
		if h == nil || !h.IsPending() {
			continue
		}
		c.shard(h.hash).Promote(h)
	}
}

// EraseUnRefEntries drains every shard's LRU.
func (c *ShardedCache) EraseUnRefEntries() {
	for i := range c.shards {
		c.shards[i].EraseUnRefEntries()
	}
}

// SetCapacity rebudgets all shards (ceil division, same as construction).
func (c *ShardedCache) SetCapacity(capacity int64) {
	c.mu.Lock()
	c.capacity = capacity
	n := int64(len(c.shards))
	perShard := (capacity + n - 1) / n
	c.mu.Unlock()
	for i := range c.shards {
		c.shards[i].SetCapacity(perShard)
	}
}

func (c *ShardedCache) SetStrictCapacityLimit(strict bool) {
	for i := range c.shards {
		c.shards[i].SetStrictCapacityLimit(strict)
	}
}

func (c *ShardedCache) SetHighPriPoolRatio(ratio float64) {
	for i := range c.shards {
		c.shards[i].SetHighPriPoolRatio(ratio)
	}
}

// Capacity returns the configured total capacity.
func (c *ShardedCache) Capacity() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity
}

// Usage returns the total accounted charge across shards.
func (c *ShardedCache) Usage() int64 {
	var total int64
	for i := range c.shards {
		total += c.shards[i].Usage()
	}
	return total
}

// PinnedUsage returns the charge that eviction cannot reclaim right now.
func (c *ShardedCache) PinnedUsage() int64 {
	var total int64
	for i := range c.shards {
		total += c.shards[i].PinnedUsage()
	}
	return total
}

// Len returns the number of resident entries.
func (c *ShardedCache) Len() int64 {
	var total int64
	for i := range c.shards {
		total += int64(c.shards[i].Len())
	}
	return total
}

// HotLen returns the number of hot-indexed entries.
func (c *ShardedCache) HotLen() int64 {
	var total int64
	for i := range c.shards {
		total += int64(c.shards[i].HotLen())
	}
	return total
}

// ApplyToAllEntries visits every resident entry, releasing each shard's
// mutex between bucket segments of roughly averageEntriesPerLock entries.
func (c *ShardedCache) ApplyToAllEntries(fn func(key []byte, value any, charge int64, deleter DeleterFn), averageEntriesPerLock uint32) {
	if averageEntriesPerLock == 0 {
		averageEntriesPerLock = 256
	}
	for i := range c.shards {
		s := &c.shards[i]
		// Entries relocated by a rehash between segments may be visited
		// twice or skipped; callers needing a consistent view hold no
		// handles and insert nothing while iterating.
		length := uint32(1) << s.table.lengthBits()
		for begin := uint32(0); begin < length; begin += averageEntriesPerLock {
			end := begin + averageEntriesPerLock
			if end > length {
				end = length
			}
			s.applyToEntriesRange(fn, begin, end)
		}
	}
}

// Stats snapshots counters and gauges for telemetry and metrics export.
func (c *ShardedCache) Stats() Stats {
	st := c.counters.snapshot()
	st.Usage = c.Usage()
	st.PinnedUsage = c.PinnedUsage()
	st.Entries = c.Len()
	st.HotEntries = c.HotLen()
	return st
}
