package db

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Borislavv/go-hotlru-cache/config"
)

// testCfg builds an adjusted config with exact (metadata-free) charges so
// tests can reason about byte budgets directly.
func testCfg(capacity int64, shardBits int, strict bool, ratio float64, hot *config.HotIndexCfg) *config.Cache {
	cfg := &config.Cache{
		DB: config.DBCfg{
			CapacityBytes:        capacity,
			ShardBits:            shardBits,
			StrictCapacityLimit:  strict,
			HighPriPoolRatio:     ratio,
			MetadataChargePolicy: config.MetadataChargeNone,
		},
		HotIndex: hot,
	}
	cfg.AdjustConfig()
	return cfg
}

func newTestCache(t *testing.T, cfg *config.Cache) *ShardedCache {
	t.Helper()
	c, err := NewShardedCache(cfg, nil, nil)
	require.NoError(t, err)
	return c
}

// checkShardInvariants asserts the structural invariants that must hold in
// any quiescent state: every handle released, no tombstones outstanding.
func checkShardInvariants(t *testing.T, s *shard) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rw.Lock()
	defer s.rw.Unlock()

	// LRU residents: in cache, unreferenced, not hot; charges sum to
	// lruUsage.
	var lruCharge int64
	onLRU := map[*Entry]bool{}
	for e := s.lru.next; e != &s.lru; e = e.next {
		require.True(t, e.InCache(), "LRU entry must be in cache")
		require.False(t, e.hasRefs(), "LRU entry must be unreferenced")
		require.False(t, e.InHotIndex(), "LRU entry must not be hot-indexed")
		lruCharge += e.totalCharge(s.cache.metaPolicy)
		onLRU[e] = true
	}
	require.Equal(t, s.lruUsage, lruCharge, "lru_usage mismatch")

	// Primary residents: count matches, charges sum to usage, each entry is
	// reachable from exactly one owner.
	var tableCharge int64
	count := 0
	s.table.walkRange(func(e *Entry) {
		count++
		tableCharge += e.totalCharge(s.cache.metaPolicy)
		require.True(t, e.InCache(), "indexed entry must be in cache")

		if e.InHotIndex() {
			require.False(t, onLRU[e], "hot entry must be off the LRU")
			require.Nil(t, e.next)
			require.Nil(t, e.prev)
			stamp := e.stamp.Load()
			require.GreaterOrEqual(t, stamp, int32(0))
			require.Less(t, int(stamp), s.hot.stamps())
			require.EqualValues(t, 1, s.hot.tally[s.hot.availIndex+int(stamp)],
				"hot entry's stamp must be marked taken")
			require.Same(t, e, s.hot.find(e.key, e.hash),
				"hot entry must be reachable via its bucket chain")
		} else {
			require.Equal(t, !e.hasRefs(), onLRU[e],
				"on LRU iff unreferenced (and not hot)")
		}
		require.Equal(t, e.next == nil, e.prev == nil, "LRU links must pair")
	}, 0, uint32(1)<<s.table.lengthBits())
	require.Equal(t, s.table.Len(), count)
	require.Equal(t, s.usage, tableCharge, "usage mismatch in quiescent state")
}

// countingDeleter tracks per-key deleter invocations.
type countingDeleter struct {
	calls atomic.Int64
}

func (d *countingDeleter) fn() DeleterFn {
	return func(key []byte, value any) { d.calls.Add(1) }
}

// TestShard_EvictionOrderAndUsage covers the seed scenario: capacity 100,
// three inserts of charge 40 evict the oldest and leave usage at 80.
func TestShard_EvictionOrderAndUsage(t *testing.T) {
	var deleted []string
	deleter := func(key []byte, value any) { deleted = append(deleted, string(key)) }

	c := newTestCache(t, testCfg(100, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("A"), 1, "a", 40, deleter, PriorityLow))
	require.Equal(t, StatusOk, c.Insert([]byte("B"), 2, "b", 40, deleter, PriorityLow))
	require.Equal(t, StatusOk, c.Insert([]byte("C"), 3, "c", 40, deleter, PriorityLow))

	require.Equal(t, []string{"A"}, deleted, "A is the LRU victim")
	require.Equal(t, int64(80), c.Usage())
	require.Nil(t, c.Lookup([]byte("A"), 1, PriorityLow))

	s := &c.shards[0]
	require.Equal(t, []byte("B"), s.lru.next.key, "B at the eviction end")
	require.Equal(t, []byte("C"), s.lru.prev.key, "C at the MRU end")
	checkShardInvariants(t, s)
}

// TestShard_OverwriteRunsDeleterOnce covers the seed scenario: overwriting
// an unreleased key reports OkOverwritten, serves the new value, and runs
// the old deleter exactly once.
func TestShard_OverwriteRunsDeleterOnce(t *testing.T) {
	var d1, d2 countingDeleter
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))

	require.Equal(t, StatusOk, c.Insert([]byte("K"), 7, "V1", 10, d1.fn(), PriorityLow))
	require.Equal(t, StatusOkOverwritten, c.Insert([]byte("K"), 7, "V2", 10, d2.fn(), PriorityLow))

	h := c.Lookup([]byte("K"), 7, PriorityLow)
	require.NotNil(t, h)
	require.Equal(t, "V2", h.Value())
	require.False(t, c.Release(h, false))

	require.EqualValues(t, 1, d1.calls.Load(), "V1's deleter runs exactly once")
	require.Zero(t, d2.calls.Load())
	require.Equal(t, int64(10), c.Usage())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_StrictCapacityRejectsInsert covers the seed scenario: with a
// strict limit, a handle-requesting insert that does not fit fails with
// StatusIncomplete and leaves the cache untouched.
func TestShard_StrictCapacityRejectsInsert(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(50, 0, true, 0, nil))

	// A is held, so eviction cannot make room for B.
	hA, st := c.InsertRetain([]byte("A"), 1, "a", 40, nil, PriorityLow)
	require.Equal(t, StatusOk, st)

	h, st := c.InsertRetain([]byte("B"), 2, "b", 40, d.fn(), PriorityLow)
	require.Equal(t, StatusIncomplete, st)
	require.Nil(t, h)
	require.EqualValues(t, 1, d.calls.Load(), "rejected entry is freed")

	require.Equal(t, int64(40), c.Usage())
	require.Nil(t, c.Lookup([]byte("B"), 2, PriorityLow))

	a := c.Lookup([]byte("A"), 1, PriorityLow)
	require.NotNil(t, a)
	require.False(t, c.Release(a, false))
	require.False(t, c.Release(hA, false))
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_NonStrictOverflowInsertDropped verifies a non-retained insert
// that cannot fit reports Ok but behaves as evicted immediately.
func TestShard_NonStrictOverflowInsertDropped(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(50, 0, false, 0, nil))

	h, st := c.InsertRetain([]byte("A"), 1, "a", 40, nil, PriorityLow)
	require.Equal(t, StatusOk, st)
	require.NotNil(t, h) // pins A off the LRU

	require.Equal(t, StatusOk, c.Insert([]byte("B"), 2, "b", 40, d.fn(), PriorityLow))
	require.EqualValues(t, 1, d.calls.Load(), "B freed as if evicted immediately")
	require.Nil(t, c.Lookup([]byte("B"), 2, PriorityLow))
	require.Equal(t, int64(40), c.Usage())

	c.Release(h, false)
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_ForcedOverflowWithHandle verifies a retained insert may push
// usage past a non-strict capacity and eviction restores it later.
func TestShard_ForcedOverflowWithHandle(t *testing.T) {
	c := newTestCache(t, testCfg(50, 0, false, 0, nil))

	hA, st := c.InsertRetain([]byte("A"), 1, "a", 40, nil, PriorityLow)
	require.Equal(t, StatusOk, st)
	hB, st := c.InsertRetain([]byte("B"), 2, "b", 40, nil, PriorityLow)
	require.Equal(t, StatusOk, st)
	require.Equal(t, int64(80), c.Usage(), "non-strict insert may overflow")

	// Releasing while over capacity drops the entry instead of parking it.
	require.True(t, c.Release(hB, false), "release over capacity frees")
	require.Equal(t, int64(40), c.Usage())

	require.False(t, c.Release(hA, false))
	require.Equal(t, int64(40), c.Usage())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_LookupStableBeforeDisplacement verifies repeated lookups return
// the same entry while nothing displaces the key.
func TestShard_LookupStableBeforeDisplacement(t *testing.T) {
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("K"), 9, "v", 10, nil, PriorityLow))

	h1 := c.Lookup([]byte("K"), 9, PriorityLow)
	require.NotNil(t, h1)
	require.False(t, c.Release(h1, false))

	h2 := c.Lookup([]byte("K"), 9, PriorityLow)
	require.Same(t, h1, h2, "same entry until displaced")
	require.False(t, c.Release(h2, false))
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_ReleaseForceErase verifies force_erase drops the entry even
// under capacity and reports it freed.
func TestShard_ReleaseForceErase(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("K"), 3, "v", 10, d.fn(), PriorityLow))

	h := c.Lookup([]byte("K"), 3, PriorityLow)
	require.NotNil(t, h)
	require.True(t, c.Release(h, true))
	require.EqualValues(t, 1, d.calls.Load())
	require.Nil(t, c.Lookup([]byte("K"), 3, PriorityLow))
	require.Zero(t, c.Usage())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_EraseWithOutstandingHandle verifies erase tombstones a
// referenced entry and the final release frees it.
func TestShard_EraseWithOutstandingHandle(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("K"), 3, "v", 10, d.fn(), PriorityLow))

	h := c.Lookup([]byte("K"), 3, PriorityLow)
	require.NotNil(t, h)

	c.Erase([]byte("K"), 3)
	require.Zero(t, d.calls.Load(), "not freed while held")
	require.Nil(t, c.Lookup([]byte("K"), 3, PriorityLow))

	require.True(t, c.Release(h, false), "final release frees the tombstone")
	require.EqualValues(t, 1, d.calls.Load())
	require.Zero(t, c.Usage())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_EraseUnreferenced verifies erase of an idle key frees it
// immediately.
func TestShard_EraseUnreferenced(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("K"), 3, "v", 10, d.fn(), PriorityLow))

	c.Erase([]byte("K"), 3)
	require.EqualValues(t, 1, d.calls.Load())
	require.Zero(t, c.Usage())
	c.Erase([]byte("K"), 3) // idempotent
	require.EqualValues(t, 1, d.calls.Load())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_Ref verifies Ref requires an existing reference and stacks.
func TestShard_Ref(t *testing.T) {
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("K"), 3, "v", 10, nil, PriorityLow))

	h := c.Lookup([]byte("K"), 3, PriorityLow)
	require.True(t, c.Ref(h))
	require.False(t, c.Release(h, false), "second reference still outstanding")
	require.False(t, c.Release(h, false), "last release parks the entry on the LRU")
	checkShardInvariants(t, &c.shards[0])

	require.False(t, c.Ref(h), "unreferenced entry cannot be Ref'd")
}

// TestShard_EraseUnRefEntries verifies the LRU drains while held handles
// survive.
func TestShard_EraseUnRefEntries(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	for i := 0; i < 8; i++ {
		key := []byte(fmt.Sprintf("k%d", i))
		require.Equal(t, StatusOk, c.Insert(key, uint32(i), i, 10, d.fn(), PriorityLow))
	}
	h := c.Lookup([]byte("k0"), 0, PriorityLow)
	require.NotNil(t, h)

	c.EraseUnRefEntries()
	require.EqualValues(t, 7, d.calls.Load(), "held entry survives the drain")
	require.Equal(t, int64(10), c.Usage())
	require.NotNil(t, h.Value())

	require.False(t, c.Release(h, false), "released entry returns to the LRU")
	require.Equal(t, int64(10), c.Usage())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_HighPriPoolPartition verifies priority insertion order and the
// boundary maintenance.
func TestShard_HighPriPoolPartition(t *testing.T) {
	c := newTestCache(t, testCfg(100, 0, false, 0.5, nil))
	s := &c.shards[0]

	require.Equal(t, StatusOk, c.Insert([]byte("low1"), 1, 1, 10, nil, PriorityLow))
	require.Equal(t, StatusOk, c.Insert([]byte("high1"), 2, 2, 10, nil, PriorityHigh))
	require.Equal(t, StatusOk, c.Insert([]byte("low2"), 3, 3, 10, nil, PriorityLow))
	require.Equal(t, StatusOk, c.Insert([]byte("high2"), 4, 4, 10, nil, PriorityHigh))

	s.mu.Lock()
	require.True(t, s.lru.prev.InHighPriPool(), "MRU end holds high-pri entries")
	require.Equal(t, []byte("high2"), s.lru.prev.key)
	require.False(t, s.lru.next.InHighPriPool(), "eviction end holds low-pri entries")
	require.Equal(t, int64(20), s.highPriPoolUsage)
	s.mu.Unlock()

	// Shrinking the pool demotes across the boundary.
	c.SetHighPriPoolRatio(0.1)
	s.mu.Lock()
	require.LessOrEqual(t, s.highPriPoolUsage, s.highPriPoolCapacity)
	s.mu.Unlock()
	checkShardInvariants(t, s)
}

// TestShard_EvictFromLRUMakesRoom verifies eviction stops as soon as the
// requested charge fits or the list drains.
func TestShard_EvictFromLRUMakesRoom(t *testing.T) {
	c := newTestCache(t, testCfg(100, 0, false, 0, nil))
	for i := 0; i < 10; i++ {
		require.Equal(t, StatusOk, c.Insert([]byte(fmt.Sprintf("k%d", i)), uint32(i), i, 10, nil, PriorityLow))
	}
	require.Equal(t, int64(100), c.Usage())

	s := &c.shards[0]
	var victims []*Entry
	s.mu.Lock()
	s.evictFromLRU(30, &victims)
	require.LessOrEqual(t, s.usage+30, s.capacity)
	s.mu.Unlock()
	require.Len(t, victims, 3)
	for _, v := range victims {
		v.free()
	}
	checkShardInvariants(t, s)
}

// TestShard_SetCapacityEvicts verifies rebudgeting trims residents.
func TestShard_SetCapacityEvicts(t *testing.T) {
	var d countingDeleter
	c := newTestCache(t, testCfg(100, 0, false, 0, nil))
	for i := 0; i < 10; i++ {
		require.Equal(t, StatusOk, c.Insert([]byte(fmt.Sprintf("k%d", i)), uint32(i), i, 10, d.fn(), PriorityLow))
	}

	c.SetCapacity(40)
	require.LessOrEqual(t, c.Usage(), int64(40))
	require.EqualValues(t, 6, d.calls.Load())
	checkShardInvariants(t, &c.shards[0])
}

// TestShard_PinnedUsage verifies pinned usage tracks referenced charge.
func TestShard_PinnedUsage(t *testing.T) {
	c := newTestCache(t, testCfg(1000, 0, false, 0, nil))
	require.Equal(t, StatusOk, c.Insert([]byte("idle"), 1, 1, 10, nil, PriorityLow))
	h, _ := c.InsertRetain([]byte("held"), 2, 2, 30, nil, PriorityLow)

	require.Equal(t, int64(40), c.Usage())
	require.Equal(t, int64(30), c.PinnedUsage())

	c.Release(h, false)
	require.Zero(t, c.PinnedUsage())
}
