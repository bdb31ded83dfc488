package db

import "github.com/Borislavv/go-hotlru-cache/internal/shared/pad"

// Counters aggregates cache-wide event counts. Cells are cacheline padded
// because shards on different cores increment them on every operation.
type Counters struct {
	Hits   pad.AtomicInt64 // lookups that found the key (either path)
	Misses pad.AtomicInt64

	HotHits   pad.AtomicInt64 // fast-path lookups answered by the hot index
	HotMisses pad.AtomicInt64

	EvictedFromLRU   pad.AtomicInt64
	HotEvicted       pad.AtomicInt64 // FIFO evictions out of the hot index
	HotInsertBlocked pad.AtomicInt64 // hot-index inserts refused at half-full
	HotInvalidated   pad.AtomicInt64 // hot entries displaced by erase/overwrite
	FullFlushes      pad.AtomicInt64 // adaptive flush events
	Overwrites       pad.AtomicInt64
	SecondaryHits    pad.AtomicInt64
}

// Stats is a point-in-time snapshot of counters and gauges.
type Stats struct {
	Hits   int64
	Misses int64

	HotHits   int64
	HotMisses int64

	EvictedFromLRU   int64
	HotEvicted       int64
	HotInsertBlocked int64
	HotInvalidated   int64
	FullFlushes      int64
	Overwrites       int64
	SecondaryHits    int64

	Usage       int64
	PinnedUsage int64
	Entries     int64
	HotEntries  int64
}

func (c *Counters) snapshot() Stats {
	return Stats{
		Hits:             c.Hits.Load(),
		Misses:           c.Misses.Load(),
		HotHits:          c.HotHits.Load(),
		HotMisses:        c.HotMisses.Load(),
		EvictedFromLRU:   c.EvictedFromLRU.Load(),
		HotEvicted:       c.HotEvicted.Load(),
		HotInsertBlocked: c.HotInsertBlocked.Load(),
		HotInvalidated:   c.HotInvalidated.Load(),
		FullFlushes:      c.FullFlushes.Load(),
		Overwrites:       c.Overwrites.Load(),
		SecondaryHits:    c.SecondaryHits.Load(),
	}
}
