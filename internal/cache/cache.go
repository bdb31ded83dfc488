// Package cache wires the sharded store to key hashing, the worker
// registry, and the stats surface consumed by telemetry and metrics.
package cache

import (
	"log/slog"

	"github.com/Borislavv/go-hotlru-cache/config"
	"github.com/Borislavv/go-hotlru-cache/internal/cache/db"
	"github.com/Borislavv/go-hotlru-cache/internal/threadreg"
)

type Cacher interface {
	Insert(key []byte, value any, charge int64, deleter db.DeleterFn, pri db.Priority) db.Status
	InsertRetain(key []byte, value any, charge int64, deleter db.DeleterFn, pri db.Priority) (*db.Entry, db.Status)
	InsertWithHelper(key []byte, value any, charge int64, helper *db.ItemHelper, pri db.Priority) db.Status
	Lookup(key []byte, pri db.Priority) *db.Entry
	LookupFull(key []byte, helper *db.ItemHelper, create db.CreateCallback, pri db.Priority, wait bool) *db.Entry
	Ref(h *db.Entry) bool
	Release(h *db.Entry, forceErase bool) bool
	Erase(key []byte)
	WaitAll(handles []*db.Entry)
	EraseUnRefEntries()
	SetCapacity(capacity int64)
	SetStrictCapacityLimit(strict bool)
	SetHighPriPoolRatio(ratio float64)
	Usage() int64
	PinnedUsage() int64
	Len() int64
	RegisterWorker() int
	Stats() db.Stats
}

// Cache hashes keys and delegates to the sharded store.
type Cache struct {
	cfg    *config.Cache
	db     *db.ShardedCache
	reg    *threadreg.Registry
	logger *slog.Logger
}

func New(cfg *config.Cache, logger *slog.Logger, secondary db.SecondaryCache) (*Cache, error) {
	workers := 1
	if cfg.HotIndex != nil && cfg.HotIndex.Workers > 0 {
		workers = cfg.HotIndex.Workers
	}
	reg := threadreg.New(workers)

	store, err := db.NewShardedCache(cfg, secondary, reg.Current)
	if err != nil {
		return nil, err
	}
	return &Cache{cfg: cfg, db: store, reg: reg, logger: logger}, nil
}

func (c *Cache) Insert(key []byte, value any, charge int64, deleter db.DeleterFn, pri db.Priority) db.Status {
	return c.db.Insert(key, HashKey(key), value, charge, deleter, pri)
}

func (c *Cache) InsertRetain(key []byte, value any, charge int64, deleter db.DeleterFn, pri db.Priority) (*db.Entry, db.Status) {
	return c.db.InsertRetain(key, HashKey(key), value, charge, deleter, pri)
}

func (c *Cache) InsertWithHelper(key []byte, value any, charge int64, helper *db.ItemHelper, pri db.Priority) db.Status {
	return c.db.InsertWithHelper(key, HashKey(key), value, charge, helper, pri)
}

func (c *Cache) Lookup(key []byte, pri db.Priority) *db.Entry {
	return c.db.Lookup(key, HashKey(key), pri)
}

func (c *Cache) LookupFull(key []byte, helper *db.ItemHelper, create db.CreateCallback, pri db.Priority, wait bool) *db.Entry {
	return c.db.LookupFull(key, HashKey(key), helper, create, pri, wait)
}

func (c *Cache) Ref(h *db.Entry) bool                      { return c.db.Ref(h) }
func (c *Cache) Release(h *db.Entry, forceErase bool) bool { return c.db.Release(h, forceErase) }
func (c *Cache) Erase(key []byte)                          { c.db.Erase(key, HashKey(key)) }
func (c *Cache) WaitAll(handles []*db.Entry)               { c.db.WaitAll(handles) }
func (c *Cache) EraseUnRefEntries()                        { c.db.EraseUnRefEntries() }
func (c *Cache) SetCapacity(capacity int64)                { c.db.SetCapacity(capacity) }
func (c *Cache) SetStrictCapacityLimit(strict bool)        { c.db.SetStrictCapacityLimit(strict) }
func (c *Cache) SetHighPriPoolRatio(ratio float64)         { c.db.SetHighPriPoolRatio(ratio) }
func (c *Cache) Usage() int64                              { return c.db.Usage() }
func (c *Cache) PinnedUsage() int64                        { return c.db.PinnedUsage() }
func (c *Cache) Len() int64                                { return c.db.Len() }
func (c *Cache) Stats() db.Stats                           { return c.db.Stats() }

// RegisterWorker assigns the calling goroutine a dense tally column id.
// Workers that skip registration share column 0.
func (c *Cache) RegisterWorker() int { return c.reg.Register() }
