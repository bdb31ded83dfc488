// Package hotlru is a sharded, byte-charged in-memory block cache with
// reference-counted handles and an adaptive per-shard hot index: lookups of
// currently-hot keys are answered under a shared lock, bypassing the shard
// mutex and all LRU bookkeeping.
package hotlru

import (
	"context"
	"io"
	"log/slog"

	"github.com/Borislavv/go-hotlru-cache/config"
	"github.com/Borislavv/go-hotlru-cache/internal/cache"
	"github.com/Borislavv/go-hotlru-cache/internal/cache/db"
	"github.com/Borislavv/go-hotlru-cache/internal/telemetry"
)

// Handle is an opaque reference to a cached entry. Its lifetime is governed
// by the refcount plus the in-cache flag; callers must Release every handle
// they obtain.
type Handle = db.Entry

type (
	Priority       = db.Priority
	Status         = db.Status
	Stats          = db.Stats
	DeleterFn      = db.DeleterFn
	ItemHelper     = db.ItemHelper
	CreateCallback = db.CreateCallback
	SecondaryCache = db.SecondaryCache
	ResultHandle   = db.ResultHandle
)

const (
	PriorityLow  = db.PriorityLow
	PriorityHigh = db.PriorityHigh

	StatusOk            = db.StatusOk
	StatusOkOverwritten = db.StatusOkOverwritten
	StatusIncomplete    = db.StatusIncomplete
)

type HotCache interface {
	cache.Cacher
	telemetry.Logger
	io.Closer
}

type Cache struct {
	cache.Cacher
	telemetry.Logger
	cls context.CancelFunc
}

// New builds a cache from the given config. The config is adjusted and
// validated in place; construction fails on out-of-range shard bits or
// priority-pool ratio. secondary may be nil.
func New(ctx context.Context, cfg *config.Cache, logger *slog.Logger, secondary SecondaryCache) (*Cache, error) {
	ctx, cancel := context.WithCancel(ctx)
	cfg.AdjustConfig()
	if err := cfg.Validate(); err != nil {
		cancel()
		return nil, err
	}

	cacher, err := cache.New(cfg, logger, secondary)
	if err != nil {
		cancel()
		return nil, err
	}
	telemeter := telemetry.New(ctx, cfg, logger, cacher)
	return &Cache{Cacher: cacher, Logger: telemeter, cls: cancel}, nil
}

func (c *Cache) Close() error {
	c.cls()
	return nil
}

// DefaultConfig returns a config with the hot index enabled at moderate
// settings. Callers tune fields before passing it to New.
func DefaultConfig(capacityBytes int64) *config.Cache {
	return &config.Cache{
		DB: config.DBCfg{
			CapacityBytes:    capacityBytes,
			ShardBits:        -1, // auto
			HighPriPoolRatio: 0.5,
		},
		HotIndex: &config.HotIndexCfg{
			ActivatePercentile: 50,
			FlushPercentile:    20,
		},
	}
}
