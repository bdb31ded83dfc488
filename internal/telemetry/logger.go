// Package telemetry runs the periodic stats logger.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Borislavv/go-hotlru-cache/config"
	"github.com/Borislavv/go-hotlru-cache/internal/cache"
	"github.com/Borislavv/go-hotlru-cache/internal/shared/bytes"
)

type Logger interface {
	Interval() time.Duration
	Close() error
}

type Logs struct {
	ctx      context.Context
	cancel   context.CancelFunc
	cfg      *config.Cache
	logger   *slog.Logger
	cache    cache.Cacher
	interval time.Duration
}

func New(ctx context.Context, cfg *config.Cache, logger *slog.Logger, cache cache.Cacher) *Logs {
	ctx, cancel := context.WithCancel(ctx)
	interval := time.Duration(0)
	if cfg.Telemetry.Enabled() {
		interval = cfg.Telemetry.StatLogsInterval
	}
	return (&Logs{
		ctx:      ctx,
		cancel:   cancel,
		cfg:      cfg,
		logger:   logger,
		cache:    cache,
		interval: interval,
	}).run()
}

func (l *Logs) Interval() time.Duration {
	return l.interval
}

func (l *Logs) Close() error {
	l.cancel()
	return nil
}

func (l *Logs) run() *Logs {
	if l.cfg != nil && l.cfg.Telemetry.Enabled() {
		go l.loop()
	}
	return l
}

func (l *Logs) loop() {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	capacity := bytes.FmtMem(uint64(l.cfg.DB.CapacityBytes))

	s := newSampler(l.cache)
	prev := s.snapshot()

	for {
		select {
		case <-l.ctx.Done():
			return

		case <-ticker.C:
			cur := s.snapshot()
			d := deltaSnapshot(prev, cur)
			prev = cur

			st := l.cache.Stats()
			common := []any{"interval", l.interval.String()}

			l.logger.Info("storage",
				append(common,
					"size", bytes.FmtMem(uint64(st.Usage)),
					"pinned", bytes.FmtMem(uint64(st.PinnedUsage)),
					"entries", st.Entries,
					"capacity", capacity,
					"hits", int64(d.hits),
					"misses", int64(d.misses),
					"evicted", int64(d.evictedFromLRU),
				)...,
			)

			if l.cfg.HotIndex.Enabled() {
				l.logger.Info("hot_index",
					append(common,
						"entries", st.HotEntries,
						"hits", int64(d.hotHits),
						"misses", int64(d.hotMisses),
						"evicted", int64(d.hotEvicted),
						"full_flushes", int64(d.fullFlushes),
					)...,
				)
			}

			if d.secondaryHits > 0 {
				l.logger.Info("secondary_cache",
					append(common,
						"hits", int64(d.secondaryHits),
					)...,
				)
			}
		}
	}
}
