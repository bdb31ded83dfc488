// Package prom exports cache stats as Prometheus metrics.
package prom

import (
	"github.com/prometheus/client_golang/prometheus"

	hotlru "github.com/Borislavv/go-hotlru-cache"
)

// StatsSource supplies a point-in-time stats snapshot, typically bound to
// Cache.Stats.
type StatsSource func() hotlru.Stats

// Collector implements prometheus.Collector by polling a StatsSource on
// scrape. Safe for concurrent use.
type Collector struct {
	src StatsSource

	hits, misses       *prometheus.Desc
	hotHits, hotMisses *prometheus.Desc
	evicted            *prometheus.Desc
	hotEvicted         *prometheus.Desc
	hotInsertBlocked   *prometheus.Desc
	hotInvalidated     *prometheus.Desc
	fullFlushes        *prometheus.Desc
	overwrites         *prometheus.Desc
	secondaryHits      *prometheus.Desc
	usage              *prometheus.Desc
	pinnedUsage        *prometheus.Desc
	entries            *prometheus.Desc
	hotEntries         *prometheus.Desc
}

// NewCollector constructs a collector and registers it.
//   - reg:         registry to register with (nil => prometheus.DefaultRegisterer)
//   - ns, sub:     Prometheus namespace and subsystem
//   - constLabels: static labels applied to all metrics (may be nil)
func NewCollector(reg prometheus.Registerer, src StatsSource, ns, sub string, constLabels prometheus.Labels) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(ns, sub, name), help, nil, constLabels)
	}
	c := &Collector{
		src:              src,
		hits:             desc("hits_total", "Lookups that found the key"),
		misses:           desc("misses_total", "Lookups that missed"),
		hotHits:          desc("hot_hits_total", "Fast-path lookups answered by the hot index"),
		hotMisses:        desc("hot_misses_total", "Fast-path lookups that fell to the slow path"),
		evicted:          desc("evictions_total", "Entries evicted from the LRU"),
		hotEvicted:       desc("hot_evictions_total", "FIFO evictions out of the hot index"),
		hotInsertBlocked: desc("hot_insert_blocked_total", "Hot-index inserts refused at half occupancy"),
		hotInvalidated:   desc("hot_invalidated_total", "Hot entries displaced by erase or overwrite"),
		fullFlushes:      desc("hot_full_flushes_total", "Adaptive hot-index flush events"),
		overwrites:       desc("overwrites_total", "Inserts that displaced an existing key"),
		secondaryHits:    desc("secondary_hits_total", "Lookups answered by the secondary cache"),
		usage:            desc("usage_bytes", "Total accounted charge"),
		pinnedUsage:      desc("pinned_usage_bytes", "Charge not reclaimable by eviction"),
		entries:          desc("entries", "Resident entries"),
		hotEntries:       desc("hot_entries", "Hot-indexed entries"),
	}
	reg.MustRegister(c)
	return c
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.hits
	ch <- c.misses
	ch <- c.hotHits
	ch <- c.hotMisses
	ch <- c.evicted
	ch <- c.hotEvicted
	ch <- c.hotInsertBlocked
	ch <- c.hotInvalidated
	ch <- c.fullFlushes
	ch <- c.overwrites
	ch <- c.secondaryHits
	ch <- c.usage
	ch <- c.pinnedUsage
	ch <- c.entries
	ch <- c.hotEntries
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	st := c.src()
	counter := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v))
	}
	gauge := func(d *prometheus.Desc, v int64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, float64(v))
	}

	counter(c.hits, st.Hits)
	counter(c.misses, st.Misses)
	counter(c.hotHits, st.HotHits)
	counter(c.hotMisses, st.HotMisses)
	counter(c.evicted, st.EvictedFromLRU)
	counter(c.hotEvicted, st.HotEvicted)
	counter(c.hotInsertBlocked, st.HotInsertBlocked)
	counter(c.hotInvalidated, st.HotInvalidated)
	counter(c.fullFlushes, st.FullFlushes)
	counter(c.overwrites, st.Overwrites)
	counter(c.secondaryHits, st.SecondaryHits)
	gauge(c.usage, st.Usage)
	gauge(c.pinnedUsage, st.PinnedUsage)
	gauge(c.entries, st.Entries)
	gauge(c.hotEntries, st.HotEntries)
}

// Compile-time check: Collector implements prometheus.Collector.
var _ prometheus.Collector = (*Collector)(nil)
