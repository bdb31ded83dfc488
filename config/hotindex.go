package config

// HotIndexCfg configures the auxiliary hot index and its adaptive controller.
//
// The hot index is a bounded per-shard hash table consulted under a shared
// read lock, so lookups of hot keys skip the shard mutex and all LRU
// bookkeeping. The adaptive controller activates it per shard based on the
// shard's hit rate relative to the fleet of shards.
type HotIndexCfg struct {
	// BitLength is B in "2^B stamps per shard". The index refuses inserts
	// past half occupancy, so a shard holds at most 2^(B-1) hot entries.
	// Sensible values are 6..10.
	BitLength int `yaml:"bit_length"`

	// Workers is the number of reference-tally columns. Every worker
	// goroutine that touches the fast path should be registered; surplus
	// workers share column 0.
	Workers int `yaml:"workers"`

	// SampleLimit is how many slow-path hits a shard accumulates before the
	// adaptive controller re-evaluates that shard.
	SampleLimit int `yaml:"sample_limit"`

	// ActivatePercentile selects the hit-rate percentile (over all shards)
	// a shard must exceed for its hot index to engage.
	// 0 disables the hot index entirely; 100 keeps it permanently on.
	ActivatePercentile int `yaml:"activate_percentile"`

	// FlushPercentile selects the hit-rate percentile below which a shard
	// flushes its hot index back to the LRU. 0 disables flushing.
	FlushPercentile int `yaml:"flush_percentile"`
}

func (cfg *HotIndexCfg) Enabled() bool {
	return cfg != nil && cfg.ActivatePercentile != 0
}

// Stamps returns the stamp count (2^BitLength).
func (cfg *HotIndexCfg) Stamps() int {
	if cfg == nil {
		return 0
	}
	return 1 << cfg.BitLength
}
