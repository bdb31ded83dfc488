// Package config groups configuration of all cache subsystems.
// Each optional component can be disabled by setting its section to nil.
package config

// Cache is the root configuration object.
type Cache struct {
	DB DBCfg `yaml:"db"`

	// HotIndex configures the per-shard auxiliary hot index.
	// If nil, lookups always take the shard mutex path and the adaptive
	// controller never runs.
	HotIndex *HotIndexCfg `yaml:"hot_index"`

	// Telemetry configures the periodic stats logger.
	// If nil, no background logging is performed.
	Telemetry *TelemetryCfg `yaml:"telemetry"`
}

// MetadataChargePolicy selects how much per-entry overhead is charged
// against the capacity.
type MetadataChargePolicy string

const (
	// MetadataChargeNone charges only the caller-supplied value charge.
	MetadataChargeNone MetadataChargePolicy = "none"

	// MetadataChargeFull additionally charges the entry header and key bytes.
	MetadataChargeFull MetadataChargePolicy = "full"
)

type DBCfg struct {
	// CapacityBytes is the total charge budget across all shards.
	CapacityBytes int64 `yaml:"capacity"`

	// ShardBits is S in "2^S shards". Valid range is [0, 19].
	// A negative value selects an automatic count derived from capacity
	// (at least 512KiB per shard, at most 64 shards).
	ShardBits int `yaml:"shard_bits"`

	// StrictCapacityLimit makes handle-requesting inserts fail with
	// StatusIncomplete instead of overflowing the capacity.
	StrictCapacityLimit bool `yaml:"strict_capacity_limit"`

	// HighPriPoolRatio is the fraction of each shard's capacity reserved for
	// the high-priority LRU pool. Valid range is [0.0, 1.0].
	HighPriPoolRatio float64 `yaml:"high_pri_pool_ratio"`

	// MetadataChargePolicy is "none" or "full" (default "full").
	MetadataChargePolicy MetadataChargePolicy `yaml:"metadata_charge_policy"`
}
