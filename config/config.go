package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	ErrShardBits        = errors.New("config: shard_bits must be in [0, 19]")
	ErrHighPriPoolRatio = errors.New("config: high_pri_pool_ratio must be in [0.0, 1.0]")
	ErrHotIndexBits     = errors.New("config: hot_index.bit_length must be in [1, 16]")
	ErrHotIndexPctl     = errors.New("config: hot_index percentiles must be in [0, 100]")
)

const (
	defaultHotIndexBits   = 6
	defaultWorkers        = 64
	defaultSampleLimit    = 1000
	defaultStatLogsPeriod = 5 * time.Second

	// minShardSizeBytes bounds automatic sharding from below.
	minShardSizeBytes = 512 * 1024
	maxAutoShardBits  = 6
)

// AdjustConfig fills derived and defaulted fields in place.
func (cfg *Cache) AdjustConfig() {
	if cfg.DB.MetadataChargePolicy == "" {
		cfg.DB.MetadataChargePolicy = MetadataChargeFull
	}
	if cfg.DB.ShardBits < 0 {
		cfg.DB.ShardBits = defaultShardBits(cfg.DB.CapacityBytes)
	}
	if cfg.HotIndex != nil {
		if cfg.HotIndex.BitLength == 0 {
			cfg.HotIndex.BitLength = defaultHotIndexBits
		}
		if cfg.HotIndex.Workers <= 0 {
			cfg.HotIndex.Workers = defaultWorkers
		}
		if cfg.HotIndex.SampleLimit <= 0 {
			cfg.HotIndex.SampleLimit = defaultSampleLimit
		}
	}
	if cfg.Telemetry != nil && cfg.Telemetry.StatLogsInterval <= 0 {
		cfg.Telemetry.StatLogsInterval = defaultStatLogsPeriod
	}
}

// Validate checks caller-supplied ranges. Call after AdjustConfig.
func (cfg *Cache) Validate() error {
	if cfg.DB.ShardBits < 0 || cfg.DB.ShardBits > 19 {
		return fmt.Errorf("%w: got %d", ErrShardBits, cfg.DB.ShardBits)
	}
	if cfg.DB.HighPriPoolRatio < 0.0 || cfg.DB.HighPriPoolRatio > 1.0 {
		return fmt.Errorf("%w: got %g", ErrHighPriPoolRatio, cfg.DB.HighPriPoolRatio)
	}
	if hi := cfg.HotIndex; hi != nil {
		if hi.BitLength < 1 || hi.BitLength > 16 {
			return fmt.Errorf("%w: got %d", ErrHotIndexBits, hi.BitLength)
		}
		if hi.ActivatePercentile < 0 || hi.ActivatePercentile > 100 ||
			hi.FlushPercentile < 0 || hi.FlushPercentile > 100 {
			return fmt.Errorf("%w: activate=%d flush=%d",
				ErrHotIndexPctl, hi.ActivatePercentile, hi.FlushPercentile)
		}
	}
	return nil
}

// LoadConfig reads, adjusts and validates a YAML config file.
func LoadConfig(path string) (*Cache, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("stat config path: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config yaml file %s: %w", path, err)
	}

	var cfg *Cache
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml from %s: %w", path, err)
	}
	cfg.AdjustConfig()
	if err = cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultShardBits picks a shard count so that every shard covers at least
// minShardSizeBytes, capped at 2^maxAutoShardBits shards.
func defaultShardBits(capacity int64) int {
	bits := 0
	for n := capacity / minShardSizeBytes; n > 1; n >>= 1 {
		bits++
		if bits >= maxAutoShardBits {
			return maxAutoShardBits
		}
	}
	return bits
}
