package help

import (
	"time"

	"github.com/Borislavv/go-hotlru-cache/config"
)

// Cfg builds a small, fully featured test config: exact charges, four
// shards, the hot index pinned on, telemetry at a long interval.
func Cfg(capacity int64) *config.Cache {
	cfg := &config.Cache{
		DB: config.DBCfg{
			CapacityBytes:        capacity,
			ShardBits:            2,
			HighPriPoolRatio:     0.3,
			MetadataChargePolicy: config.MetadataChargeNone,
		},
		HotIndex: &config.HotIndexCfg{
			BitLength:          6,
			Workers:            8,
			SampleLimit:        1,
			ActivatePercentile: 100,
			FlushPercentile:    0,
		},
		Telemetry: &config.TelemetryCfg{
			StatLogsInterval: time.Minute,
		},
	}
	cfg.AdjustConfig()
	return cfg
}
