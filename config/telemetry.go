package config

import "time"

type TelemetryCfg struct {
	// StatLogsInterval is how often the telemetry loop emits a stats record.
	StatLogsInterval time.Duration `yaml:"stat_logs_interval"`
}

func (cfg *TelemetryCfg) Enabled() bool {
	return cfg != nil
}
