package config

import "fmt"

// LimitsConfig bounds the aggregator stores.
type LimitsConfig struct {
	MaxLogs     int `yaml:"max_logs"`     // Log ring capacity
	MaxRequests int `yaml:"max_requests"` // Tracked request capacity
}

// PressureConfig sets how much survives a memory pressure compaction.
type PressureConfig struct {
	KeepLogs     int `yaml:"keep_logs"`
	KeepRequests int `yaml:"keep_requests"`
}

// ValidateLimits checks that store bounds are within acceptable ranges.
func (c *Config) ValidateLimits() error {
	if c.Limits.MaxLogs < 1 {
		return fmt.Errorf("limits.max_logs must be >= 1")
	}
	if c.Limits.MaxRequests < 1 {
		return fmt.Errorf("limits.max_requests must be >= 1")
	}
	if c.Pressure.KeepLogs < 0 || c.Pressure.KeepLogs > c.Limits.MaxLogs {
		return fmt.Errorf("pressure.keep_logs must be within [0, %d]", c.Limits.MaxLogs)
	}
	if c.Pressure.KeepRequests < 0 || c.Pressure.KeepRequests > c.Limits.MaxRequests {
		return fmt.Errorf("pressure.keep_requests must be within [0, %d]", c.Limits.MaxRequests)
	}
	return nil
}
