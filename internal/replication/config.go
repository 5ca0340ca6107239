package replication

import (
	"fmt"
	"time"
)

// Defaults.
const (
	DefaultRelevancyDistance   = 5000.0
	MinRelevancyDistance       = 100.0
	DefaultMaxDeltasBeforeFull = 10
	DefaultUpdateRate          = 10.0
	MinUpdateRate              = 1.0
	MaxUpdateRate              = 60.0

	// History is cleaned once it holds more than historyCleanupSize
	// versions; versions more than historyKeepVersions behind are dropped.
	historyCleanupSize  = 50
	historyKeepVersions = 100
)

// Config tunes a Manager.
type Config struct {
	Policy               Policy      `yaml:"policy" env:"POLICY"`
	UpdateRate           float64     `yaml:"update_rate" env:"UPDATE_RATE"`
	MaxDeltasBeforeFull  int         `yaml:"max_deltas_before_full" env:"MAX_DELTAS"`
	Compression          Compression `yaml:"compression" env:"COMPRESSION"`
	CompressionThreshold int         `yaml:"compression_threshold" env:"COMPRESSION_THRESHOLD"`
	EnableHMAC           bool        `yaml:"enable_hmac" env:"ENABLE_HMAC"`
	RelevancyDistance    float64     `yaml:"relevancy_distance" env:"RELEVANCY_DISTANCE"`
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Policy:               PolicyAlways,
		UpdateRate:           DefaultUpdateRate,
		MaxDeltasBeforeFull:  DefaultMaxDeltasBeforeFull,
		Compression:          CompressionZlib,
		CompressionThreshold: DefaultCompressionThreshold,
		EnableHMAC:           true,
		RelevancyDistance:    DefaultRelevancyDistance,
	}
}

// Validate reports settings outside their allowed ranges.
func (c Config) Validate() error {
	if c.UpdateRate < MinUpdateRate || c.UpdateRate > MaxUpdateRate {
		return fmt.Errorf("replication update_rate %.1f outside [%.0f, %.0f]", c.UpdateRate, MinUpdateRate, MaxUpdateRate)
	}
	if c.MaxDeltasBeforeFull < 1 {
		return fmt.Errorf("replication max_deltas_before_full must be positive, got %d", c.MaxDeltasBeforeFull)
	}
	if c.RelevancyDistance < MinRelevancyDistance {
		return fmt.Errorf("replication relevancy_distance %.0f below minimum %.0f", c.RelevancyDistance, MinRelevancyDistance)
	}
	if _, ok := policyNames[c.Policy]; !ok {
		return fmt.Errorf("replication policy %d unknown", c.Policy)
	}
	return nil
}

// normalize clamps out-of-range values instead of rejecting them.
func (c Config) normalize() Config {
	c.UpdateRate = min(MaxUpdateRate, max(MinUpdateRate, c.UpdateRate))
	c.MaxDeltasBeforeFull = max(1, c.MaxDeltasBeforeFull)
	c.RelevancyDistance = max(MinRelevancyDistance, c.RelevancyDistance)
	return c
}

// Interval returns the minimum time between updates to one client.
func (c Config) Interval() time.Duration {
	return rateInterval(c.UpdateRate)
}

func rateInterval(hz float64) time.Duration {
	return time.Duration(float64(time.Second) / hz)
}
