package realtime

import "time"

// Config holds the engine timing and sizing parameters. Zero values are
// replaced by the defaults.
type Config struct {
	// TabID identifies this tab on the bus and in the lease record.
	// Generated when empty.
	TabID string

	PollTimeout       time.Duration
	HeartbeatInterval time.Duration
	LeaseTTL          time.Duration
	BackoffFloor      time.Duration
	BackoffCap        time.Duration
	MaxRetries        int

	DedupCapacity int
	DedupKeep     int

	// FreshnessWindow is how long after focus the active context counts as
	// current for the relevance gate.
	FreshnessWindow time.Duration
}

const (
	DefaultPollTimeout       = 65 * time.Second
	DefaultHeartbeatInterval = 60 * time.Second
	DefaultLeaseTTL          = 5 * time.Second
	DefaultBackoffFloor      = 1 * time.Second
	DefaultBackoffCap        = 10 * time.Second
	DefaultMaxRetries        = 3
	DefaultDedupCapacity     = 1000
	DefaultDedupKeep         = 500
	DefaultFreshnessWindow   = 30 * time.Second
)

func DefaultConfig() Config {
	return Config{
		PollTimeout:       DefaultPollTimeout,
		HeartbeatInterval: DefaultHeartbeatInterval,
		LeaseTTL:          DefaultLeaseTTL,
		BackoffFloor:      DefaultBackoffFloor,
		BackoffCap:        DefaultBackoffCap,
		MaxRetries:        DefaultMaxRetries,
		DedupCapacity:     DefaultDedupCapacity,
		DedupKeep:         DefaultDedupKeep,
		FreshnessWindow:   DefaultFreshnessWindow,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = d.LeaseTTL
	}
	if c.BackoffFloor <= 0 {
		c.BackoffFloor = d.BackoffFloor
	}
	if c.BackoffCap < c.BackoffFloor {
		c.BackoffCap = max(d.BackoffCap, c.BackoffFloor)
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.DedupCapacity <= 0 {
		c.DedupCapacity = d.DedupCapacity
	}
	if c.DedupKeep <= 0 || c.DedupKeep > c.DedupCapacity {
		c.DedupKeep = c.DedupCapacity / 2
	}
	if c.FreshnessWindow <= 0 {
		c.FreshnessWindow = d.FreshnessWindow
	}
	return c
}
