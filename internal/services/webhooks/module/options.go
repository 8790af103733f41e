package module

import (
	"time"

	"replyloop/internal/platform/config"
)

// Options controls delivery and the retry sweep
type Options struct {
	Timeout     time.Duration
	SweepBatch  int
	MaxAttempts int
	Lease       time.Duration
}

// FromConfig reads with WEBHOOKS_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("WEBHOOKS_")
	return Options{
		Timeout:     c.MayDuration("TIMEOUT", 10*time.Second),
		SweepBatch:  c.MayInt("SWEEP_BATCH", 100),
		MaxAttempts: c.MayInt("MAX_ATTEMPTS", 6),
		Lease:       c.MayDuration("LEASE", 5*time.Minute),
	}
}
