package module

import (
	"time"

	"replyloop/internal/platform/config"
)

// Options controls the follow-gate sweep
type Options struct {
	Batch        int
	RecheckAfter time.Duration
}

// FromConfig reads with FOLLOWGATE_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("FOLLOWGATE_")
	return Options{
		Batch:        c.MayInt("SWEEP_BATCH", 200),
		RecheckAfter: c.MayDuration("RECHECK_AFTER", 10*time.Minute),
	}
}
