package module

import (
	"time"

	"replyloop/internal/platform/config"
)

// Options controls the per-creator send limiter
type Options struct {
	SendLimit  int64
	SendWindow time.Duration
}

// FromConfig reads with RULES_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("RULES_")
	return Options{
		SendLimit:  int64(c.MayInt("SEND_LIMIT", 100)),
		SendWindow: c.MayDuration("SEND_WINDOW", time.Hour),
	}
}
