package module

import (
	"time"

	"replyloop/internal/platform/config"
)

// Options controls the worker pass and retry policy
type Options struct {
	Batch       int
	MaxAttempts int
	RetryBase   time.Duration
	SendLimit   int64
	SendWindow  time.Duration
}

// FromConfig reads with QUEUE_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("QUEUE_")
	return Options{
		Batch:       c.MayInt("DRAIN_BATCH", 50),
		MaxAttempts: c.MayInt("MAX_ATTEMPTS", 3),
		RetryBase:   c.MayDuration("RETRY_BASE", time.Minute),
		SendLimit:   int64(c.MayInt("SEND_LIMIT", 100)),
		SendWindow:  c.MayDuration("SEND_WINDOW", time.Hour),
	}
}
