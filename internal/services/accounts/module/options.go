package module

import (
	"time"

	"replyloop/internal/platform/config"
)

// Options controls the token refresh sweep
type Options struct {
	RefreshWindow time.Duration
	Batch         int
}

// FromConfig reads with ACCOUNTS_ prefix
func FromConfig(cfg config.Conf) Options {
	c := cfg.Prefix("ACCOUNTS_")
	return Options{
		RefreshWindow: c.MayDuration("REFRESH_WINDOW", 7*24*time.Hour),
		Batch:         c.MayInt("REFRESH_BATCH", 100),
	}
}
