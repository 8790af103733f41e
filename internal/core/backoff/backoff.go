// Package backoff computes retry delays for the queue, gateway, and
// webhook dispatcher. All functions are pure so callers own the clock
package backoff

import "time"

// Exponential returns base doubled per attempt, capped at max.
// attempt 0 returns base; negative attempts clamp to 0
func Exponential(base time.Duration, attempt int, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 0 {
		attempt = 0
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

// Table indexes a fixed delay schedule by attempt number (1-based),
// clamping to the last entry once attempts run past the table
func Table(schedule []time.Duration, attempt int) time.Duration {
	if len(schedule) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if attempt > len(schedule) {
		attempt = len(schedule)
	}
	return schedule[attempt-1]
}

// WebhookSchedule is the delivery retry ladder, indexed by attempt count
var WebhookSchedule = []time.Duration{
	5 * time.Minute,
	30 * time.Minute,
	120 * time.Minute,
	300 * time.Minute,
	600 * time.Minute,
}
