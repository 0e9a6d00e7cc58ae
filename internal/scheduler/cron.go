package scheduler

import (
	"fmt"
	"time"
)

// IntervalToCron converts a plain "every N seconds" interval into a cron
// expression. Sub-minute intervals produce a six-field per-second expression
// meant for diagnostics and dev only.
func IntervalToCron(seconds int) string {
	if seconds <= 0 {
		seconds = 1
	}
	switch {
	case seconds < 60:
		return fmt.Sprintf("*/%d * * * * *", seconds)
	case seconds < 3600:
		return fmt.Sprintf("*/%d * * * *", seconds/60)
	case seconds < 86400:
		return fmt.Sprintf("0 */%d * * *", seconds/3600)
	default:
		// Anything a day or longer collapses to a fixed daily slot.
		return "0 9 * * *"
	}
}

// NextRunFromCron estimates the next run time after from for the cron shapes
// IntervalToCron emits. This is deliberately an approximation, not a full
// cron parser: it recognizes the per-second, per-minute, per-hour and daily
// shapes, and falls back to one hour for anything else. Schedules produced
// outside IntervalToCron get the fallback.
func NextRunFromCron(expr string, from time.Time) time.Time {
	var n int
	if _, err := fmt.Sscanf(expr, "*/%d * * * * *", &n); err == nil && n > 0 {
		return from.Add(time.Duration(n) * time.Second)
	}
	if _, err := fmt.Sscanf(expr, "*/%d * * * *", &n); err == nil && n > 0 {
		return from.Add(time.Duration(n) * time.Minute)
	}
	if _, err := fmt.Sscanf(expr, "0 */%d * * *", &n); err == nil && n > 0 {
		return from.Add(time.Duration(n) * time.Hour)
	}
	var hour, minute int
	if _, err := fmt.Sscanf(expr, "%d %d * * *", &minute, &hour); err == nil {
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}
	return from.Add(time.Hour)
}
