package scheduler

import (
	"testing"
	"time"
)

func TestIntervalToCronThresholds(t *testing.T) {
	tests := []struct {
		seconds int
		want    string
	}{
		{1, "*/1 * * * * *"},
		{30, "*/30 * * * * *"},
		{59, "*/59 * * * * *"},
		{60, "*/1 * * * *"},
		{300, "*/5 * * * *"},
		{3599, "*/59 * * * *"},
		{3600, "0 */1 * * *"},
		{14400, "0 */4 * * *"},
		{86399, "0 */23 * * *"},
		{86400, "0 9 * * *"},
		{604800, "0 9 * * *"},
	}
	for _, tt := range tests {
		if got := IntervalToCron(tt.seconds); got != tt.want {
			t.Errorf("IntervalToCron(%d) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestIntervalToCronNonPositive(t *testing.T) {
	if got := IntervalToCron(0); got != "*/1 * * * * *" {
		t.Errorf("IntervalToCron(0) = %q", got)
	}
}

func TestNextRunFromCron(t *testing.T) {
	from := time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC)
	tests := []struct {
		expr string
		want time.Time
	}{
		{"*/30 * * * * *", from.Add(30 * time.Second)},
		{"*/5 * * * *", from.Add(5 * time.Minute)},
		{"0 */4 * * *", from.Add(4 * time.Hour)},
		{"0 9 * * *", time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)},
		// Unrecognized shapes fall back to one hour.
		{"15 3 * * 1", from.Add(time.Hour)},
		{"garbage", from.Add(time.Hour)},
	}
	for _, tt := range tests {
		if got := NextRunFromCron(tt.expr, from); !got.Equal(tt.want) {
			t.Errorf("NextRunFromCron(%q) = %v, want %v", tt.expr, got, tt.want)
		}
	}
}

func TestNextRunDailySlotAlreadyPassed(t *testing.T) {
	from := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	want := time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)
	if got := NextRunFromCron("0 9 * * *", from); !got.Equal(want) {
		t.Errorf("daily slot after passing = %v, want next day %v", got, want)
	}
}

func TestRoundTripIntervalThroughCron(t *testing.T) {
	from := time.Now()
	for _, seconds := range []int{10, 120, 7200} {
		expr := IntervalToCron(seconds)
		next := NextRunFromCron(expr, from)
		got := next.Sub(from)
		want := time.Duration(seconds) * time.Second
		// The conversion is lossy only at thresholds; these inputs divide
		// evenly and must survive the round trip.
		if got != want {
			t.Errorf("round trip %ds via %q = %v, want %v", seconds, expr, got, want)
		}
	}
}
