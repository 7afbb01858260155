package telutil

import (
	"fmt"
	"strings"
	"time"
)

// durationPrecision maps a minimum duration to the unit it's truncated to,
// largest first.
var durationPrecision = []struct {
	min, unit time.Duration
}{
	{time.Hour, time.Minute},
	{time.Minute, time.Second},
	{time.Second, 100 * time.Millisecond},
	{10 * time.Millisecond, time.Millisecond},
	{time.Millisecond, 100 * time.Microsecond},
	{time.Microsecond, time.Microsecond},
}

// HumanizeDuration returns d as a short string, with a precision that depends
// on its magnitude, e.g. 1.2ms, 12ms, 1.2s, 1m1s, 2h3m.
func HumanizeDuration(d time.Duration) string {
	for _, p := range durationPrecision {
		if d >= p.min {
			d = d.Truncate(p.unit)
			break
		}
	}

	s := d.String()
	if d >= time.Hour {
		s = strings.TrimSuffix(s, "0s")
	}
	return s
}

// HumanizeBytes returns n bytes as a short string in B, KB, or MB, where a KB
// is 1024 bytes. Values under 100 of a unit get one decimal place.
func HumanizeBytes[T ~int | ~int64 | ~uint64](n T) string {
	f := float64(n)
	if f < 1024 {
		return fmt.Sprintf("%.0fB", f)
	}

	unit := "KB"
	if f /= 1024; f >= 1024 {
		unit = "MB"
		f /= 1024
	}

	if f < 100 {
		return fmt.Sprintf("%.1f%s", f, unit)
	}
	return fmt.Sprintf("%.0f%s", f, unit)
}

// Milliseconds returns d as fractional milliseconds, rounded to two decimal
// places, which is how durations are stored on entries.
func Milliseconds(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return float64(int64(ms*100+0.5)) / 100
}
