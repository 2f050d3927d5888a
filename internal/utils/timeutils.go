package utils

import (
	"math"
	"time"
)

// DurationMinutes converts a pair of timestamps into minute duration.
func DurationMinutes(start, end time.Time) float64 {
	if end.Before(start) {
		start, end = end, start
	}
	return float64(end.Sub(start).Milliseconds()) / 60000
}

// RoundTo rounds v half away from zero to the given number of decimals.
func RoundTo(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}

// UnixMillis converts a time into epoch milliseconds; the zero time maps to 0.
func UnixMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromUnixMillis converts epoch milliseconds into a UTC time; 0 maps to the zero time.
func FromUnixMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
