package logger

import (
	"strings"
	"time"
)

// Status is the status field for an operation that returned err.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return "fail"
}

// Took is the time since start, rounded to the millisecond.
func Took(start time.Time) time.Duration { return RoundMS(time.Since(start)) }

func RoundMS(d time.Duration) time.Duration {
	return max(d, 0).Round(time.Millisecond)
}

// SummarizeStrings joins at most limit values; truncated reports whether
// any were left out.
func SummarizeStrings(values []string, limit int) (joined string, truncated bool) {
	limit = max(limit, 0)
	if len(values) <= limit {
		return strings.Join(values, ", "), false
	}
	return strings.Join(values[:limit], ", "), true
}
