// Package delta narrows item batches to those changed since a timestamp,
// bridging the differing time-filter support of Canvas endpoints.
package delta

import (
	"time"
)

// isoFormats are the timestamp layouts Canvas emits across endpoints.
// All parsed values are normalized to UTC before comparison.
var isoFormats = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTime parses an ISO-8601 timestamp in any of the shapes Canvas
// produces. Layouts without an offset are taken as UTC.
func ParseTime(value string) (time.Time, bool) {
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range isoFormats {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FormatTime renders a timestamp as UTC RFC3339 with a Z suffix, the shape
// Canvas itself uses.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05Z")
}

// NowISO returns the current time in the envelope's fetched_at format.
func NowISO() string {
	return FormatTime(time.Now())
}
