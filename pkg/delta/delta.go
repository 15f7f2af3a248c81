package delta

import (
	"time"

	"github.com/edukit/canvas-mcp/pkg/pagination"
)

// TimeField names the item field a source's delta filter reads.
type TimeField string

const (
	// FieldUpdatedAt filters on the updated_at field.
	FieldUpdatedAt TimeField = "updated_at"

	// FieldCreatedAt filters on the created_at field.
	FieldCreatedAt TimeField = "created_at"

	// FieldNone disables delta filtering for the source.
	FieldNone TimeField = "none"
)

// Filter retains items whose field value is at or after since, compared in
// UTC. A nil since or FieldNone is the identity. Items missing the field or
// carrying an unparseable value are retained: absence of a timestamp must
// not silently drop data the caller might need. Relative order is
// preserved and the output is always a subset of the input.
func Filter(items []pagination.Item, since *time.Time, field TimeField) []pagination.Item {
	if since == nil || field == FieldNone || field == "" {
		return items
	}

	cutoff := since.UTC()
	filtered := make([]pagination.Item, 0, len(items))
	for _, item := range items {
		value, ok := item[string(field)].(string)
		if !ok {
			filtered = append(filtered, item)
			continue
		}
		stamp, ok := ParseTime(value)
		if !ok {
			filtered = append(filtered, item)
			continue
		}
		if !stamp.Before(cutoff) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}
