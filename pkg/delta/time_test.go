package delta

import (
	"testing"
	"time"
)

func TestParseTime(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected time.Time
	}{
		{
			name:     "rfc3339 utc",
			value:    "2026-08-20T10:30:00Z",
			expected: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "rfc3339 with offset normalized to utc",
			value:    "2026-08-20T12:30:00+02:00",
			expected: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "fractional seconds",
			value:    "2026-08-20T10:30:00.123456Z",
			expected: time.Date(2026, 8, 20, 10, 30, 0, 123456000, time.UTC),
		},
		{
			name:     "no offset taken as utc",
			value:    "2026-08-20T10:30:00",
			expected: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "space separated",
			value:    "2026-08-20 10:30:00",
			expected: time.Date(2026, 8, 20, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "date only",
			value:    "2026-08-20",
			expected: time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTime(tt.value)
			if !ok {
				t.Fatalf("ParseTime(%q) not ok", tt.value)
			}
			if !got.Equal(tt.expected) {
				t.Errorf("ParseTime(%q) = %v, want %v", tt.value, got, tt.expected)
			}
			if got.Location() != time.UTC {
				t.Errorf("ParseTime(%q) location = %v, want UTC", tt.value, got.Location())
			}
		})
	}
}

func TestParseTime_Invalid(t *testing.T) {
	for _, value := range []string{"", "yesterday", "20-08-2026", "1692528600"} {
		if _, ok := ParseTime(value); ok {
			t.Errorf("ParseTime(%q) ok = true, want false", value)
		}
	}
}

func TestFormatTime(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	at := time.Date(2026, 8, 20, 12, 30, 0, 0, loc)

	if got := FormatTime(at); got != "2026-08-20T10:30:00Z" {
		t.Errorf("FormatTime() = %q, want 2026-08-20T10:30:00Z", got)
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	original := "2026-08-20T10:30:00Z"
	parsed, ok := ParseTime(original)
	if !ok {
		t.Fatal("ParseTime failed")
	}
	if got := FormatTime(parsed); got != original {
		t.Errorf("round trip = %q, want %q", got, original)
	}
}
