package api

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"time"
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999Z07",
}

// fractional seconds longer than nanosecond precision are truncated to 9 digits.
var longFraction = regexp.MustCompile(`(\.\d{9})\d+`)

// ParseTimestamp accepts ISO-8601 timestamps with 0-9 (or more, truncated)
// fractional digits and either Z or a numeric offset.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	raw = longFraction.ReplaceAllString(raw, "$1")
	if strings.HasSuffix(raw, "z") {
		raw = strings.TrimSuffix(raw, "z") + "Z"
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Timestamp decodes leniently: null, absent, or malformed values leave it
// invalid instead of failing the whole response.
type Timestamp struct {
	Time  time.Time
	Valid bool
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC(), Valid: true}
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	*t = Timestamp{}
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		return nil
	}
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil
	}
	if parsed, ok := ParseTimestamp(raw); ok {
		*t = Timestamp{Time: parsed, Valid: true}
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}

// Ptr returns the time or nil when invalid.
func (t Timestamp) Ptr() *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
