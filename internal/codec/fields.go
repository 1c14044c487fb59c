package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
)

// String reads a string field; non-strings yield "".
func String(rec map[string]any, field string) string {
	s, _ := rec[field].(string)
	return s
}

// Int reads a numeric field written by any backend.
func Int(rec map[string]any, field string, def int) int {
	switch v := rec[field].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Int64 reads an integer field, typically a unix-millisecond timestamp.
func Int64(rec map[string]any, field string) int64 {
	switch v := rec[field].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case json.Number:
		n, _ := v.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n
	}
	return 0
}

// Bool reads a boolean field.
func Bool(rec map[string]any, field string) bool {
	switch v := rec[field].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04",
	time.DateOnly,
}

// Time parses an RFC 3339 timestamp, a datetime-local value or a bare date.
// Unparseable values yield the zero time.
func Time(rec map[string]any, field string) time.Time {
	switch v := rec[field].(type) {
	case time.Time:
		return v
	case string:
		return ParseTime(v)
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	}
	return time.Time{}
}

// ParseTime tries each accepted layout in turn.
func ParseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// FormatTime is the wire form of a timestamp.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
