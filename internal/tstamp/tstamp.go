// Package tstamp normalizes the two shapes a timestamp can arrive in over
// the wire or out of a JSON-replayed store: a native time.Time, or an
// ISO-8601 string with either a "Z" or "+00:00" UTC suffix. Every comparison
// in the conflict resolver and the operation log goes through Parse first
// (spec §3 invariant 3, §4.3).
package tstamp

import (
	"strings"
	"time"
)

// Parse normalizes v to a UTC time.Time. It accepts time.Time, *time.Time,
// and RFC3339 strings (with either "Z" or "+00:00"). ok is false if v is nil
// or not a recognizable timestamp.
func Parse(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), true
	case *time.Time:
		if t == nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	case string:
		if t == "" {
			return time.Time{}, false
		}
		normalized := strings.Replace(t, "Z", "+00:00", 1)
		parsed, err := time.Parse("2006-01-02T15:04:05.999999999-07:00", normalized)
		if err != nil {
			parsed, err = time.Parse(time.RFC3339Nano, t)
			if err != nil {
				return time.Time{}, false
			}
		}
		return parsed.UTC(), true
	default:
		return time.Time{}, false
	}
}

// Format serializes t as ISO-8601 with a "Z" UTC suffix, the wire format
// spec §6 mandates.
func Format(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.999999999Z")
}

// IsString reports whether v was carried as a string-typed timestamp — the
// legacy condition spec §4.3 asks the resolver to repair on local_wins.
func IsString(v any) bool {
	_, ok := v.(string)
	return ok
}
