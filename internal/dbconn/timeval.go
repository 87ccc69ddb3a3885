package dbconn

import "time"

// timeLayouts are the text forms timestamps come back in, depending on
// engine and column type. Tried in order.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimeValue interprets a scanned column value as a timestamp.
// Drivers surface timestamps as time.Time, string, or []byte depending
// on the engine and column declaration.
func ParseTimeValue(v any) (time.Time, bool) {
	switch val := v.(type) {
	case time.Time:
		return val.UTC(), true
	case string:
		return parseTimeString(val)
	case []byte:
		return parseTimeString(string(val))
	default:
		return time.Time{}, false
	}
}

func parseTimeString(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
