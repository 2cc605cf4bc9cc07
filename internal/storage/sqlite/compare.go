package sqlite

import "fmt"

// equalScalar compares a stored driver value against an incoming bind
// value for change detection.
//
// Why this exists: values round-trip through SQLite's type affinity, so a
// bound int64 can come back as int64 or float64 depending on the column,
// and TEXT can scan as []byte. Direct interface comparison would report
// spurious changes and defeat upsert idempotence.
func equalScalar(stored, incoming any) bool {
	if stored == nil || incoming == nil {
		return stored == nil && incoming == nil
	}

	if sf, ok := asFloat(stored); ok {
		if inf, ok := asFloat(incoming); ok {
			return sf == inf
		}
	}

	if ss, ok := asString(stored); ok {
		if is, ok := asString(incoming); ok {
			return ss == is
		}
	}

	return fmt.Sprint(stored) == fmt.Sprint(incoming)
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int64:
		return float64(t), true
	case int:
		return float64(t), true
	case float64:
		return t, true
	default:
		return 0, false
	}
}

func asString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case []byte:
		return string(t), true
	default:
		return "", false
	}
}
