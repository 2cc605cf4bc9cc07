package coerce

import (
	"encoding/json"
	"strings"
)

// The source API emits an explicit not-a-number marker in place of numeric
// nulls: the object {"specialValue":"NaN"}, sometimes serialized into a
// string by upstream formula fields. The marker maps to a true SQL NULL in
// every field class, never to zero, an empty string, or a literal JSON
// string.

const sentinelKey = "specialValue"
const sentinelVal = "NaN"

// IsSentinelNaN reports whether v is the source's not-a-number marker, in
// either object or string-embedded form.
func IsSentinelNaN(v any) bool {
	switch t := v.(type) {
	case map[string]any:
		s, ok := t[sentinelKey].(string)
		return ok && s == sentinelVal
	case string:
		return isSentinelString(t)
	default:
		return false
	}
}

func isSentinelString(s string) bool {
	// Fast path: literal containment, with or without the space the source
	// sometimes inserts after the colon.
	if strings.Contains(s, `{"specialValue": "NaN"}`) || strings.Contains(s, `{"specialValue":"NaN"}`) {
		return true
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") {
		return false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return false
	}
	got, ok := obj[sentinelKey].(string)
	return ok && got == sentinelVal
}
