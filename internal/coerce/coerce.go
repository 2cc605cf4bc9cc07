package coerce

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Coerce converts one raw heterogeneous value into its declared field
// class. The sentinel pre-pass applies to every class before any
// class-specific parsing.
func Coerce(raw any, fc FieldClass) Result {
	if raw == nil || IsSentinelNaN(raw) {
		return Result{}
	}

	switch fc.Kind {
	case Text:
		return coerceText(raw)
	case Integer:
		return coerceInteger(raw)
	case Decimal:
		return coerceDecimal(raw, fc)
	case Percent:
		return coercePercent(raw, fc)
	case Date:
		return coerceDate(raw)
	case LinkArray:
		return coerceLinks(raw)
	case JSONFallback:
		return coerceJSON(raw)
	default:
		return Result{Err: &FieldError{Class: fc.Kind, Raw: raw, Reason: "unknown field class"}}
	}
}

func coerceText(raw any) Result {
	switch t := raw.(type) {
	case string:
		return Result{Value: t}
	case float64:
		return Result{Value: strconv.FormatFloat(t, 'f', -1, 64)}
	case bool:
		return Result{Value: strconv.FormatBool(t)}
	default:
		// Structured values in a text field keep their JSON rendering.
		return coerceJSON(raw)
	}
}

func coerceInteger(raw any) Result {
	switch t := raw.(type) {
	case float64:
		if t != math.Trunc(t) {
			return Result{Err: &FieldError{Class: Integer, Raw: raw, Reason: "fractional value for integer field"}}
		}
		return Result{Value: int64(t)}
	case string:
		s := cleanNumeric(t)
		if s == "" {
			return Result{}
		}
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return Result{Err: &FieldError{Class: Integer, Raw: raw, Reason: "not an integer"}}
		}
		return Result{Value: n}
	default:
		return Result{Err: &FieldError{Class: Integer, Raw: raw, Reason: fmt.Sprintf("unsupported shape %T", raw)}}
	}
}

func coerceDecimal(raw any, fc FieldClass) Result {
	switch t := raw.(type) {
	case float64:
		return Result{Value: t}
	case string:
		s := cleanNumeric(t)
		if s == "" {
			return Result{}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Result{Err: &FieldError{Class: Decimal, Raw: raw, Reason: "not a number"}}
		}
		return Result{Value: f}
	default:
		return Result{Err: &FieldError{Class: Decimal, Raw: raw, Reason: fmt.Sprintf("unsupported shape %T", raw)}}
	}
}

// coercePercent normalizes percent-ish values to a fraction.
//
// Accepted shapes: bare numerics, and strings like "85", "85%", "0.85",
// "12.3 %", "1,250%". Magnitudes above the ceiling saturate to ±ceiling with a
// recorded warning instead of overflowing the destination numeric type.
// Otherwise magnitudes above 1 are assumed to be whole-number percentages
// and divided by 100; this heuristic can misread legitimately large values
// and is deliberately not refined further (flagged to the data owner
// instead).
func coercePercent(raw any, fc FieldClass) Result {
	var num float64
	switch t := raw.(type) {
	case float64:
		num = t
	case string:
		s := strings.TrimSpace(t)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
		if s == "" {
			return Result{}
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Result{Err: &FieldError{Class: Percent, Raw: raw, Reason: "not a percent"}}
		}
		num = f
	default:
		return Result{Err: &FieldError{Class: Percent, Raw: raw, Reason: fmt.Sprintf("unsupported shape %T", raw)}}
	}

	ceil := fc.ceiling()
	if math.Abs(num) > ceil {
		clamped := math.Copysign(ceil, num)
		return Result{
			Value: clamped,
			Warning: &Warning{
				Kind:    "percent_clamp",
				Raw:     raw,
				Message: fmt.Sprintf("percent magnitude %v exceeds ceiling %v, clamped", num, ceil),
			},
		}
	}
	if math.Abs(num) > 1 {
		num /= 100
	}
	return Result{Value: num}
}

// dateLayouts are tried in order: full ISO-8601 timestamps first, then the
// source's native date-only form.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func coerceDate(raw any) Result {
	s, ok := raw.(string)
	if !ok {
		return Result{Warning: &Warning{Kind: "date_parse", Raw: raw, Message: fmt.Sprintf("non-string date %T, stored NULL", raw)}}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return Result{}
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return Result{Value: ts.UTC()}
		}
	}
	return Result{Warning: &Warning{Kind: "date_parse", Raw: raw, Message: fmt.Sprintf("unparsable date %q, stored NULL", s)}}
}

// coerceLinks fans a link-array out into referenced external ids. The
// owning row's column is never written for this class; each id becomes one
// (owner, referenced) junction pair downstream. An empty array is zero
// pairs, not an error.
func coerceLinks(raw any) Result {
	arr, ok := raw.([]any)
	if !ok {
		return Result{Err: &FieldError{Class: LinkArray, Raw: raw, Reason: fmt.Sprintf("link field holds %T, want array", raw)}}
	}
	links := make([]string, 0, len(arr))
	for _, el := range arr {
		id, ok := el.(string)
		if !ok {
			return Result{Err: &FieldError{Class: LinkArray, Raw: raw, Reason: "link element is not a record id"}}
		}
		links = append(links, id)
	}
	return Result{Links: links}
}

func coerceJSON(raw any) Result {
	b, err := json.Marshal(raw)
	if err != nil {
		return Result{Err: &FieldError{Class: JSONFallback, Raw: raw, Reason: "not JSON-encodable"}}
	}
	return Result{Value: string(b)}
}

// cleanNumeric trims whitespace and thousands separators before numeric
// parsing.
func cleanNumeric(s string) string {
	s = strings.TrimSpace(s)
	return strings.ReplaceAll(s, ",", "")
}

// IsLinkShape reports whether a raw value looks like the source's link
// field: a non-empty array of record ids ("rec..."). Schema discovery uses
// this to classify fields when the source metadata is unavailable.
func IsLinkShape(v any) bool {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return false
	}
	for _, el := range arr {
		s, ok := el.(string)
		if !ok || !strings.HasPrefix(s, "rec") {
			return false
		}
	}
	return true
}
