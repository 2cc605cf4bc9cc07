// Package coerce converts the source API's loosely-typed field values into
// strict relational values.
//
// Every raw value is resolved exactly once, at ingestion, into a typed value
// tagged by its field class. Downstream code (batching, SQL binding) never
// branches on raw dynamic shape again.
package coerce

import "fmt"

// Kind enumerates the supported field classes.
type Kind int

const (
	Text Kind = iota
	Integer
	Decimal
	Percent
	Date
	LinkArray
	JSONFallback
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Integer:
		return "integer"
	case Decimal:
		return "decimal"
	case Percent:
		return "percent"
	case Date:
		return "date"
	case LinkArray:
		return "link_array"
	case JSONFallback:
		return "json"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// DefaultPercentCeiling fits NUMERIC(5,3), the destination type percent
// columns are declared with.
const DefaultPercentCeiling = 99.999

// FieldClass declares how one source field is coerced.
type FieldClass struct {
	Kind      Kind
	Precision int // decimal only
	Scale     int // decimal only

	// Required marks fields whose coercion failure rejects the whole row
	// instead of writing NULL.
	Required bool

	// PercentCeiling caps percent magnitudes; zero means
	// DefaultPercentCeiling.
	PercentCeiling float64
}

func (fc FieldClass) ceiling() float64 {
	if fc.PercentCeiling > 0 {
		return fc.PercentCeiling
	}
	return DefaultPercentCeiling
}

// FieldError is a row-survivable coercion failure: the field is written as
// NULL and the error is reported, unless the field is Required.
type FieldError struct {
	Class  Kind
	Raw    any
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("coerce %s: %s (raw=%v)", e.Class, e.Reason, e.Raw)
}

// Warning records a lossy-but-accepted coercion, e.g. a clamped percent or
// an unparsable date written as NULL. Warnings are counted and listed in
// the run report; they never fail a row.
type Warning struct {
	Kind    string // "percent_clamp" | "date_parse"
	Raw     any
	Message string
}

// Result is the outcome of coercing one raw value.
//
// Exactly one of the following holds:
//   - Err != nil: Value is nil; caller decides row fate via Required.
//   - Links != nil (LinkArray class): Value is always nil, the owning
//     column is never written.
//   - otherwise: Value is the typed value (possibly nil for NULL).
type Result struct {
	Value   any
	Links   []string
	Warning *Warning
	Err     *FieldError
}
