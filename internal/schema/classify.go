package schema

import (
	"tablesync/internal/coerce"
	"tablesync/internal/source"
)

// Classify maps a discovered field's declared type onto a coercion class.
// Unknown types fall back to JSON so no value shape can corrupt a load.
func Classify(f source.Field) coerce.FieldClass {
	switch f.Type {
	case "singleLineText", "multilineText", "richText", "email", "url",
		"phoneNumber", "singleSelect", "barcode":
		return coerce.FieldClass{Kind: coerce.Text}

	case "number", "currency", "autoNumber", "count", "duration", "rating":
		// The metadata endpoint does not distinguish integer from decimal
		// reliably across field options; decimal accepts both without loss.
		if f.Type == "autoNumber" || f.Type == "count" || f.Type == "rating" {
			return coerce.FieldClass{Kind: coerce.Integer}
		}
		return coerce.FieldClass{Kind: coerce.Decimal, Precision: 18, Scale: 6}

	case "percent":
		return coerce.FieldClass{Kind: coerce.Percent}

	case "date", "dateTime", "createdTime", "lastModifiedTime":
		return coerce.FieldClass{Kind: coerce.Date}

	case "multipleRecordLinks":
		return coerce.FieldClass{Kind: coerce.LinkArray}

	default:
		return coerce.FieldClass{Kind: coerce.JSONFallback}
	}
}
