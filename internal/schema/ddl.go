package schema

import (
	"fmt"

	"tablesync/internal/coerce"
	"tablesync/internal/storage"
)

// columnType picks the destination column type for a field class.
// Spellings are Postgres; other backends translate.
func columnType(fc coerce.FieldClass) string {
	switch fc.Kind {
	case coerce.Integer:
		return "bigint"
	case coerce.Decimal:
		p, s := fc.Precision, fc.Scale
		if p == 0 {
			p, s = 18, 6
		}
		return fmt.Sprintf("numeric(%d,%d)", p, s)
	case coerce.Percent:
		return "numeric(5,3)"
	case coerce.Date:
		return "timestamptz"
	default:
		return "text"
	}
}

// ScalarColumns returns the canonical column names written into the owning
// row, in mapping order. Link-array fields are excluded: they only
// materialize as junction rows.
func (t *TableMapping) ScalarColumns() []string {
	out := make([]string, 0, len(t.Fields))
	for _, f := range t.Fields {
		if f.Class.Kind == coerce.LinkArray {
			continue
		}
		out = append(out, f.CanonicalName)
	}
	return out
}

// Spec renders the mapping as a destination table spec for DDL bootstrap.
func (t *TableMapping) Spec() storage.TableSpec {
	spec := storage.TableSpec{Name: t.Name}
	for _, f := range t.Fields {
		if f.Class.Kind == coerce.LinkArray {
			spec.Junctions = append(spec.Junctions, t.JunctionTable(f))
			continue
		}
		spec.Columns = append(spec.Columns, storage.ColumnSpec{
			Name: f.CanonicalName,
			Type: columnType(f.Class),
		})
	}
	return spec
}
