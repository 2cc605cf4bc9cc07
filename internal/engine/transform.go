package engine

import (
	"fmt"

	"tablesync/internal/coerce"
	"tablesync/internal/schema"
	"tablesync/internal/source"
	"tablesync/internal/storage"
)

// transformed is one source record resolved against a table mapping:
// a destination row, its junction fan-out, and anything worth reporting.
type transformed struct {
	row   storage.Row
	links map[string][]storage.LinkPair // junction table -> pairs

	warnings []coerce.Warning
	errs     []string

	// failed means a required field errored; the row is rejected whole.
	failed bool
}

// transformRecord coerces every mapped field of one record. Fields are
// walked in mapping order so error and warning lists are deterministic.
// An optional field absent from the record binds NULL without an error,
// because the source omits empty fields; a required field with no usable
// value rejects the row whole.
func transformRecord(m *schema.TableMapping, rec source.Record) transformed {
	out := transformed{
		row: storage.Row{
			ExternalID: rec.ID,
			Modified:   rec.ModifiedTime,
			Values:     make(map[string]any, len(m.Fields)),
		},
	}

	for _, f := range m.Fields {
		raw, present := rec.Fields[f.SourceName]

		if f.Class.Kind == coerce.LinkArray {
			if !present {
				continue
			}
			res := coerce.Coerce(raw, f.Class)
			if res.Err != nil {
				out.fieldError(m, rec, f, res.Err)
				continue
			}
			if len(res.Links) == 0 {
				continue
			}
			junction := m.JunctionTable(f)
			if out.links == nil {
				out.links = make(map[string][]storage.LinkPair)
			}
			for _, ref := range res.Links {
				out.links[junction] = append(out.links[junction], storage.LinkPair{
					OwnerID:      rec.ID,
					ReferencedID: ref,
				})
			}
			continue
		}

		if !present {
			if f.Class.Required {
				out.requiredMissing(m, rec, f, "field absent from record")
				continue
			}
			out.row.Values[f.CanonicalName] = nil
			continue
		}

		res := coerce.Coerce(raw, f.Class)
		if res.Err != nil {
			out.fieldError(m, rec, f, res.Err)
			out.row.Values[f.CanonicalName] = nil
			continue
		}
		if res.Warning != nil {
			out.warnings = append(out.warnings, *res.Warning)
		}
		// A required field that coerced to NULL (sentinel, empty string)
		// rejects the row the same way an absent one does.
		if res.Value == nil && f.Class.Required {
			out.requiredMissing(m, rec, f, "value resolved to null")
			continue
		}
		out.row.Values[f.CanonicalName] = res.Value
	}

	return out
}

func (t *transformed) fieldError(m *schema.TableMapping, rec source.Record, f schema.FieldMapping, ferr *coerce.FieldError) {
	if f.Class.Required {
		t.requiredMissing(m, rec, f, ferr.Reason)
		return
	}
	t.errs = append(t.errs, fmt.Sprintf("record %s field %s: %v", rec.ID, f.SourceName, ferr))
}

func (t *transformed) requiredMissing(m *schema.TableMapping, rec source.Record, f schema.FieldMapping, reason string) {
	t.failed = true
	t.errs = append(t.errs, (&RequiredFieldMissing{
		Table:    m.Name,
		RecordID: rec.ID,
		Field:    f.SourceName,
		Reason:   reason,
	}).Error())
}
