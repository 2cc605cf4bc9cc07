// Package schema resolves discovered source tables into the canonical
// relational mapping used by both DDL generation and data loading.
//
// The mapping is computed once per run, after discovery and override
// validation, and is read-only afterwards.
package schema

import (
	"fmt"
	"strings"

	"tablesync/internal/coerce"
	"tablesync/internal/ident"
	"tablesync/internal/source"
)

// FieldMapping binds one source field to its canonical column.
type FieldMapping struct {
	SourceName    string
	CanonicalName string
	Class         coerce.FieldClass

	// LinkedTableID is set for link-array fields.
	LinkedTableID string
}

// TableMapping is the canonical schema for one source table.
type TableMapping struct {
	SourceTableID string
	SourceName    string
	Name          string // canonical table name
	Fields        []FieldMapping

	// Collisions flags distinct source fields whose names normalized
	// identically; they stay distinct via suffixes but the operator should
	// pin overrides for them.
	Collisions []ident.Collision
}

// Field returns the mapping for a source field name, or nil.
func (t *TableMapping) Field(sourceName string) *FieldMapping {
	for i := range t.Fields {
		if t.Fields[i].SourceName == sourceName {
			return &t.Fields[i]
		}
	}
	return nil
}

// LinkFields returns the link-array fields of the table.
func (t *TableMapping) LinkFields() []FieldMapping {
	var out []FieldMapping
	for _, f := range t.Fields {
		if f.Class.Kind == coerce.LinkArray {
			out = append(out, f)
		}
	}
	return out
}

// JunctionTable names the junction table materializing one link field.
func (t *TableMapping) JunctionTable(f FieldMapping) string {
	return t.Name + "__" + f.CanonicalName + "_links"
}

// MarkRequired flags source fields whose coercion failure must reject the
// whole row. Called during setup only; mappings are immutable during a run.
func (t *TableMapping) MarkRequired(sourceNames []string) {
	for _, n := range sourceNames {
		if f := t.Field(n); f != nil {
			f.Class.Required = true
		}
	}
}

// Build computes table mappings for every discovered table, in discovery
// order. Overrides are validated first: an override referencing a table or
// field absent from the discovered schema fails the build (stale overrides
// must be cleaned up, not silently ignored).
func Build(tables []source.Table, overrides []ident.Override) ([]*TableMapping, error) {
	// Canonical table names first; they key the override set.
	tableNamer := ident.NewSanitizer(nil)
	names := make([]string, len(tables))
	for i, t := range tables {
		names[i] = tableNamer.Sanitize(t.Name)
	}

	if err := validateOverrides(tables, names, overrides); err != nil {
		return nil, err
	}

	byTable := overridesByTable(overrides)

	out := make([]*TableMapping, 0, len(tables))
	for i, t := range tables {
		m := &TableMapping{
			SourceTableID: t.ID,
			SourceName:    t.Name,
			Name:          names[i],
		}

		s := ident.NewSanitizer(byTable[m.Name])
		for _, f := range t.Fields {
			m.Fields = append(m.Fields, FieldMapping{
				SourceName:    f.Name,
				CanonicalName: s.Sanitize(f.Name),
				Class:         Classify(f),
				LinkedTableID: f.LinkedTableID,
			})
		}
		m.Collisions = s.Collisions()
		out = append(out, m)
	}
	return out, nil
}

func overridesByTable(overrides []ident.Override) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for _, o := range overrides {
		m := out[o.Table]
		if m == nil {
			m = make(map[string]string)
			out[o.Table] = m
		}
		m[o.SourceName] = o.CanonicalName
	}
	return out
}

// validateOverrides fails fast when an override references a table or
// source field the discovered schema does not contain.
func validateOverrides(tables []source.Table, names []string, overrides []ident.Override) error {
	fieldsByTable := make(map[string]map[string]bool, len(tables))
	for i, t := range tables {
		set := make(map[string]bool, len(t.Fields))
		for _, f := range t.Fields {
			set[f.Name] = true
		}
		fieldsByTable[names[i]] = set
	}

	var stale []string
	for _, o := range overrides {
		fields, ok := fieldsByTable[o.Table]
		if !ok {
			stale = append(stale, fmt.Sprintf("%s.%s (unknown table)", o.Table, o.SourceName))
			continue
		}
		if !fields[o.SourceName] {
			stale = append(stale, fmt.Sprintf("%s.%s (unknown field)", o.Table, o.SourceName))
		}
	}
	if len(stale) > 0 {
		return fmt.Errorf("stale overrides: %s", strings.Join(stale, ", "))
	}
	return nil
}
