package ident

import "fmt"

// Override pins one (table, source field) pair to an explicit canonical
// column name. Overrides are consulted before the sanitizer algorithm runs
// and survive re-runs; they exist so operator-confirmed mappings never
// shift when upstream renames or reorders fields.
type Override struct {
	Table         string `json:"table"`
	SourceName    string `json:"source_name"`
	CanonicalName string `json:"canonical_name"`
}

// Collision records two distinct source names that normalized to the same
// base identifier. The suffix rule keeps them distinct, but the occurrence
// is surfaced to the operator rather than silently merged.
type Collision struct {
	SourceName string
	Canonical  string
	Base       string
}

// Sanitizer assigns canonical identifiers for one table's fields.
//
// Determinism contract: given the same ordered sequence of Sanitize calls
// and the same override set, two independent Sanitizer instances produce
// identical assignments, including suffix order. Callers must process
// fields in the source schema's declared order.
//
// A Sanitizer is not safe for concurrent use; build mappings once per run
// and share the immutable result.
type Sanitizer struct {
	overrides map[string]string // source name -> pinned canonical
	taken     map[string]bool   // canonical names assigned so far
	seq       map[string]int    // base -> occurrences seen
	collided  []Collision
}

// NewSanitizer returns a Sanitizer for a single table. overrides holds the
// pinned entries for that table only, keyed by source field name.
func NewSanitizer(overrides map[string]string) *Sanitizer {
	return &Sanitizer{
		overrides: overrides,
		taken:     make(map[string]bool),
		seq:       make(map[string]int),
	}
}

// Sanitize returns the canonical identifier for name, unique within this
// table for this run.
func (s *Sanitizer) Sanitize(name string) string {
	if pin, ok := s.overrides[name]; ok {
		s.taken[pin] = true
		return pin
	}

	base := Normalize(name)
	s.seq[base]++
	n := s.seq[base]

	canon := truncate(base, n)
	// An override may already occupy the computed name, and truncation can
	// re-introduce a clash; keep bumping the suffix until free. The loop is
	// deterministic because taken only grows in call order.
	for s.taken[canon] {
		n++
		canon = truncate(base, n)
	}
	if n > 1 {
		s.collided = append(s.collided, Collision{SourceName: name, Canonical: canon, Base: base})
	}

	s.taken[canon] = true
	return canon
}

// Collisions returns every suffixed assignment made so far, in first-seen
// order, for operator reporting.
func (s *Sanitizer) Collisions() []Collision { return s.collided }

// truncate renders base with an optional ordinal suffix, keeping the total
// within MaxLen while preserving the suffix. n==1 means no suffix.
func truncate(base string, n int) string {
	suffix := ""
	if n > 1 {
		suffix = fmt.Sprintf("_%d", n)
	}
	if len(base)+len(suffix) <= MaxLen {
		return base + suffix
	}
	cut := MaxLen - len(suffix)
	trimmed := base[:cut]
	// Avoid a dangling underscore before the suffix.
	for len(trimmed) > 1 && trimmed[len(trimmed)-1] == '_' {
		trimmed = trimmed[:len(trimmed)-1]
	}
	return trimmed + suffix
}
