// Package ident derives canonical SQL identifiers from arbitrary source
// field and table names.
//
// The sanitizer is the cross-process contract between schema generation and
// data loading: both sides feed it the same ordered name list and must get
// byte-identical output. Nothing here may depend on map iteration order,
// wall clock, or any other per-process state.
package ident

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLen is the destination identifier length limit (Postgres NAMEDATALEN-1).
// SQLite has no practical limit, so the stricter bound applies everywhere.
const MaxLen = 63

// Placeholder is substituted when sanitization leaves nothing usable.
const Placeholder = "field"

// stripMarks decomposes to NFD, drops combining marks, and recomposes.
// "chú" -> "chu", "Ghi chú" -> "Ghi chu". Characters that do not decompose
// to base letter + mark (e.g. "đ") fall through and are dropped later by
// the ASCII filter.
var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// separator characters are folded into a single underscore.
const separators = " -/.()[]"

// Normalize applies the stateless part of the sanitizer: diacritic
// stripping, lowercasing, separator folding, percent expansion, ASCII
// filtering and underscore cleanup. It does not handle collisions or
// overrides; use a Sanitizer for per-table assignment.
func Normalize(name string) string {
	s, _, err := transform.String(stripMarks, name)
	if err != nil {
		// Transform failure leaves the input untouched; the ASCII filter
		// below still guarantees a legal identifier.
		s = name
	}
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '%':
			b.WriteString("pct")
		case strings.ContainsRune(separators, r):
			b.WriteByte('_')
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			b.WriteRune(r)
		default:
			// Anything else (remaining non-ASCII, punctuation) is dropped.
		}
	}

	out := collapseUnderscores(b.String())
	out = strings.Trim(out, "_")
	if out == "" {
		return Placeholder
	}
	if out[0] >= '0' && out[0] <= '9' {
		out = digitPrefix(out) + out
	}
	return out
}

// digitPrefix chooses the prefix for identifiers that would start with a
// digit. Shift-style names ("16h30_19h") keep the numeric-series marker
// "n_"; everything else gets the generic field marker "f_".
func digitPrefix(s string) string {
	if strings.ContainsRune(s, 'h') {
		return "n_"
	}
	return "f_"
}

func collapseUnderscores(s string) string {
	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}
	return s
}
