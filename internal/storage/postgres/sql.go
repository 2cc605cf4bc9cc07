package postgres

import (
	"fmt"
	"strings"

	"tablesync/internal/storage"
)

// The SQL builders in this file are pure and deterministic so upsert
// correctness (conflict clause, distinct-from guard, placeholder
// numbering) is unit-testable without a database.

// buildUpsertSQL constructs the batch upsert statement and its args.
//
// Shape:
//
//	INSERT INTO t (external_record_id, c1..cn, synced_at, updated_at)
//	VALUES ($1, ..., now(), now()), ...
//	ON CONFLICT (external_record_id) DO UPDATE
//	SET c1 = EXCLUDED.c1, ..., updated_at = now()
//	WHERE (t.c1, ..., t.cn) IS DISTINCT FROM (EXCLUDED.c1, ..., EXCLUDED.cn)
//	RETURNING (xmax = 0)
//
// The WHERE guard keeps unchanged rows from being rewritten: they return
// no row and the caller counts them as skipped. xmax = 0 discriminates
// fresh inserts from updates.
func buildUpsertSQL(table string, columns []string, rows []storage.Row) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(", ")
	b.WriteString(quoteIdent(storage.SyncedAtColumn))
	b.WriteString(", ")
	b.WriteString(quoteIdent(storage.UpdatedAtColumn))
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*(len(columns)+1))
	p := 1
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("($%d", p))
		args = append(args, row.ExternalID)
		p++
		for _, c := range columns {
			b.WriteString(fmt.Sprintf(", $%d", p))
			args = append(args, row.Values[c])
			p++
		}
		b.WriteString(", now(), now())")
	}

	b.WriteString(" ON CONFLICT (")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
		b.WriteString(" = EXCLUDED.")
		b.WriteString(quoteIdent(c))
	}
	if len(columns) > 0 {
		b.WriteString(", ")
	}
	b.WriteString(quoteIdent(storage.UpdatedAtColumn))
	b.WriteString(" = now()")

	if len(columns) > 0 {
		b.WriteString(" WHERE (")
		writeQualified(&b, table, columns)
		b.WriteString(") IS DISTINCT FROM (")
		writeQualified(&b, "EXCLUDED", columns)
		b.WriteString(")")
	}

	b.WriteString(" RETURNING (xmax = 0)")
	return b.String(), args
}

func writeQualified(b *strings.Builder, qualifier string, columns []string) {
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		if qualifier == "EXCLUDED" {
			b.WriteString("EXCLUDED.")
		} else {
			b.WriteString(quoteIdent(qualifier))
			b.WriteString(".")
		}
		b.WriteString(quoteIdent(c))
	}
}

func buildDeleteLinksSQL(junction string, owners []string) (string, []any) {
	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(quoteIdent(junction))
	b.WriteString(" WHERE owner_record_id IN (")

	args := make([]any, 0, len(owners))
	for i, o := range owners {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("$%d", i+1))
		args = append(args, o)
	}
	b.WriteString(")")
	return b.String(), args
}

func buildInsertLinksSQL(junction string, pairs []storage.LinkPair) (string, []any) {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(junction))
	b.WriteString(" (owner_record_id, referenced_record_id) VALUES ")

	args := make([]any, 0, len(pairs)*2)
	p := 1
	for i, pair := range pairs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(fmt.Sprintf("($%d, $%d)", p, p+1))
		args = append(args, pair.OwnerID, pair.ReferencedID)
		p += 2
	}

	// Duplicate pairs within a record's link array are legal upstream.
	b.WriteString(" ON CONFLICT (owner_record_id, referenced_record_id) DO NOTHING")
	return b.String(), args
}

func buildCreateTableSQL(t storage.TableSpec) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(quoteIdent(t.Name))
	b.WriteString(" (")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	b.WriteString(" TEXT PRIMARY KEY")
	for _, c := range t.Columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c.Name))
		b.WriteString(" ")
		b.WriteString(c.Type)
	}
	b.WriteString(", ")
	b.WriteString(quoteIdent(storage.SyncedAtColumn))
	b.WriteString(" TIMESTAMPTZ NOT NULL DEFAULT now(), ")
	b.WriteString(quoteIdent(storage.UpdatedAtColumn))
	b.WriteString(" TIMESTAMPTZ NOT NULL DEFAULT now())")
	return b.String()
}

// buildCreateJunctionSQL renders a junction table. No foreign keys: link
// cycles are legal in the source model, so referential order cannot be
// guaranteed for both ends.
func buildCreateJunctionSQL(name string) string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (owner_record_id TEXT NOT NULL, referenced_record_id TEXT NOT NULL, UNIQUE (owner_record_id, referenced_record_id))",
		quoteIdent(name),
	)
}

func buildCreateSyncStateSQL() string {
	return fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (table_name TEXT PRIMARY KEY, watermark TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL DEFAULT now())",
		quoteIdent(storage.SyncStateTable),
	)
}

// quoteIdent double-quotes an identifier. Canonical names are already
// sanitized lowercase ASCII; quoting guards against reserved words.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
