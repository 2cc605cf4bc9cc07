package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"tablesync/internal/storage"
)

// Repo implements storage.Destination for SQLite, used for local runs and
// tests without a Postgres server.
//
// Key differences vs the Postgres backend:
//   - SQLite has no TIMESTAMPTZ; timestamps are stored as RFC3339Nano
//     strings for reliable round-trips and easy debugging.
//   - There is no xmax-style insert/update discrimination, so a batch is
//     split by a pre-SELECT inside the same transaction: absent rows are
//     inserted, changed rows updated, identical rows skipped untouched.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Destination, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := r.db.ExecContext(ctx, buildCreateTableSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		for _, j := range t.Junctions {
			if _, err := r.db.ExecContext(ctx, buildCreateJunctionSQL(j)); err != nil {
				return fmt.Errorf("create junction %s: %w", j, err)
			}
		}
	}
	const stateSQL = `CREATE TABLE IF NOT EXISTS sync_state (
		table_name TEXT PRIMARY KEY, watermark TEXT NOT NULL, updated_at TEXT NOT NULL)`
	if _, err := r.db.ExecContext(ctx, stateSQL); err != nil {
		return fmt.Errorf("create sync_state: %w", err)
	}
	return nil
}

func (r *Repo) Columns(ctx context.Context, table string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("columns %s: scan: %w", table, err)
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows []storage.Row) (storage.UpsertStats, error) {
	var stats storage.UpsertStats
	if len(rows) == 0 {
		return stats, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback()

	existing, err := r.selectExisting(ctx, tx, table, columns, rows)
	if err != nil {
		return stats, err
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)

	for _, row := range rows {
		stored, ok := existing[row.ExternalID]
		switch {
		case !ok:
			if err := insertRow(ctx, tx, table, columns, row, now); err != nil {
				return stats, fmt.Errorf("upsert %s: insert %s: %w", table, row.ExternalID, err)
			}
			stats.Inserted++
		case rowChanged(columns, stored, row):
			if err := updateRow(ctx, tx, table, columns, row, now); err != nil {
				return stats, fmt.Errorf("upsert %s: update %s: %w", table, row.ExternalID, err)
			}
			stats.Updated++
		default:
			stats.Skipped++
		}
	}

	if err := tx.Commit(); err != nil {
		return stats, err
	}
	return stats, nil
}

// selectExisting fetches the stored values for the batch's external ids.
func (r *Repo) selectExisting(ctx context.Context, tx *sql.Tx, table string, columns []string, rows []storage.Row) (map[string][]any, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" WHERE ")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	b.WriteString(" IN (")

	args := make([]any, 0, len(rows))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, row.ExternalID)
	}
	b.WriteString(")")

	res, err := tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("upsert %s: select existing: %w", table, err)
	}
	defer res.Close()

	out := make(map[string][]any)
	for res.Next() {
		vals := make([]any, len(columns)+1)
		dests := make([]any, len(vals))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := res.Scan(dests...); err != nil {
			return nil, fmt.Errorf("upsert %s: scan existing: %w", table, err)
		}
		id, _ := vals[0].(string)
		out[id] = vals[1:]
	}
	return out, res.Err()
}

func rowChanged(columns []string, stored []any, row storage.Row) bool {
	for i, c := range columns {
		if !equalScalar(stored[i], bindValue(row.Values[c])) {
			return true
		}
	}
	return false
}

func insertRow(ctx context.Context, tx *sql.Tx, table string, columns []string, row storage.Row, now string) error {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" (")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	for _, c := range columns {
		b.WriteString(", ")
		b.WriteString(quoteIdent(c))
	}
	b.WriteString(", synced_at, updated_at) VALUES (?")
	args := make([]any, 0, len(columns)+3)
	args = append(args, row.ExternalID)
	for _, c := range columns {
		b.WriteString(", ?")
		args = append(args, bindValue(row.Values[c]))
	}
	b.WriteString(", ?, ?)")
	args = append(args, now, now)

	_, err := tx.ExecContext(ctx, b.String(), args...)
	return err
}

func updateRow(ctx context.Context, tx *sql.Tx, table string, columns []string, row storage.Row, now string) error {
	var b strings.Builder
	b.WriteString("UPDATE ")
	b.WriteString(quoteIdent(table))
	b.WriteString(" SET ")
	args := make([]any, 0, len(columns)+2)
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(c))
		b.WriteString(" = ?")
		args = append(args, bindValue(row.Values[c]))
	}
	b.WriteString(", updated_at = ? WHERE ")
	b.WriteString(quoteIdent(storage.ExternalIDColumn))
	b.WriteString(" = ?")
	args = append(args, now, row.ExternalID)

	_, err := tx.ExecContext(ctx, b.String(), args...)
	return err
}

func (r *Repo) ReplaceLinks(ctx context.Context, junction string, owners []string, pairs []storage.LinkPair) (int, error) {
	if len(owners) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var b strings.Builder
	b.WriteString("DELETE FROM ")
	b.WriteString(quoteIdent(junction))
	b.WriteString(" WHERE owner_record_id IN (")
	args := make([]any, 0, len(owners))
	for i, o := range owners {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
		args = append(args, o)
	}
	b.WriteString(")")
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return 0, fmt.Errorf("replace links %s: delete: %w", junction, err)
	}

	for _, p := range pairs {
		if _, err := tx.ExecContext(ctx,
			"INSERT OR IGNORE INTO "+quoteIdent(junction)+" (owner_record_id, referenced_record_id) VALUES (?, ?)",
			p.OwnerID, p.ReferencedID,
		); err != nil {
			return 0, fmt.Errorf("replace links %s: insert: %w", junction, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(pairs), nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) LoadWatermark(ctx context.Context, table string) (time.Time, bool, error) {
	var s string
	err := r.db.QueryRowContext(ctx, "SELECT watermark FROM sync_state WHERE table_name = ?", table).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark %s: %w", table, err)
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load watermark %s: parse %q: %w", table, s, err)
	}
	return ts, true, nil
}

func (r *Repo) SaveWatermark(ctx context.Context, table string, ts time.Time) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO sync_state (table_name, watermark, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (table_name) DO UPDATE SET watermark = excluded.watermark, updated_at = excluded.updated_at`,
		table, ts.UTC().Format(time.RFC3339Nano), now,
	)
	if err != nil {
		return fmt.Errorf("save watermark %s: %w", table, err)
	}
	return nil
}

// bindValue converts engine values into driver-friendly shapes. Times
// become RFC3339Nano strings; everything else passes through.
func bindValue(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
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
		b.WriteString(translateType(c.Type))
	}
	b.WriteString(", synced_at TEXT NOT NULL, updated_at TEXT NOT NULL)")
	return b.String()
}

func buildCreateJunctionSQL(name string) string {
	return "CREATE TABLE IF NOT EXISTS " + quoteIdent(name) +
		" (owner_record_id TEXT NOT NULL, referenced_record_id TEXT NOT NULL, UNIQUE (owner_record_id, referenced_record_id))"
}

// translateType maps the generic Postgres spellings onto SQLite storage
// classes.
func translateType(pg string) string {
	switch {
	case pg == "timestamptz":
		return "TEXT"
	case pg == "bigint":
		return "INTEGER"
	case strings.HasPrefix(pg, "numeric"):
		return "REAL"
	default:
		return "TEXT"
	}
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
