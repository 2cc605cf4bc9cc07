package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tablesync/internal/storage"
)

// Repo implements storage.Destination for Postgres.
//
// Upsert strategy: one multi-row INSERT ... ON CONFLICT (external id)
// DO UPDATE guarded by IS DISTINCT FROM, RETURNING (xmax = 0). Rows whose
// stored values already match the incoming values fail the update guard,
// return nothing, and are counted as skipped, so updated_at moves only
// when data actually changed.
type Repo struct {
	pool *pgxpool.Pool
}

func init() {
	storage.Register("postgres", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Destination, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

func (r *Repo) Close() { r.pool.Close() }

// EnsureTables creates data tables, their junction tables, and the
// sync_state table. Idempotent.
func (r *Repo) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if _, err := r.pool.Exec(ctx, buildCreateTableSQL(t)); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
		for _, j := range t.Junctions {
			if _, err := r.pool.Exec(ctx, buildCreateJunctionSQL(j)); err != nil {
				return fmt.Errorf("create junction %s: %w", j, err)
			}
		}
	}
	_, err := r.pool.Exec(ctx, buildCreateSyncStateSQL())
	if err != nil {
		return fmt.Errorf("create %s: %w", storage.SyncStateTable, err)
	}
	return nil
}

// Columns returns the live column names of a table in ordinal order.
func (r *Repo) Columns(ctx context.Context, table string) ([]string, error) {
	const q = `SELECT column_name FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1
		ORDER BY ordinal_position`

	rows, err := r.pool.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("columns %s: scan: %w", table, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("columns %s: %w", table, err)
	}
	return out, nil
}

// UpsertRows writes one batch in one transaction.
func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows []storage.Row) (storage.UpsertStats, error) {
	var stats storage.UpsertStats
	if len(rows) == 0 {
		return stats, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return stats, err
	}
	defer tx.Rollback(ctx)

	sql, args := buildUpsertSQL(table, columns, rows)

	res, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return stats, fmt.Errorf("upsert %s: %w", table, err)
	}
	for res.Next() {
		var inserted bool
		if err := res.Scan(&inserted); err != nil {
			res.Close()
			return stats, fmt.Errorf("upsert %s: scan: %w", table, err)
		}
		if inserted {
			stats.Inserted++
		} else {
			stats.Updated++
		}
	}
	if err := res.Err(); err != nil {
		res.Close()
		return stats, fmt.Errorf("upsert %s: %w", table, err)
	}
	res.Close()

	// Rows filtered out by the IS DISTINCT FROM guard return nothing.
	stats.Skipped = len(rows) - stats.Inserted - stats.Updated

	if err := tx.Commit(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// ReplaceLinks replaces junction pairs for the given owners in one
// transaction: delete what those owners had, insert the current set.
func (r *Repo) ReplaceLinks(ctx context.Context, junction string, owners []string, pairs []storage.LinkPair) (int, error) {
	if len(owners) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	delSQL, delArgs := buildDeleteLinksSQL(junction, owners)
	if _, err := tx.Exec(ctx, delSQL, delArgs...); err != nil {
		return 0, fmt.Errorf("replace links %s: delete: %w", junction, err)
	}

	if len(pairs) > 0 {
		insSQL, insArgs := buildInsertLinksSQL(junction, pairs)
		if _, err := tx.Exec(ctx, insSQL, insArgs...); err != nil {
			return 0, fmt.Errorf("replace links %s: insert: %w", junction, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(pairs), nil
}

func (r *Repo) CountRows(ctx context.Context, table string) (int64, error) {
	var n int64
	err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func (r *Repo) LoadWatermark(ctx context.Context, table string) (time.Time, bool, error) {
	const q = `SELECT watermark FROM sync_state WHERE table_name = $1`
	var ts time.Time
	err := r.pool.QueryRow(ctx, q, table).Scan(&ts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("load watermark %s: %w", table, err)
	}
	return ts, true, nil
}

func (r *Repo) SaveWatermark(ctx context.Context, table string, ts time.Time) error {
	const q = `INSERT INTO sync_state (table_name, watermark, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (table_name) DO UPDATE
		SET watermark = EXCLUDED.watermark, updated_at = now()`
	if _, err := r.pool.Exec(ctx, q, table, ts.UTC()); err != nil {
		return fmt.Errorf("save watermark %s: %w", table, err)
	}
	return nil
}
