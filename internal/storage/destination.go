// Package storage defines the backend-agnostic destination contract for
// the sync engine, plus the backend registry. Backends live in
// subpackages and register themselves by kind.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config is the minimal configuration needed to open a destination.
type Config struct {
	Kind string
	DSN  string
}

// Row is one fully-coerced record ready for upsert. Values maps canonical
// column name to a typed value; nil means SQL NULL. The column set is the
// table's full mapped set, so every row in a batch binds the same columns.
type Row struct {
	ExternalID string
	Modified   time.Time
	Values     map[string]any
}

// LinkPair is one junction row: an element of a link-array field.
type LinkPair struct {
	OwnerID      string
	ReferencedID string
}

// UpsertStats counts the outcome of one batch.
type UpsertStats struct {
	Inserted int
	Updated  int
	Skipped  int // present and byte-identical: no write, no timestamp bump
}

func (s UpsertStats) Add(o UpsertStats) UpsertStats {
	return UpsertStats{
		Inserted: s.Inserted + o.Inserted,
		Updated:  s.Updated + o.Updated,
		Skipped:  s.Skipped + o.Skipped,
	}
}

// Destination is the backend-agnostic interface the engine writes through.
//
// IMPORTANT: this interface is intentionally minimal and focused on the
// operations the sync engine needs. Each backend implements the semantics
// its own idiomatic way (Postgres ON CONFLICT, SQLite pre-select split,
// etc). What must hold everywhere:
//
//   - UpsertRows is one transaction per call, keyed by external id, and
//     idempotent: re-applying an unchanged batch changes nothing
//     observable, including the updated_at column.
//   - EnsureTables is idempotent DDL.
type Destination interface {
	Close()

	// EnsureTables creates data tables, junction tables and the sync_state
	// table as needed.
	EnsureTables(ctx context.Context, tables []TableSpec) error

	// Columns returns the live column catalog of a table, used to detect
	// schema drift before writing.
	Columns(ctx context.Context, table string) ([]string, error)

	// UpsertRows writes one batch in one transaction. columns fixes the
	// bind order; every row binds exactly those columns.
	UpsertRows(ctx context.Context, table string, columns []string, rows []Row) (UpsertStats, error)

	// ReplaceLinks replaces the junction pairs for the owners present in
	// pairs: stale pairs for those owners are removed, new ones inserted.
	// Returns the number of pairs now stored for those owners.
	ReplaceLinks(ctx context.Context, junction string, owners []string, pairs []LinkPair) (int, error)

	// CountRows reports the table's current row count (post-run
	// verification).
	CountRows(ctx context.Context, table string) (int64, error)

	// LoadWatermark returns the stored watermark for a table; ok is false
	// when the table has never completed a sync.
	LoadWatermark(ctx context.Context, table string) (ts time.Time, ok bool, err error)

	// SaveWatermark persists a table's watermark after a successful run.
	SaveWatermark(ctx context.Context, table string, ts time.Time) error
}

// ---- backend registry (kind -> factory) ----

type factory func(ctx context.Context, cfg Config) (Destination, error)

var (
	regMu     sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a destination backend under a kind (e.g. "postgres",
// "sqlite"). Call from an init() in the backend package. Registering the
// same kind twice panics: fail fast rather than pick ambiguously.
func Register(kind string, f factory) {
	regMu.Lock()
	defer regMu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}
	factories[kind] = f
}

// New opens a destination using the registered factory for cfg.Kind.
func New(ctx context.Context, cfg Config) (Destination, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing Kind")
	}

	regMu.RLock()
	f := factories[cfg.Kind]
	regMu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
