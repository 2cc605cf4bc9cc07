// Package cursor tracks per-table sync progress. A table starts out never
// synced, gets one full pull, and from then on pulls incrementally from
// its stored watermark. The watermark lives in the destination's
// sync_state table so it commits against the same store as the data it
// covers.
package cursor

import (
	"context"
	"fmt"
	"time"
)

// Mode is the fetch strategy chosen for a table in this run.
type Mode int

const (
	// Full pulls every record. Chosen for never-synced tables and forced
	// resyncs.
	Full Mode = iota
	// Incremental pulls only records modified after the stored watermark.
	Incremental
)

func (m Mode) String() string {
	if m == Incremental {
		return "incremental"
	}
	return "full"
}

// Plan is the resolved fetch strategy for one table. Since is nil for a
// full pull.
type Plan struct {
	Mode  Mode
	Since *time.Time
}

// Store is the watermark persistence the cursor needs from the
// destination.
type Store interface {
	LoadWatermark(ctx context.Context, table string) (ts time.Time, ok bool, err error)
	SaveWatermark(ctx context.Context, table string, ts time.Time) error
}

// WatermarkRegressionError reports an attempt to move a table's watermark
// backwards. The stored value is left untouched; the caller should force
// a full resync of the table rather than silently narrow its window.
type WatermarkRegressionError struct {
	Table    string
	Stored   time.Time
	Proposed time.Time
}

func (e *WatermarkRegressionError) Error() string {
	return fmt.Sprintf("watermark regression for table %s: stored %s, proposed %s",
		e.Table, e.Stored.UTC().Format(time.RFC3339), e.Proposed.UTC().Format(time.RFC3339))
}

// Cursor resolves and advances per-table watermarks through a Store.
type Cursor struct {
	store Store
}

func New(store Store) *Cursor {
	return &Cursor{store: store}
}

// Resolve picks the fetch plan for a table. forceFull overrides a stored
// watermark without clearing it; the watermark is replaced only when the
// run commits.
func (c *Cursor) Resolve(ctx context.Context, table string, forceFull bool) (Plan, error) {
	wm, ok, err := c.store.LoadWatermark(ctx, table)
	if err != nil {
		return Plan{}, fmt.Errorf("resolve cursor for %s: %w", table, err)
	}
	if !ok || forceFull {
		return Plan{Mode: Full}, nil
	}
	return Plan{Mode: Incremental, Since: &wm}, nil
}

// Commit advances the table's watermark after a successful sync. observed
// is the maximum record modification time the run committed; a zero value
// means no records were seen and the watermark is left as is.
//
// Moving backwards is refused with WatermarkRegressionError and the
// stored value stands. An equal value is re-saved: it is harmless and
// keeps sync_state.updated_at honest about the last completed run.
func (c *Cursor) Commit(ctx context.Context, table string, observed time.Time) error {
	if observed.IsZero() {
		return nil
	}

	stored, ok, err := c.store.LoadWatermark(ctx, table)
	if err != nil {
		return fmt.Errorf("commit cursor for %s: %w", table, err)
	}
	if ok && observed.Before(stored) {
		return &WatermarkRegressionError{Table: table, Stored: stored, Proposed: observed}
	}

	if err := c.store.SaveWatermark(ctx, table, observed.UTC()); err != nil {
		return fmt.Errorf("commit cursor for %s: %w", table, err)
	}
	return nil
}
