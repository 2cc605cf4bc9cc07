// Package engine drives a sync run: discovery, mapping, dependency-staged
// fetch/transform/load per table, cursor advancement, and the run report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"tablesync/internal/cursor"
	"tablesync/internal/ident"
	"tablesync/internal/metrics"
	"tablesync/internal/schema"
	"tablesync/internal/source"
	"tablesync/internal/storage"
)

// Logger is the minimal logging seam. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, v ...any)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// Source is the slice of the source API the engine needs. The production
// implementation is APISource; tests inject fakes.
type Source interface {
	ListTables(ctx context.Context) ([]source.Table, error)
	FetchRecords(ctx context.Context, tableID string, since *time.Time, fn func([]source.Record) error) error
}

// APISource adapts the HTTP client plus its pacer to the Source seam.
type APISource struct {
	Client *source.Client
	Pacer  *source.Pacer
}

func (a APISource) ListTables(ctx context.Context) ([]source.Table, error) {
	return a.Client.ListTables(ctx)
}

func (a APISource) FetchRecords(ctx context.Context, tableID string, since *time.Time, fn func([]source.Record) error) error {
	return a.Client.FetchRecords(ctx, tableID, since, a.Pacer, fn)
}

// Options configures a run. Zero values get sensible defaults in New.
type Options struct {
	// BatchSize bounds rows per upsert transaction. Default 100.
	BatchSize int

	// Workers bounds table parallelism within a dependency stage.
	// Default 4.
	Workers int

	// ForceFull ignores stored watermarks and pulls every table fully.
	ForceFull bool

	// Overrides pin canonical names; validated against the discovered
	// schema before any fetch.
	Overrides []ident.Override

	// RequiredFields maps canonical table name to source field names
	// whose coercion failure rejects the whole row.
	RequiredFields map[string][]string

	Logger  Logger
	Metrics metrics.Backend
}

// Orchestrator sequences one sync run end to end.
type Orchestrator struct {
	src  Source
	dest storage.Destination
	cur  *cursor.Cursor
	log  Logger
	met  metrics.Backend
	opts Options
}

func New(src Source, dest storage.Destination, opts Options) *Orchestrator {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	return &Orchestrator{
		src:  src,
		dest: dest,
		cur:  cursor.New(dest),
		log:  opts.Logger,
		met:  opts.Metrics,
		opts: opts,
	}
}

// Run executes one sync. The returned error is non-nil only for
// run-fatal setup failures (discovery, override validation, DDL) or
// cancellation; per-table failures land in the report and clear its
// Success flag without erroring the run.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	col := newReportCollector()
	runStart := time.Now()

	o.log.Printf("stage=run_start run_id=%s force_full=%v", col.runID, o.opts.ForceFull)

	tables, err := o.src.ListTables(ctx)
	if err != nil {
		return col.finish(), fmt.Errorf("schema discovery: %w", err)
	}

	mappings, err := schema.Build(tables, o.opts.Overrides)
	if err != nil {
		return col.finish(), fmt.Errorf("resolve mappings: %w", err)
	}
	for _, m := range mappings {
		if req := o.opts.RequiredFields[m.Name]; len(req) > 0 {
			m.MarkRequired(req)
		}
		for _, c := range m.Collisions {
			o.log.Printf("stage=mapping table=%s collision source=%q canonical=%s base=%s",
				m.Name, c.SourceName, c.Canonical, c.Base)
		}
	}

	specs := make([]storage.TableSpec, len(mappings))
	for i, m := range mappings {
		specs[i] = m.Spec()
	}
	if err := o.dest.EnsureTables(ctx, specs); err != nil {
		return col.finish(), fmt.Errorf("ensure tables: %w", err)
	}

	stages := schema.Stages(mappings)
	for i, stage := range stages {
		if ctx.Err() != nil {
			break
		}
		o.log.Printf("stage=run run_id=%s dependency_stage=%d tables=%d", col.runID, i+1, len(stage))
		o.runStage(ctx, stage, col)
	}

	report := col.finish()

	status := "ok"
	if !report.Success {
		status = "error"
	}
	o.met.ObserveHistogram(metrics.RunDurationSeconds, time.Since(runStart).Seconds(), metrics.Labels{"status": status})
	o.log.Printf("stage=run_done run_id=%s success=%v tables=%d duration=%s",
		report.RunID, report.Success, len(report.Tables), report.Duration.Round(time.Millisecond))

	return report, ctx.Err()
}

// runStage syncs one dependency stage with bounded parallelism. Tables in
// a stage have no link relationship among themselves, so order within the
// stage does not matter.
func (o *Orchestrator) runStage(ctx context.Context, stage []*schema.TableMapping, col *reportCollector) {
	workers := o.opts.Workers
	if workers > len(stage) {
		workers = len(stage)
	}

	jobs := make(chan *schema.TableMapping)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range jobs {
				// Cancellation stops starting new tables; the in-flight
				// ones finish their current batch via ctx checks below.
				if ctx.Err() != nil {
					continue
				}
				col.add(o.syncTable(ctx, m))
			}
		}()
	}
	for _, m := range stage {
		jobs <- m
	}
	close(jobs)
	wg.Wait()
}

// syncTable runs one table and retries it once in full mode if advancing
// the watermark would regress; an incremental window over a source whose
// modification clock moved backwards cannot be trusted.
func (o *Orchestrator) syncTable(ctx context.Context, m *schema.TableMapping) TableReport {
	tr := o.syncTableOnce(ctx, m, o.opts.ForceFull)

	var regErr *cursor.WatermarkRegressionError
	if errors.As(tr.Err, &regErr) && tr.Mode != cursor.Full.String() {
		o.log.Printf("stage=sync table=%s watermark_regression stored=%s proposed=%s action=full_resync",
			m.Name, regErr.Stored.Format(time.RFC3339), regErr.Proposed.Format(time.RFC3339))
		tr = o.syncTableOnce(ctx, m, true)
	}
	return tr
}

func (o *Orchestrator) syncTableOnce(ctx context.Context, m *schema.TableMapping, forceFull bool) TableReport {
	start := time.Now()
	tr := TableReport{Table: m.Name, RowCount: -1}

	fail := func(err error) TableReport {
		tr.Err = err
		tr.Errors = append(tr.Errors, err.Error())
		tr.Duration = time.Since(start)
		o.met.ObserveHistogram(metrics.TableDurationSeconds, tr.Duration.Seconds(),
			metrics.Labels{"table": m.Name, "status": "error"})
		o.log.Printf("stage=sync table=%s status=error err=%v", m.Name, err)
		return tr
	}

	plan, err := o.cur.Resolve(ctx, m.Name, forceFull)
	if err != nil {
		return fail(err)
	}
	tr.Mode = plan.Mode.String()

	if err := o.checkDrift(ctx, m); err != nil {
		return fail(err)
	}

	o.log.Printf("stage=sync table=%s mode=%s since=%s", m.Name, plan.Mode, sinceLabel(plan.Since))

	st := &tableState{
		columns: m.ScalarColumns(),
		links:   make(map[string][]storage.LinkPair),
	}

	err = o.src.FetchRecords(ctx, m.SourceTableID, plan.Since, func(page []source.Record) error {
		for _, rec := range page {
			tr.Processed++
			tt := transformRecord(m, rec)

			tr.Errors = append(tr.Errors, tt.errs...)
			tr.Warnings += len(tt.warnings)
			for _, w := range tt.warnings {
				o.met.IncCounter(metrics.WarningsTotal, 1, metrics.Labels{"table": m.Name, "kind": w.Kind})
			}
			if len(tt.errs) > 0 {
				o.met.IncCounter(metrics.CoercionFailuresTotal, float64(len(tt.errs)), metrics.Labels{"table": m.Name})
			}
			if tt.failed {
				tr.Failed++
				continue
			}

			st.add(tt)
			if rec.ModifiedTime.After(st.maxModified) {
				st.maxModified = rec.ModifiedTime
			}
			if len(st.pending) >= o.opts.BatchSize {
				if err := o.flushBatch(ctx, m, st, &tr); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		var rlErr *source.RateLimitError
		if errors.As(err, &rlErr) {
			o.met.IncCounter(metrics.HTTPRequestsTotal, 1, metrics.Labels{"status": "429"})
		}
		return fail(fmt.Errorf("fetch %s: %w", m.Name, err))
	}

	if err := o.flushBatch(ctx, m, st, &tr); err != nil {
		return fail(err)
	}

	if err := o.loadLinks(ctx, m, st, &tr); err != nil {
		return fail(err)
	}

	if err := o.cur.Commit(ctx, m.Name, st.maxModified); err != nil {
		return fail(err)
	}

	if n, err := o.dest.CountRows(ctx, m.Name); err == nil {
		tr.RowCount = n
	} else {
		o.log.Printf("stage=verify table=%s count_failed err=%v", m.Name, err)
	}

	tr.Duration = time.Since(start)
	if secs := tr.Duration.Seconds(); secs > 0 {
		tr.RowsPerSecond = float64(tr.Processed) / secs
	}

	o.met.IncCounter(metrics.RowsTotal, float64(tr.Inserted), metrics.Labels{"table": m.Name, "outcome": "inserted"})
	o.met.IncCounter(metrics.RowsTotal, float64(tr.Updated), metrics.Labels{"table": m.Name, "outcome": "updated"})
	o.met.IncCounter(metrics.RowsTotal, float64(tr.Skipped), metrics.Labels{"table": m.Name, "outcome": "skipped"})
	o.met.IncCounter(metrics.LinksTotal, float64(tr.LinkPairs), metrics.Labels{"table": m.Name})
	o.met.ObserveHistogram(metrics.TableDurationSeconds, tr.Duration.Seconds(),
		metrics.Labels{"table": m.Name, "status": "ok"})

	o.log.Printf("stage=sync table=%s status=ok mode=%s processed=%d inserted=%d updated=%d skipped=%d failed=%d links=%d rows=%d duration=%s",
		m.Name, tr.Mode, tr.Processed, tr.Inserted, tr.Updated, tr.Skipped, tr.Failed, tr.LinkPairs, tr.RowCount,
		tr.Duration.Round(time.Millisecond))

	return tr
}

// checkDrift verifies every mapped scalar column exists in the
// destination before anything is written.
func (o *Orchestrator) checkDrift(ctx context.Context, m *schema.TableMapping) error {
	cols, err := o.dest.Columns(ctx, m.Name)
	if err != nil {
		return fmt.Errorf("catalog %s: %w", m.Name, err)
	}
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c] = true
	}

	var missing []string
	for _, c := range m.ScalarColumns() {
		if !have[c] {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return &SchemaDriftError{Table: m.Name, Missing: missing}
	}
	return nil
}

// tableState accumulates one table's in-flight batch and link fan-out.
type tableState struct {
	columns     []string
	pending     []storage.Row
	links       map[string][]storage.LinkPair
	owners      []string
	maxModified time.Time
	batchNo     int
}

func (st *tableState) add(tt transformed) {
	st.pending = append(st.pending, tt.row)
	st.owners = append(st.owners, tt.row.ExternalID)
	for junction, pairs := range tt.links {
		st.links[junction] = append(st.links[junction], pairs...)
	}
}

// flushBatch commits the pending rows in one transaction, retrying once
// before declaring the table dead. Duplicate external ids within a batch
// collapse to the last occurrence: a single transaction must not touch
// the same row twice.
func (o *Orchestrator) flushBatch(ctx context.Context, m *schema.TableMapping, st *tableState, tr *TableReport) error {
	if len(st.pending) == 0 {
		return nil
	}
	st.batchNo++
	rows := dedupeRows(st.pending)
	st.pending = st.pending[:0]

	stats, err := o.dest.UpsertRows(ctx, m.Name, st.columns, rows)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		o.log.Printf("stage=load table=%s batch=%d retry err=%v", m.Name, st.batchNo, err)
		stats, err = o.dest.UpsertRows(ctx, m.Name, st.columns, rows)
		if err != nil {
			return &TransactionError{Table: m.Name, Batch: st.batchNo, Err: err}
		}
	}

	tr.Inserted += stats.Inserted
	tr.Updated += stats.Updated
	tr.Skipped += stats.Skipped
	return nil
}

// loadLinks replaces junction pairs for every record seen this run. A
// fetched record whose link array shrank or emptied gets its stale pairs
// cleared even though it contributed none.
func (o *Orchestrator) loadLinks(ctx context.Context, m *schema.TableMapping, st *tableState, tr *TableReport) error {
	if len(st.owners) == 0 {
		return nil
	}

	junctions := make([]string, 0, len(m.LinkFields()))
	for _, f := range m.LinkFields() {
		junctions = append(junctions, m.JunctionTable(f))
	}
	sort.Strings(junctions)

	owners := dedupeStrings(st.owners)
	for _, j := range junctions {
		n, err := o.dest.ReplaceLinks(ctx, j, owners, st.links[j])
		if err != nil {
			return fmt.Errorf("load links %s: %w", j, err)
		}
		tr.LinkPairs += n
	}
	return nil
}

// dedupeRows keeps the last occurrence per external id, preserving
// first-seen order.
func dedupeRows(rows []storage.Row) []storage.Row {
	idx := make(map[string]int, len(rows))
	out := rows[:0:0]
	for _, r := range rows {
		if i, seen := idx[r.ExternalID]; seen {
			out[i] = r
			continue
		}
		idx[r.ExternalID] = len(out)
		out = append(out, r)
	}
	return out
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func sinceLabel(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
