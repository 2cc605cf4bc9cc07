package engine

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TableReport summarizes one table's sync within a run.
type TableReport struct {
	Table string `json:"table"`
	Mode  string `json:"mode"`

	Processed int `json:"processed"`
	Inserted  int `json:"inserted"`
	Updated   int `json:"updated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	LinkPairs int `json:"link_pairs"`
	Warnings  int `json:"warnings"`

	// RowCount is the destination row count after the run (post-run
	// verification). -1 when the count could not be taken.
	RowCount int64 `json:"row_count"`

	Duration      time.Duration `json:"duration_ns"`
	RowsPerSecond float64       `json:"rows_per_second"`

	Errors []string `json:"errors,omitempty"`
	Err    error    `json:"-"`
}

// OK reports whether the table synced without a table-fatal error.
// Row-level failures (Failed > 0) do not fail the table.
func (r TableReport) OK() bool { return r.Err == nil }

// Report is the aggregate outcome of one run.
type Report struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`

	// Success is true only when every table succeeded.
	Success bool `json:"success"`

	Tables []TableReport `json:"tables"`
}

// reportCollector is the only shared mutable state among table workers:
// append-only, guarded by one writer lock.
type reportCollector struct {
	mu      sync.Mutex
	tables  []TableReport
	started time.Time
	runID   string
}

func newReportCollector() *reportCollector {
	return &reportCollector{
		runID:   uuid.NewString(),
		started: time.Now(),
	}
}

func (c *reportCollector) add(tr TableReport) {
	c.mu.Lock()
	c.tables = append(c.tables, tr)
	c.mu.Unlock()
}

// finish freezes the collector into the run report. Tables are sorted by
// name so the report is stable regardless of worker scheduling.
func (c *reportCollector) finish() Report {
	c.mu.Lock()
	defer c.mu.Unlock()

	tables := append([]TableReport(nil), c.tables...)
	sort.Slice(tables, func(i, j int) bool { return tables[i].Table < tables[j].Table })

	success := true
	for _, t := range tables {
		if !t.OK() {
			success = false
			break
		}
	}

	return Report{
		RunID:     c.runID,
		StartedAt: c.started,
		Duration:  time.Since(c.started),
		Success:   success,
		Tables:    tables,
	}
}
