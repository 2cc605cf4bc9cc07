// Package metrics is the instrumentation seam for the sync engine. The
// engine records counters and histograms against the Backend interface
// only; concrete exporters live in subpackages so the core never imports
// vendor SDKs.
package metrics

// Labels are low-cardinality metric dimensions (table name, outcome,
// HTTP status class). Never put record ids or raw values in labels.
type Labels map[string]string

// Backend receives metric observations. Implementations must be safe for
// concurrent use; the engine calls from worker goroutines.
type Backend interface {
	// IncCounter adds delta to a monotonic counter. Non-positive deltas
	// are ignored.
	IncCounter(name string, delta float64, labels Labels)

	// ObserveHistogram records one sample of a distribution (seconds,
	// rows per batch). Negative values are ignored.
	ObserveHistogram(name string, value float64, labels Labels)

	// Flush submits buffered observations. Safe to call concurrently
	// with recording.
	Flush() error

	// Close stops background flushing and submits one final batch.
	Close() error
}

// Metric names recorded by the engine. Exporters may rename on the wire
// but key their buffers off these.
const (
	// RowsTotal counts destination row outcomes. Labels: table,
	// outcome (inserted|updated|skipped).
	RowsTotal = "sync_rows_total"

	// LinksTotal counts junction pairs written. Labels: table.
	LinksTotal = "sync_links_total"

	// CoercionFailuresTotal counts values that failed coercion and
	// errored the run. Labels: table, class.
	CoercionFailuresTotal = "sync_coercion_failures_total"

	// WarningsTotal counts recorded non-fatal warnings. Labels: table,
	// kind (percent_clamp|date_parse).
	WarningsTotal = "sync_warnings_total"

	// HTTPRequestsTotal counts source API requests. Labels: status.
	HTTPRequestsTotal = "sync_http_requests_total"

	// TableDurationSeconds is the wall time to sync one table. Labels:
	// table, status (ok|error).
	TableDurationSeconds = "sync_table_duration_seconds"

	// RunDurationSeconds is the wall time of the whole run. Labels:
	// status.
	RunDurationSeconds = "sync_run_duration_seconds"
)

// Nop discards everything. Used when no exporter is configured so the
// engine never nil-checks its backend.
type Nop struct{}

func (Nop) IncCounter(string, float64, Labels)       {}
func (Nop) ObserveHistogram(string, float64, Labels) {}
func (Nop) Flush() error                             { return nil }
func (Nop) Close() error                             { return nil }

var _ Backend = Nop{}
