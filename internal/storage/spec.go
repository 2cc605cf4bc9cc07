// TableSpec types live here so the engine and every backend can import
// them without circular deps.
package storage

// Bookkeeping columns every data table carries in addition to its mapped
// columns. ExternalIDColumn is the upsert key.
const (
	ExternalIDColumn = "external_record_id"
	SyncedAtColumn   = "synced_at"
	UpdatedAtColumn  = "updated_at"
)

// SyncStateTable persists per-table watermarks in the destination, so a
// watermark commits only after the data it covers.
const SyncStateTable = "sync_state"

// TableSpec describes one destination data table plus its junction tables.
type TableSpec struct {
	Name      string
	Columns   []ColumnSpec
	Junctions []string // junction table names for the table's link fields
}

// ColumnSpec is one mapped data column. Type uses Postgres spellings
// ("text", "bigint", "numeric(5,3)", "timestamptz"); backends translate
// where their dialect differs.
type ColumnSpec struct {
	Name string
	Type string
}
