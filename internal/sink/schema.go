// Package sink collects the concrete Sink implementations: the columnar
// metadata/sparse-value databases (parquet-go), the metrics definitions
// artifact (yaml.v3), and the distributed-mode packed-blob/raw-tuple
// transports that pair with internal/packed and internal/collective.
package sink

// ModuleRow is one row of meta.db's module table.
type ModuleRow struct {
	ID           int64  `parquet:"id"`
	Path         string `parquet:"path"`
	ResolvedPath string `parquet:"resolved_path,optional"`
}

// FileRow is one row of meta.db's file table.
type FileRow struct {
	ID           int64  `parquet:"id"`
	Path         string `parquet:"path"`
	ResolvedPath string `parquet:"resolved_path,optional"`
}

// ContextRow is one row of meta.db's context table: a flattened view of the
// calling-context tree, one row per Context, referencing its parent by id.
type ContextRow struct {
	ID           int64  `parquet:"id"`
	ParentID     int64  `parquet:"parent_id"`
	Relation     uint8  `parquet:"relation"`
	ScopeKind    uint8  `parquet:"scope_kind"`
	ModuleID     int64  `parquet:"module_id,optional"`
	Offset       uint64 `parquet:"offset,optional"`
	FileID       int64  `parquet:"file_id,optional"`
	Line         uint64 `parquet:"line,optional"`
	FunctionName string `parquet:"function_name,optional"`
}

// MetricRow is one row of meta.db's metric table: one row per Metric, the
// dense id block it was assigned, and its declared Partial count.
type MetricRow struct {
	ID          int64  `parquet:"id"`
	Name        string `parquet:"name"`
	Description string `parquet:"description,optional"`
	Visibility  uint8  `parquet:"visibility"`
	Scopes      uint8  `parquet:"scopes"`
	Partials    int32  `parquet:"partials"`
}

// ExtraStatRow is one row of meta.db's extra-statistic table.
type ExtraStatRow struct {
	Name        string `parquet:"name"`
	Description string `parquet:"description,optional"`
	Scopes      uint8  `parquet:"scopes"`
	Formula     string `parquet:"formula"`
}

// ThreadRow is one row of meta.db's thread table: the flattened identity
// tuple rendered as its Key() string, since parquet rows can't carry a
// variable-length struct slice per cell without a nested schema this
// database doesn't otherwise need.
type ThreadRow struct {
	ID       int64  `parquet:"id"`
	Identity string `parquet:"identity"`
}

// SparseValueRow is one row of sparse.db: a single (context, thread, metric,
// partial) raw accumulated value. Most (context, metric) pairs are never
// touched by most threads, hence "sparse" — only cells actually written
// during the run get a row.
type SparseValueRow struct {
	ContextID int64   `parquet:"context_id"`
	ThreadID  int64   `parquet:"thread_id"`
	MetricID  int64   `parquet:"metric_id"`
	Partial   int32   `parquet:"partial"`
	Value     float64 `parquet:"value"`
}
