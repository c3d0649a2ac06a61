package model

// TableWriter is the external collaborator that turns classified rows into
// persisted storage. The per-table agent calls through this interface; no
// relational backend is implemented in this module (see Non-goals), but a
// CSV-backed reference implementation is provided for tests.
type TableWriter interface {
	// Prepare is called once per TableDescription before any row is
	// written, and must honor Disposition (AsIs/Truncate/CreateNew).
	Prepare(table *TableDescription) error

	// WriteRow appends one parsed row to table. Implementations must be
	// safe for concurrent use by up to TableDescription.Concurrency
	// callers.
	WriteRow(table *TableDescription, row []string) error

	// Close flushes and releases any resources held for table.
	Close(table *TableDescription) error
}
